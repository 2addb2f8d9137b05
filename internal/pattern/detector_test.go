package pattern

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akalavre/panicswap-production-sub000/internal/classify"
	"github.com/akalavre/panicswap-production-sub000/internal/honeypot"
	"github.com/akalavre/panicswap-production-sub000/internal/snapshot"
	"github.com/akalavre/panicswap-production-sub000/internal/sources"
	"github.com/akalavre/panicswap-production-sub000/internal/velocity"
)

type fixture struct {
	detector  *Detector
	history   *snapshot.History
	evolution *honeypot.Tracker
	sells     *sources.StubSells
	dev       *sources.StubDevActivity
	relations *sources.StubRelations
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	history := snapshot.NewHistory(snapshot.DefaultHistoryConfig())
	hpCfg := honeypot.DefaultTrackerConfig()
	hpCfg.SampleGapMin = 0
	evolution := honeypot.NewTracker(hpCfg)
	sells := sources.NewStubSells()
	dev := sources.NewStubDevActivity()
	relations := sources.NewStubRelations(false)

	detector := NewDetector(
		DefaultConfig(),
		history,
		velocity.NewCalculator(history),
		classify.NewClassifier(classify.DefaultThresholds()),
		evolution,
		sells,
		dev,
		relations,
	)
	return &fixture{
		detector:  detector,
		history:   history,
		evolution: evolution,
		sells:     sells,
		dev:       dev,
		relations: relations,
	}
}

func (f *fixture) seedLiquidity(tokenID string, offsets []time.Duration, liq []float64) {
	now := time.Now()
	for i := range offsets {
		f.history.Append(tokenID, snapshot.LiquiditySnapshot{
			TokenID:      tokenID,
			Timestamp:    now.Add(offsets[i]),
			LiquidityUSD: liq[i],
			Price:        1,
			Volume24h:    1000,
			HolderCount:  100,
		})
	}
}

func findPattern(patterns []RugPattern, pt PatternType) (RugPattern, bool) {
	for _, p := range patterns {
		if p.Type == pt {
			return p, true
		}
	}
	return RugPattern{}, false
}

func sell(ago time.Duration, wallet string, usd float64, success bool) sources.SellTransaction {
	return sources.SellTransaction{
		Success:       success,
		Timestamp:     time.Now().Add(-ago),
		AmountUSD:     decimal.NewFromFloat(usd),
		WalletAddress: wallet,
	}
}

func TestDetect_QuietTokenHasNoPatterns(t *testing.T) {
	f := newFixture(t)
	f.seedLiquidity("tok",
		[]time.Duration{-30 * time.Second, -20 * time.Second, -10 * time.Second, 0},
		[]float64{1000, 1000, 1000, 1000})

	patterns := f.detector.Detect(context.Background(), "tok")
	assert.Empty(t, patterns)
}

func TestDetect_FlashRug(t *testing.T) {
	f := newFixture(t)
	// 80% of liquidity gone within 20 seconds.
	f.seedLiquidity("tok",
		[]time.Duration{-20 * time.Second, -10 * time.Second, 0},
		[]float64{1000, 900, 200})

	patterns := f.detector.Detect(context.Background(), "tok")
	p, ok := findPattern(patterns, TypeFlashRug)
	require.True(t, ok)
	assert.Equal(t, 0.95, p.Confidence)
	assert.Equal(t, SeverityCritical, p.Severity)
	require.NotEmpty(t, p.Indicators)
}

func TestDetect_RapidDrainConfidence(t *testing.T) {
	f := newFixture(t)
	// Stable for five minutes, then a 31% drop over the last 30s. Fast
	// enough for rapid drain, too slow for any flash-rug trigger.
	f.seedLiquidity("tok",
		[]time.Duration{
			-5 * time.Minute, -4 * time.Minute, -3 * time.Minute,
			-2 * time.Minute, -1 * time.Minute, -30 * time.Second,
			-20 * time.Second, -10 * time.Second, 0,
		},
		[]float64{700, 700, 700, 700, 700, 700, 640, 560, 480})

	patterns := f.detector.Detect(context.Background(), "tok")
	p, ok := findPattern(patterns, TypeFlashRug)
	require.True(t, ok)
	assert.Equal(t, 0.8, p.Confidence)
	assert.Equal(t, SeverityHigh, p.Severity)
}

func TestDetect_HoneypotEvolution(t *testing.T) {
	f := newFixture(t)
	for _, rate := range []float64{0.05, 0.2, 0.3, 0.4} {
		f.evolution.Record("tok", rate)
	}

	patterns := f.detector.Detect(context.Background(), "tok")
	p, ok := findPattern(patterns, TypeHoneypotEvolving)
	require.True(t, ok)
	// 0.5 + recent rate 0.4, below the 0.95 cap.
	assert.InDelta(t, 0.9, p.Confidence, 1e-9)
	assert.Equal(t, SeverityMedium, p.Severity)
}

func TestDetect_HoneypotConfidenceCapped(t *testing.T) {
	f := newFixture(t)
	for _, rate := range []float64{0.2, 0.5, 0.8, 1.0} {
		f.evolution.Record("tok", rate)
	}

	patterns := f.detector.Detect(context.Background(), "tok")
	p, ok := findPattern(patterns, TypeHoneypotEvolving)
	require.True(t, ok)
	assert.Equal(t, 0.95, p.Confidence)
	assert.Equal(t, SeverityCritical, p.Severity)
}

func TestDetect_HoneypotRecordsFailureRateFromSells(t *testing.T) {
	f := newFixture(t)
	f.sells.Add("tok",
		sell(10*time.Minute, "w1", 50, true),
		sell(8*time.Minute, "w2", 50, false),
		sell(5*time.Minute, "w3", 50, false),
		sell(2*time.Minute, "w4", 50, false),
	)

	f.detector.Detect(context.Background(), "tok")

	stats := f.evolution.Stats()
	assert.Equal(t, int64(1), stats.Recorded)
}

func TestDetect_CoordinatedDump_UnrelatedWallets(t *testing.T) {
	f := newFixture(t)
	f.sells.Add("tok",
		sell(4*time.Minute, "w1", 2000, true),
		sell(3*time.Minute, "w2", 1500, true),
		sell(1*time.Minute, "w3", 1200, true),
	)

	patterns := f.detector.Detect(context.Background(), "tok")
	p, ok := findPattern(patterns, TypeCoordinatedDump)
	require.True(t, ok)
	assert.Equal(t, 0.7, p.Confidence)
	assert.Equal(t, SeverityHigh, p.Severity)
	assert.Equal(t, 15, p.EstimatedTimeToRugMinutes)
}

func TestDetect_CoordinatedDump_RelatedWallets(t *testing.T) {
	f := newFixture(t)
	f.relations.SetRelated(true)
	f.sells.Add("tok",
		sell(4*time.Minute, "w1", 2000, true),
		sell(3*time.Minute, "w2", 1500, true),
		sell(1*time.Minute, "w3", 1200, true),
	)

	patterns := f.detector.Detect(context.Background(), "tok")
	p, ok := findPattern(patterns, TypeCoordinatedDump)
	require.True(t, ok)
	assert.Equal(t, 0.9, p.Confidence)
}

func TestDetect_CoordinatedDump_CriticalVolume(t *testing.T) {
	f := newFixture(t)
	f.sells.Add("tok",
		sell(4*time.Minute, "w1", 6000, true),
		sell(3*time.Minute, "w2", 5000, true),
		sell(1*time.Minute, "w3", 4000, true),
	)

	patterns := f.detector.Detect(context.Background(), "tok")
	p, ok := findPattern(patterns, TypeCoordinatedDump)
	require.True(t, ok)
	assert.Equal(t, SeverityCritical, p.Severity)
}

func TestDetect_CoordinatedDump_SmallSellsIgnored(t *testing.T) {
	f := newFixture(t)
	// Large volume but below the per-sell floor, and too few large wallets.
	f.sells.Add("tok",
		sell(4*time.Minute, "w1", 500, true),
		sell(3*time.Minute, "w2", 500, true),
		sell(2*time.Minute, "w3", 500, true),
		sell(1*time.Minute, "w4", 2000, true),
	)

	patterns := f.detector.Detect(context.Background(), "tok")
	_, ok := findPattern(patterns, TypeCoordinatedDump)
	assert.False(t, ok)
}

func TestDetect_CoordinatedDump_DedupesWallets(t *testing.T) {
	f := newFixture(t)
	// One whale selling three times is not coordination.
	f.sells.Add("tok",
		sell(4*time.Minute, "whale", 2000, true),
		sell(3*time.Minute, "whale", 2000, true),
		sell(1*time.Minute, "whale", 2000, true),
	)

	patterns := f.detector.Detect(context.Background(), "tok")
	_, ok := findPattern(patterns, TypeCoordinatedDump)
	assert.False(t, ok)
}

func TestDetect_DevPreparation_AllSignals(t *testing.T) {
	f := newFixture(t)
	f.dev.Activity1h["tok"] = 50
	f.dev.Activity24h["tok"] = 10
	f.dev.NewWallets["tok"] = []string{"fresh1", "fresh2"}
	f.dev.ExchangeMovement["tok"] = true

	patterns := f.detector.Detect(context.Background(), "tok")
	p, ok := findPattern(patterns, TypeDevPreparation)
	require.True(t, ok)
	// 0.3 + 0.2 + 0.2 + 0.3 = 1.0, capped at 0.9.
	assert.Equal(t, 0.9, p.Confidence)
	assert.Equal(t, SeverityHigh, p.Severity)
	assert.Equal(t, 60, p.EstimatedTimeToRugMinutes)
	assert.Len(t, p.Indicators, 4)
}

func TestDetect_DevPreparation_SingleSignal(t *testing.T) {
	f := newFixture(t)
	f.dev.ExchangeMovement["tok"] = true

	patterns := f.detector.Detect(context.Background(), "tok")
	p, ok := findPattern(patterns, TypeDevPreparation)
	require.True(t, ok)
	assert.InDelta(t, 0.3, p.Confidence, 1e-9)
	assert.Equal(t, SeverityMedium, p.Severity)
}

func TestDetect_DevPreparation_QuietDev(t *testing.T) {
	f := newFixture(t)
	f.dev.Activity1h["tok"] = 5
	f.dev.Activity24h["tok"] = 5

	patterns := f.detector.Detect(context.Background(), "tok")
	_, ok := findPattern(patterns, TypeDevPreparation)
	assert.False(t, ok)
}
