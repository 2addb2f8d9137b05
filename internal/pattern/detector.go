package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akalavre/panicswap-production-sub000/internal/classify"
	"github.com/akalavre/panicswap-production-sub000/internal/honeypot"
	"github.com/akalavre/panicswap-production-sub000/internal/snapshot"
	"github.com/akalavre/panicswap-production-sub000/internal/sources"
	"github.com/akalavre/panicswap-production-sub000/internal/velocity"
)

// ---------------------------------------------------------------------------
// Pattern Detector — fuses velocity signals, sell-failure trends, sell
// clustering and dev-wallet behaviour into weighted-confidence rug patterns.
// Runs on its own sweep cadence, independent of per-token polling.
// ---------------------------------------------------------------------------

// Config configures the pattern detector.
type Config struct {
	// Velocity-derived pattern confidence.
	FlashRugBaseConfidence   float64 `yaml:"flash_rug_base_confidence"`   // default 0.95
	RapidDrainBaseConfidence float64 `yaml:"rapid_drain_base_confidence"` // default 0.8
	SlowBleedBaseConfidence  float64 `yaml:"slow_bleed_base_confidence"`  // default 0.7
	PriceDropBonusRate       float64 `yaml:"price_drop_bonus_rate"`       // price5m rate below this adds 0.1 (default -5)

	// Coordinated dump.
	LargeSellUSD     float64 `yaml:"large_sell_usd"`      // minimum large sell (default 1000)
	DumpWindowMin    int     `yaml:"dump_window_min"`     // bucket width (default 5)
	DumpMinWallets   int     `yaml:"dump_min_wallets"`    // unique wallets to trigger (default 3)
	DumpCriticalUSD  float64 `yaml:"dump_critical_usd"`   // bucket volume for critical (default 10000)
	DumpTimeToRugMin int     `yaml:"dump_time_to_rug_min"` // default 15

	// Dev preparation.
	DevActivity1hPct    float64 `yaml:"dev_activity_1h_pct"`    // default 20
	DevBaselineMultiple float64 `yaml:"dev_baseline_multiple"`  // 1h vs 24h (default 2)
	DevMaxConfidence    float64 `yaml:"dev_max_confidence"`     // default 0.9
	DevTimeToRugMin     int     `yaml:"dev_time_to_rug_min"`    // default 60
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FlashRugBaseConfidence:   0.95,
		RapidDrainBaseConfidence: 0.8,
		SlowBleedBaseConfidence:  0.7,
		PriceDropBonusRate:       -5,

		LargeSellUSD:     1000,
		DumpWindowMin:    5,
		DumpMinWallets:   3,
		DumpCriticalUSD:  10000,
		DumpTimeToRugMin: 15,

		DevActivity1hPct:    20,
		DevBaselineMultiple: 2,
		DevMaxConfidence:    0.9,
		DevTimeToRugMin:     60,
	}
}

// Detector computes rug patterns for tracked tokens.
type Detector struct {
	config     Config
	history    *snapshot.History
	calculator *velocity.Calculator
	classifier *classify.Classifier
	evolution  *honeypot.Tracker

	sells     sources.SellTransactionSource
	dev       sources.DevActivitySource
	relations sources.WalletRelationSource
}

// NewDetector creates a pattern detector over the given inputs.
func NewDetector(
	config Config,
	history *snapshot.History,
	calculator *velocity.Calculator,
	classifier *classify.Classifier,
	evolution *honeypot.Tracker,
	sells sources.SellTransactionSource,
	dev sources.DevActivitySource,
	relations sources.WalletRelationSource,
) *Detector {
	return &Detector{
		config:     config,
		history:    history,
		calculator: calculator,
		classifier: classifier,
		evolution:  evolution,
		sells:      sells,
		dev:        dev,
		relations:  relations,
	}
}

// Detect runs every pattern family for a token and returns all that fire.
// Individual detector failures degrade to "no pattern"; one broken
// collaborator never hides the findings of the others.
func (d *Detector) Detect(ctx context.Context, tokenID string) []RugPattern {
	var patterns []RugPattern

	if p, ok := d.detectVelocityPattern(tokenID); ok {
		patterns = append(patterns, p)
	}
	if p, ok := d.detectHoneypotEvolution(ctx, tokenID); ok {
		patterns = append(patterns, p)
	}
	if p, ok := d.detectCoordinatedDump(ctx, tokenID); ok {
		patterns = append(patterns, p)
	}
	if p, ok := d.detectDevPreparation(ctx, tokenID); ok {
		patterns = append(patterns, p)
	}

	if len(patterns) > 0 {
		log.Debug().
			Str("token", tokenID).
			Int("patterns", len(patterns)).
			Msg("pattern: detection fired")
	}
	return patterns
}

// detectVelocityPattern maps the classifier's drain flags to flash_rug /
// slow_bleed patterns with velocity-weighted confidence.
func (d *Detector) detectVelocityPattern(tokenID string) (RugPattern, bool) {
	snaps := d.history.Get(tokenID)
	v := velocity.ComputeFromSnapshots(tokenID, snaps)
	if v == nil {
		return RugPattern{}, false
	}

	res := d.classifier.Classify(v, snaps)
	flags := res.Flags

	var p RugPattern
	switch {
	case flags.FlashRug:
		p = RugPattern{
			Type:       TypeFlashRug,
			Confidence: d.config.FlashRugBaseConfidence,
			Indicators: []string{fmt.Sprintf("flash rug: liquidity 10s %.1f%%, 20s %.1f%%", v.Abs10s.Liquidity, v.Abs20s.Liquidity)},
		}
	case flags.RapidDrain:
		p = RugPattern{
			Type:       TypeFlashRug,
			Confidence: d.config.RapidDrainBaseConfidence,
			Indicators: []string{fmt.Sprintf("rapid drain: liquidity 30s %.1f%%, 1m %.1f%%/min", v.Abs30s.Liquidity, v.Rate1m.Liquidity)},
		}
	case flags.SlowBleed:
		p = RugPattern{
			Type:       TypeSlowBleed,
			Confidence: d.config.SlowBleedBaseConfidence,
			Indicators: []string{"sustained hourly liquidity drain"},
		}
	default:
		return RugPattern{}, false
	}

	if v.Rate5m.Price < d.config.PriceDropBonusRate {
		p.Confidence += 0.1
		p.Indicators = append(p.Indicators, fmt.Sprintf("price falling %.1f%%/min over 5m", v.Rate5m.Price))
	}
	if flags.VolumeSpike {
		p.Confidence += 0.05
		p.Indicators = append(p.Indicators, fmt.Sprintf("volume spike %.1f%%/min over 5m", v.Rate5m.Volume))
	}
	if p.Confidence > 1.0 {
		p.Confidence = 1.0
	}

	switch {
	case p.Confidence >= 0.9:
		p.Severity = SeverityCritical
	case p.Confidence >= 0.7:
		p.Severity = SeverityHigh
	default:
		p.Severity = SeverityMedium
	}
	return p, true
}

// detectHoneypotEvolution samples the last hour's sell-failure rate and
// flags tokens whose failure trend is climbing into honeypot territory.
func (d *Detector) detectHoneypotEvolution(ctx context.Context, tokenID string) (RugPattern, bool) {
	since := time.Now().Add(-time.Hour)
	txs, err := d.sells.ListRecentSells(ctx, tokenID, since)
	if err != nil {
		log.Warn().Err(err).Str("token", tokenID).Msg("pattern: sell history unavailable")
		txs = nil
	}

	if len(txs) > 0 {
		failed := 0
		for _, tx := range txs {
			if !tx.Success {
				failed++
			}
		}
		d.evolution.Record(tokenID, float64(failed)/float64(len(txs)))
	}

	trend, ok := d.evolution.TrendFor(tokenID)
	if !ok || !d.evolution.Evolving(trend) {
		return RugPattern{}, false
	}

	confidence := 0.5 + trend.RecentRate
	if confidence > 0.95 {
		confidence = 0.95
	}

	severity := SeverityMedium
	switch {
	case trend.RecentRate > 0.7:
		severity = SeverityCritical
	case trend.RecentRate > 0.5:
		severity = SeverityHigh
	}

	return RugPattern{
		Type:       TypeHoneypotEvolving,
		Confidence: confidence,
		Severity:   severity,
		Indicators: []string{
			fmt.Sprintf("sell failure rate climbing (slope %.2f/sample over %d samples)", trend.Slope, trend.Samples),
			fmt.Sprintf("last hour failure rate %.0f%%", trend.RecentRate*100),
		},
	}, true
}
