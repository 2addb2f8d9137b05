package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akalavre/panicswap-production-sub000/internal/alerts"
	"github.com/akalavre/panicswap-production-sub000/internal/bus"
	"github.com/akalavre/panicswap-production-sub000/internal/classify"
	"github.com/akalavre/panicswap-production-sub000/internal/honeypot"
	"github.com/akalavre/panicswap-production-sub000/internal/pattern"
	"github.com/akalavre/panicswap-production-sub000/internal/risk"
	"github.com/akalavre/panicswap-production-sub000/internal/snapshot"
	"github.com/akalavre/panicswap-production-sub000/internal/sources"
	"github.com/akalavre/panicswap-production-sub000/internal/velocity"
)

type captureDispatcher struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (d *captureDispatcher) SendAlert(_ context.Context, alert alerts.Alert) {
	d.mu.Lock()
	d.alerts = append(d.alerts, alert)
	d.mu.Unlock()
}

func (d *captureDispatcher) byKind(kind string) []alerts.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []alerts.Alert
	for _, a := range d.alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

type captureVelocityStore struct {
	mu     sync.Mutex
	stored []velocity.VelocityData
}

func (s *captureVelocityStore) StoreVelocitySnapshot(_ context.Context, v velocity.VelocityData) error {
	s.mu.Lock()
	s.stored = append(s.stored, v)
	s.mu.Unlock()
	return nil
}

type engineFixture struct {
	engine     *Engine
	metrics    *sources.StubMetrics
	lifecycle  *sources.StubLifecycle
	history    *snapshot.History
	sink       *bus.ChannelSink
	dispatcher *captureDispatcher
	store      *captureVelocityStore
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	metrics := sources.NewStubMetrics()
	lifecycle := sources.NewStubLifecycle()
	history := snapshot.NewHistory(snapshot.DefaultHistoryConfig())
	calculator := velocity.NewCalculator(history)
	classifier := classify.NewClassifier(classify.DefaultThresholds())
	evolution := honeypot.NewTracker(honeypot.DefaultTrackerConfig())
	sink := bus.NewChannelSink(64)
	dispatcher := &captureDispatcher{}
	store := &captureVelocityStore{}

	detector := pattern.NewDetector(
		pattern.DefaultConfig(),
		history,
		calculator,
		classifier,
		evolution,
		sources.NewStubSells(),
		sources.NewStubDevActivity(),
		sources.NewStubRelations(false),
	)
	aggregator := risk.NewAggregator(risk.DefaultConfig(), detector, sink, dispatcher, nil)

	engine := NewEngine(
		DefaultConfig(),
		snapshot.NewCollector(metrics, "stub"),
		history,
		calculator,
		classifier,
		evolution,
		aggregator,
		lifecycle,
		sink,
		dispatcher,
		store,
	)

	return &engineFixture{
		engine:     engine,
		metrics:    metrics,
		lifecycle:  lifecycle,
		history:    history,
		sink:       sink,
		dispatcher: dispatcher,
		store:      store,
	}
}

func (f *engineFixture) drainEvents() []bus.Event {
	var out []bus.Event
	for {
		select {
		case ev := <-f.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (f *engineFixture) cycle(t *testing.T, tokenID string) {
	t.Helper()
	f.engine.mu.RLock()
	st, ok := f.engine.tokens[tokenID]
	f.engine.mu.RUnlock()
	require.True(t, ok, "token %s not tracked", tokenID)
	f.engine.updateCycle(context.Background(), st)
}

func TestValidateTokenID(t *testing.T) {
	assert.Error(t, validateTokenID(""))
	assert.Error(t, validateTokenID("has space"))
	assert.Error(t, validateTokenID(string(make([]byte, 200))))
	assert.NoError(t, validateTokenID("So11111111111111111111111111111111111111112"))
}

func TestTrackToken_RequiresStart(t *testing.T) {
	f := newEngineFixture(t)
	err := f.engine.TrackToken(context.Background(), "tok", "")
	assert.ErrorContains(t, err, "not started")
}

func TestTrackToken_Lifecycle(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Start(context.Background())
	defer f.engine.Stop()

	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 1000, Price: 1})

	require.NoError(t, f.engine.TrackToken(context.Background(), "tok", ""))
	assert.True(t, f.engine.IsTracked("tok"))
	assert.Equal(t, []string{"tok"}, f.engine.TrackedTokens())

	// First snapshot is taken synchronously.
	snaps := f.history.Get("tok")
	require.Len(t, snaps, 1)
	assert.Equal(t, 1000.0, snaps[0].LiquidityUSD)

	// Double-tracking is an error, not a silent restart.
	err := f.engine.TrackToken(context.Background(), "tok", "")
	assert.ErrorContains(t, err, "already tracked")

	f.engine.StopTracking("tok")
	assert.False(t, f.engine.IsTracked("tok"))
	assert.Empty(t, f.history.Get("tok"))

	// Untracking twice is a no-op.
	f.engine.StopTracking("tok")
}

func TestTrackToken_InvalidInputs(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Start(context.Background())
	defer f.engine.Stop()

	assert.Error(t, f.engine.TrackToken(context.Background(), "", ""))
	assert.Error(t, f.engine.TrackToken(context.Background(), "tok", classify.RiskLevel("extreme")))
}

func TestTrackToken_InitialRiskSeedsInterval(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Start(context.Background())
	defer f.engine.Stop()

	require.NoError(t, f.engine.TrackToken(context.Background(), "hot", classify.RiskCritical))
	f.engine.mu.RLock()
	interval := f.engine.tokens["hot"].interval
	f.engine.mu.RUnlock()
	assert.Equal(t, 5*time.Second, interval)

	level, ok := f.engine.RiskLevel("hot")
	require.True(t, ok)
	assert.Equal(t, classify.RiskCritical, level)
}

func TestIntervalFor(t *testing.T) {
	f := newEngineFixture(t)

	assert.Equal(t, 5*time.Second, f.engine.intervalFor(classify.RiskCritical))
	assert.Equal(t, 10*time.Second, f.engine.intervalFor(classify.RiskHigh))
	assert.Equal(t, 15*time.Second, f.engine.intervalFor(classify.RiskMedium))
	assert.Equal(t, 30*time.Second, f.engine.intervalFor(classify.RiskLow))
	assert.Equal(t, 30*time.Second, f.engine.intervalFor(""))
}

func TestUpdateCycle_ReschedulesOnRiskChange(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Start(context.Background())
	defer f.engine.Stop()

	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 1000, Price: 1})
	require.NoError(t, f.engine.TrackToken(context.Background(), "tok", ""))

	// Flat liquidity classifies LOW.
	f.cycle(t, "tok")
	level, _ := f.engine.RiskLevel("tok")
	assert.Equal(t, classify.RiskLow, level)

	// Collapse to 20% forces CRITICAL and the 5s cadence.
	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 200, Price: 1})
	f.cycle(t, "tok")

	level, _ = f.engine.RiskLevel("tok")
	assert.Equal(t, classify.RiskCritical, level)
	f.engine.mu.RLock()
	interval := f.engine.tokens["tok"].interval
	f.engine.mu.RUnlock()
	assert.Equal(t, 5*time.Second, interval)
}

func TestUpdateCycle_StoresVelocity(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Start(context.Background())
	defer f.engine.Stop()

	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 1000})
	require.NoError(t, f.engine.TrackToken(context.Background(), "tok", ""))
	f.cycle(t, "tok")

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.Len(t, f.store.stored, 1)
	assert.Equal(t, "tok", f.store.stored[0].TokenID)
}

func TestUpdateCycle_SkipsWhenInFlight(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Start(context.Background())
	defer f.engine.Stop()

	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 1000})
	require.NoError(t, f.engine.TrackToken(context.Background(), "tok", ""))

	f.engine.mu.RLock()
	st := f.engine.tokens["tok"]
	f.engine.mu.RUnlock()

	st.inFlight.Store(true)
	next := f.engine.updateCycle(context.Background(), st)
	assert.Equal(t, time.Duration(0), next)
	assert.Equal(t, int64(1), f.engine.Stats().SkippedCycles)
	st.inFlight.Store(false)
}

func TestUpdateCycle_FlashRugEmitsOncePerEpisode(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Start(context.Background())
	defer f.engine.Stop()

	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 1000, Price: 1})
	require.NoError(t, f.engine.TrackToken(context.Background(), "tok", ""))
	f.drainEvents()

	// 80% collapse raises the flash-rug flag.
	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 200, Price: 1})
	f.cycle(t, "tok")
	// Still collapsed on the next cycle: same episode, no second event.
	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 190, Price: 1})
	f.cycle(t, "tok")

	flashEvents := 0
	for _, ev := range f.drainEvents() {
		if ev.EventName() == "flash-rug" {
			flashEvents++
			assert.Equal(t, "tok", ev.Token())
		}
	}
	assert.Equal(t, 1, flashEvents)
	assert.Len(t, f.dispatcher.byKind("flash-rug"), 1)
}

func TestRugDetection_TerminatesTracking(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Start(context.Background())
	defer f.engine.Stop()

	f.lifecycle.SetAge("tok", time.Hour)
	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 1000, Price: 1})
	require.NoError(t, f.engine.TrackToken(context.Background(), "tok", ""))
	f.drainEvents()

	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 2, Price: 0.001})
	f.cycle(t, "tok")

	assert.False(t, f.engine.IsTracked("tok"))
	assert.Equal(t, int64(1), f.engine.Stats().RuggedTotal)
	assert.Empty(t, f.history.Get("tok"))

	rugged := 0
	for _, ev := range f.drainEvents() {
		if ev.EventName() == "token-rugged" {
			rugged++
			tr, ok := ev.(bus.TokenRugged)
			require.True(t, ok)
			assert.Equal(t, 2.0, tr.FinalLiquidityUSD)
		}
	}
	assert.Equal(t, 1, rugged)
	assert.Len(t, f.dispatcher.byKind("token-rugged"), 1)
}

func TestMarkRugged_ExactlyOnce(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Start(context.Background())
	defer f.engine.Stop()

	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 1000})
	require.NoError(t, f.engine.TrackToken(context.Background(), "tok", ""))
	f.drainEvents()

	f.engine.markRugged(context.Background(), "tok", 1)
	f.engine.markRugged(context.Background(), "tok", 1)

	assert.Equal(t, int64(1), f.engine.Stats().RuggedTotal)
	events := f.drainEvents()
	assert.Len(t, events, 1)
}

func TestShouldMarkRugged_Guards(t *testing.T) {
	history := snapshot.NewHistory(snapshot.DefaultHistoryConfig())
	lifecycle := sources.NewStubLifecycle()
	m := newLifecycleManager(DefaultConfig(), lifecycle, history)
	ctx := context.Background()

	seed := func(tokenID string, maxLiq float64) {
		history.Append(tokenID, snapshot.LiquiditySnapshot{
			TokenID:      tokenID,
			Timestamp:    time.Now(),
			LiquidityUSD: maxLiq,
		})
	}
	below := snapshot.LiquiditySnapshot{LiquidityUSD: 2}

	// Above the floor: never a rug.
	assert.False(t, m.shouldMarkRugged(ctx, "rich", snapshot.LiquiditySnapshot{LiquidityUSD: 5000}))

	// Newly added tokens are exempt even below the floor.
	seed("new", 1000)
	lifecycle.SetAge("new", time.Hour)
	lifecycle.SetNewlyAdded("new", true)
	assert.False(t, m.shouldMarkRugged(ctx, "new", below))

	// Too young to judge.
	seed("young", 1000)
	lifecycle.SetAge("young", 2*time.Minute)
	assert.False(t, m.shouldMarkRugged(ctx, "young", below))

	// Never held liquidity above the floor: nothing to rug.
	seed("dust", 5)
	lifecycle.SetAge("dust", time.Hour)
	assert.False(t, m.shouldMarkRugged(ctx, "dust", below))

	// Old token that held real liquidity and collapsed: rugged.
	seed("victim", 1000)
	lifecycle.SetAge("victim", time.Hour)
	assert.True(t, m.shouldMarkRugged(ctx, "victim", below))
}

func TestSweepOnce_AnalyzesTrackedTokens(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Start(context.Background())
	defer f.engine.Stop()

	f.metrics.Set("a", sources.StubReading{LiquidityUSD: 1000})
	f.metrics.Set("b", sources.StubReading{LiquidityUSD: 2000})
	require.NoError(t, f.engine.TrackToken(context.Background(), "a", ""))
	require.NoError(t, f.engine.TrackToken(context.Background(), "b", ""))

	f.engine.sweepOnce(context.Background())

	assert.Equal(t, int64(1), f.engine.Stats().SweepsComplete)
	// Every tracked token got a cached analysis out of the sweep.
	_, ok := f.engine.GetAnalysis("a")
	assert.True(t, ok)
	_, ok = f.engine.GetAnalysis("b")
	assert.True(t, ok)
}

func TestStop_Idempotent(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Start(context.Background())
	f.engine.Start(context.Background()) // second start is a no-op

	f.metrics.Set("tok", sources.StubReading{LiquidityUSD: 1000})
	require.NoError(t, f.engine.TrackToken(context.Background(), "tok", ""))

	f.engine.Stop()
	f.engine.Stop() // second stop is a no-op

	err := f.engine.TrackToken(context.Background(), "other", "")
	assert.ErrorContains(t, err, "not started")
}
