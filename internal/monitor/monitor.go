package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akalavre/panicswap-production-sub000/internal/alerts"
	"github.com/akalavre/panicswap-production-sub000/internal/bus"
	"github.com/akalavre/panicswap-production-sub000/internal/classify"
	"github.com/akalavre/panicswap-production-sub000/internal/honeypot"
	"github.com/akalavre/panicswap-production-sub000/internal/risk"
	"github.com/akalavre/panicswap-production-sub000/internal/snapshot"
	"github.com/akalavre/panicswap-production-sub000/internal/sources"
	"github.com/akalavre/panicswap-production-sub000/internal/velocity"
)

// ---------------------------------------------------------------------------
// Monitor Engine — one adaptive polling loop per tracked token, plus the
// fixed-cadence pattern sweep. The loop's cadence reacts to its own output:
// the riskier the last classification, the faster the next poll.
// ---------------------------------------------------------------------------

// Config configures the monitor engine.
type Config struct {
	// Polling interval table, keyed by risk level.
	IntervalCriticalMs int `yaml:"interval_critical_ms"` // default 5000
	IntervalHighMs     int `yaml:"interval_high_ms"`     // default 10000
	IntervalMediumMs   int `yaml:"interval_medium_ms"`   // default 15000
	IntervalLowMs      int `yaml:"interval_low_ms"`      // default 30000
	IntervalDefaultMs  int `yaml:"interval_default_ms"`  // default 30000

	// Rug lifecycle.
	RugLiquidityFloorUSD float64 `yaml:"rug_liquidity_floor_usd"` // default 10
	RugMinAgeMin         int     `yaml:"rug_min_age_min"`         // default 5

	// Pattern sweep.
	SweepIntervalS   int `yaml:"sweep_interval_s"`  // default 60
	SweepConcurrency int `yaml:"sweep_concurrency"` // default 4
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		IntervalCriticalMs: 5000,
		IntervalHighMs:     10000,
		IntervalMediumMs:   15000,
		IntervalLowMs:      30000,
		IntervalDefaultMs:  30000,

		RugLiquidityFloorUSD: 10,
		RugMinAgeMin:         5,

		SweepIntervalS:   60,
		SweepConcurrency: 4,
	}
}

// VelocityStore persists velocity snapshots best-effort.
type VelocityStore interface {
	StoreVelocitySnapshot(ctx context.Context, v velocity.VelocityData) error
}

// tokenState is the mutable tracking state for one token.
type tokenState struct {
	tokenID    string
	riskLevel  classify.RiskLevel
	interval   time.Duration
	lastUpdate time.Time
	cancel     context.CancelFunc

	inFlight atomic.Bool
	fired    map[string]bool // event names already emitted while their flag holds
}

// Engine owns per-token polling loops and the pattern sweep.
type Engine struct {
	config     Config
	collector  *snapshot.Collector
	history    *snapshot.History
	calculator *velocity.Calculator
	classifier *classify.Classifier
	evolution  *honeypot.Tracker
	aggregator *risk.Aggregator
	lifecycle  *lifecycleManager
	sink       bus.Sink
	dispatcher alerts.Dispatcher
	store      VelocityStore               // optional
	onSweep    func(elapsed time.Duration) // optional

	mu      sync.RWMutex
	tokens  map[string]*tokenState
	baseCtx context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup

	cycles         atomic.Int64
	reschedules    atomic.Int64
	skippedCycles  atomic.Int64
	ruggedTotal    atomic.Int64
	sweepsComplete atomic.Int64
}

// NewEngine wires the monitor engine. store may be nil.
func NewEngine(
	config Config,
	collector *snapshot.Collector,
	history *snapshot.History,
	calculator *velocity.Calculator,
	classifier *classify.Classifier,
	evolution *honeypot.Tracker,
	aggregator *risk.Aggregator,
	lifecycleSrc sources.TokenLifecycleSource,
	sink bus.Sink,
	dispatcher alerts.Dispatcher,
	store VelocityStore,
) *Engine {
	return &Engine{
		config:     config,
		collector:  collector,
		history:    history,
		calculator: calculator,
		classifier: classifier,
		evolution:  evolution,
		aggregator: aggregator,
		lifecycle:  newLifecycleManager(config, lifecycleSrc, history),
		sink:       sink,
		dispatcher: dispatcher,
		store:      store,
		tokens:     make(map[string]*tokenState),
	}
}

// SetOnSweep registers a callback observing each sweep's duration.
func (e *Engine) SetOnSweep(fn func(elapsed time.Duration)) {
	e.onSweep = fn
}

// Start launches the pattern sweep and makes the engine accept tracking
// requests. It returns immediately.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.baseCtx, e.cancel = context.WithCancel(ctx)
	e.started = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runSweep(e.baseCtx)

	log.Info().
		Int("sweep_interval_s", e.config.SweepIntervalS).
		Int("sweep_concurrency", e.config.SweepConcurrency).
		Msg("monitor: engine started")
}

// Stop cancels every token loop and the sweep, and waits for them to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	log.Info().Msg("monitor: engine stopped")
}

// TrackToken begins adaptive monitoring for a token. The optional initial
// risk level seeds the polling cadence; pass the empty string for default.
// The first snapshot is taken synchronously before the loop starts.
func (e *Engine) TrackToken(ctx context.Context, tokenID string, initial classify.RiskLevel) error {
	if err := validateTokenID(tokenID); err != nil {
		return err
	}
	if initial != "" && !initial.Valid() {
		return fmt.Errorf("invalid initial risk level %q", initial)
	}

	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine not started")
	}
	if _, exists := e.tokens[tokenID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("token %s already tracked", tokenID)
	}

	level := initial
	interval := e.intervalFor(level)
	loopCtx, cancel := context.WithCancel(e.baseCtx)
	st := &tokenState{
		tokenID:   tokenID,
		riskLevel: level,
		interval:  interval,
		cancel:    cancel,
		fired:     make(map[string]bool),
	}
	e.tokens[tokenID] = st
	e.mu.Unlock()

	// Immediate first reading so velocity has an anchor before the first tick.
	snap := e.collector.Collect(ctx, tokenID)
	e.history.Append(tokenID, snap)

	e.wg.Add(1)
	go e.runToken(loopCtx, st)

	log.Info().
		Str("token", tokenID).
		Str("initial_risk", string(level)).
		Dur("interval", interval).
		Msg("monitor: token tracked")
	return nil
}

// StopTracking cancels the token's loop and purges all per-token state.
// Calling it for an untracked token is a no-op.
func (e *Engine) StopTracking(tokenID string) {
	e.mu.Lock()
	st, ok := e.tokens[tokenID]
	if ok {
		delete(e.tokens, tokenID)
	}
	e.mu.Unlock()

	if !ok {
		return
	}

	st.cancel()
	e.history.Evict(tokenID)
	e.evolution.Evict(tokenID)
	e.aggregator.Evict(tokenID)

	log.Info().Str("token", tokenID).Msg("monitor: token untracked")
}

// TrackedTokens returns the ids of all currently tracked tokens.
func (e *Engine) TrackedTokens() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.tokens))
	for id := range e.tokens {
		out = append(out, id)
	}
	return out
}

// IsTracked reports whether the token has an active loop.
func (e *Engine) IsTracked(tokenID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tokens[tokenID]
	return ok
}

// VelocityData returns the current velocity bundle, or nil for an unknown
// token or one with no snapshots.
func (e *Engine) VelocityData(tokenID string) *velocity.VelocityData {
	return e.calculator.Compute(tokenID)
}

// AnalyzeToken runs a fresh pattern analysis immediately.
func (e *Engine) AnalyzeToken(ctx context.Context, tokenID string) risk.TokenAnalysis {
	return e.aggregator.Analyze(ctx, tokenID)
}

// GetAnalysis reads the analysis cache only; ok is false when the cache is
// cold or expired.
func (e *Engine) GetAnalysis(tokenID string) (risk.TokenAnalysis, bool) {
	return e.aggregator.Cached(tokenID)
}

// RiskLevel returns the token's current risk classification.
func (e *Engine) RiskLevel(tokenID string) (classify.RiskLevel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.tokens[tokenID]
	if !ok {
		return "", false
	}
	level := st.riskLevel
	if level == "" {
		level = classify.RiskLow
	}
	return level, true
}

// runToken is one token's polling loop. The ticker is replaced whenever the
// classified risk level maps to a different interval; the change takes
// effect from the next tick.
func (e *Engine) runToken(ctx context.Context, st *tokenState) {
	defer e.wg.Done()

	interval := st.interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := e.updateCycle(ctx, st)
			if next > 0 && next != interval {
				ticker.Reset(next)
				e.reschedules.Add(1)
				log.Debug().
					Str("token", st.tokenID).
					Dur("old", interval).
					Dur("new", next).
					Msg("monitor: rescheduled")
				interval = next
			}
		}
	}
}

// updateCycle performs one collect/classify/lifecycle pass and returns the
// interval the next tick should use (0 to keep the current one).
func (e *Engine) updateCycle(ctx context.Context, st *tokenState) time.Duration {
	// At most one in-flight update per token: overlapping firings are
	// skipped, never queued.
	if !st.inFlight.CompareAndSwap(false, true) {
		e.skippedCycles.Add(1)
		return 0
	}
	defer st.inFlight.Store(false)

	tokenID := st.tokenID
	if !e.IsTracked(tokenID) {
		return 0
	}

	snap := e.collector.Collect(ctx, tokenID)

	// A cancellation racing this update must not resurrect the token.
	if !e.IsTracked(tokenID) {
		return 0
	}
	e.history.Append(tokenID, snap)
	e.cycles.Add(1)

	snaps := e.history.Get(tokenID)
	v := velocity.ComputeFromSnapshots(tokenID, snaps)
	res := e.classifier.Classify(v, snaps)

	if e.store != nil && v != nil {
		if err := e.store.StoreVelocitySnapshot(ctx, *v); err != nil {
			log.Warn().Err(err).Str("token", tokenID).Msg("monitor: velocity snapshot store failed")
		}
	}

	e.emitThresholdEvents(ctx, st, snap, v, res.Flags)

	if e.lifecycle.shouldMarkRugged(ctx, tokenID, snap) {
		e.markRugged(ctx, tokenID, snap.LiquidityUSD)
		return 0
	}

	e.mu.Lock()
	st.riskLevel = res.RiskLevel
	st.lastUpdate = snap.Timestamp
	next := e.intervalFor(res.RiskLevel)
	st.interval = next
	e.mu.Unlock()

	return next
}

// markRugged ends tracking for a collapsed token and emits the terminal
// event exactly once.
func (e *Engine) markRugged(ctx context.Context, tokenID string, finalLiquidity float64) {
	// StopTracking removes the map entry first, so a second racing cycle
	// cannot re-enter here for the same token.
	e.mu.Lock()
	st, ok := e.tokens[tokenID]
	if ok {
		delete(e.tokens, tokenID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	st.cancel()
	e.history.Evict(tokenID)
	e.evolution.Evict(tokenID)
	e.aggregator.Evict(tokenID)
	e.ruggedTotal.Add(1)

	event := bus.TokenRugged{
		BaseEvent:         bus.NewBaseEvent("monitor", "1.0.0"),
		TokenID:           tokenID,
		FinalLiquidityUSD: finalLiquidity,
	}
	if err := e.sink.Emit(ctx, event); err != nil {
		log.Warn().Err(err).Str("token", tokenID).Msg("monitor: token-rugged emit failed")
	}
	e.dispatcher.SendAlert(ctx, alerts.New(
		tokenID,
		"token-rugged",
		alerts.PriorityHigh,
		fmt.Sprintf("liquidity collapsed to $%.2f, tracking terminated", finalLiquidity),
	))

	log.Error().
		Str("token", tokenID).
		Float64("final_liquidity_usd", finalLiquidity).
		Msg("monitor: TOKEN RUGGED")
}

// Stats returns engine statistics.
type EngineStats struct {
	TrackedTokens  int   `json:"tracked_tokens"`
	Cycles         int64 `json:"cycles"`
	Reschedules    int64 `json:"reschedules"`
	SkippedCycles  int64 `json:"skipped_cycles"`
	RuggedTotal    int64 `json:"rugged_total"`
	SweepsComplete int64 `json:"sweeps_complete"`
}

func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	tracked := len(e.tokens)
	e.mu.RUnlock()

	return EngineStats{
		TrackedTokens:  tracked,
		Cycles:         e.cycles.Load(),
		Reschedules:    e.reschedules.Load(),
		SkippedCycles:  e.skippedCycles.Load(),
		RuggedTotal:    e.ruggedTotal.Load(),
		SweepsComplete: e.sweepsComplete.Load(),
	}
}

// intervalFor maps a risk level to its polling interval.
func (e *Engine) intervalFor(level classify.RiskLevel) time.Duration {
	ms := e.config.IntervalDefaultMs
	switch level {
	case classify.RiskCritical:
		ms = e.config.IntervalCriticalMs
	case classify.RiskHigh:
		ms = e.config.IntervalHighMs
	case classify.RiskMedium:
		ms = e.config.IntervalMediumMs
	case classify.RiskLow:
		ms = e.config.IntervalLowMs
	}
	return time.Duration(ms) * time.Millisecond
}

// validateTokenID rejects ids that cannot be token addresses before any
// scheduling happens.
func validateTokenID(tokenID string) error {
	if tokenID == "" {
		return fmt.Errorf("token id is empty")
	}
	if len(tokenID) > 128 {
		return fmt.Errorf("token id too long (%d chars)", len(tokenID))
	}
	if strings.ContainsAny(tokenID, " \t\n") {
		return fmt.Errorf("token id %q contains whitespace", tokenID)
	}
	return nil
}
