package risk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akalavre/panicswap-production-sub000/internal/alerts"
	"github.com/akalavre/panicswap-production-sub000/internal/bus"
	"github.com/akalavre/panicswap-production-sub000/internal/pattern"
)

// ---------------------------------------------------------------------------
// Risk Aggregator — fuses a token's detected patterns into one 0-100 score
// and an actionable recommendation. The score is a pure function of the
// pattern list; everything else here is caching and outbound plumbing.
// ---------------------------------------------------------------------------

// Recommendation is the discrete action derived from a token's risk score.
type Recommendation string

const (
	RecommendExitNow        Recommendation = "exit_now"
	RecommendExitSoon       Recommendation = "exit_soon"
	RecommendMonitorClosely Recommendation = "monitor_closely"
	RecommendLowRisk        Recommendation = "low_risk"
)

func (r Recommendation) String() string { return string(r) }

// TokenAnalysis is one full analysis result for a token.
type TokenAnalysis struct {
	TokenID        string               `json:"token_id"`
	Patterns       []pattern.RugPattern `json:"patterns"`
	OverallRisk    float64              `json:"overall_risk"` // 0-100
	Recommendation Recommendation       `json:"recommendation"`
	Timestamp      time.Time            `json:"timestamp"`
}

// SeverityWeights maps pattern severity to its share of the weighted score.
type SeverityWeights struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
	Low      float64 `yaml:"low"`
}

// Config configures the aggregator.
type Config struct {
	Weights          SeverityWeights `yaml:"weights"`
	CacheTTLMin      int             `yaml:"cache_ttl_min"`      // analysis cache TTL (default 5)
	HighPriorityRisk float64         `yaml:"high_priority_risk"` // high-priority emit floor (default 80)
	StandardRisk     float64         `yaml:"standard_risk"`      // standard emit floor (default 50)
	ExitNowRisk      float64         `yaml:"exit_now_risk"`      // default 90
	ExitSoonRisk     float64         `yaml:"exit_soon_risk"`     // default 70
	MonitorRisk      float64         `yaml:"monitor_risk"`       // default 50
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Weights: SeverityWeights{
			Critical: 1.0,
			High:     0.7,
			Medium:   0.4,
			Low:      0.2,
		},
		CacheTTLMin:      5,
		HighPriorityRisk: 80,
		StandardRisk:     50,
		ExitNowRisk:      90,
		ExitSoonRisk:     70,
		MonitorRisk:      50,
	}
}

// AlertStore persists pattern alerts best-effort.
type AlertStore interface {
	StorePatternAlert(ctx context.Context, analysis TokenAnalysis) error
}

// Aggregator scores tokens from their pattern lists and caches the results.
type Aggregator struct {
	config     Config
	detector   *pattern.Detector
	sink       bus.Sink
	dispatcher alerts.Dispatcher
	store      AlertStore // optional

	mu    sync.RWMutex
	cache map[string]TokenAnalysis

	analyses      atomic.Int64
	cacheHits     atomic.Int64
	highPriority  atomic.Int64
	standardEmits atomic.Int64
}

// NewAggregator creates a risk aggregator. store may be nil.
func NewAggregator(config Config, detector *pattern.Detector, sink bus.Sink, dispatcher alerts.Dispatcher, store AlertStore) *Aggregator {
	return &Aggregator{
		config:     config,
		detector:   detector,
		sink:       sink,
		dispatcher: dispatcher,
		store:      store,
		cache:      make(map[string]TokenAnalysis),
	}
}

// Score computes the weighted overall risk for a pattern list: the
// confidence-weighted mean of severity weights, scaled to 0-100 and capped.
func (a *Aggregator) Score(patterns []pattern.RugPattern) float64 {
	if len(patterns) == 0 {
		return 0
	}

	var weighted, totalWeight float64
	for _, p := range patterns {
		w := a.severityWeight(p.Severity)
		weighted += p.Confidence * w * 100
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}

	score := weighted / totalWeight
	if score > 100 {
		score = 100
	}
	return score
}

// Recommend applies the recommendation ladder.
func (a *Aggregator) Recommend(patterns []pattern.RugPattern, overallRisk float64) Recommendation {
	hasFlashRug := false
	hasCritical := false
	for _, p := range patterns {
		if p.Type == pattern.TypeFlashRug {
			hasFlashRug = true
		}
		if p.Severity == pattern.SeverityCritical {
			hasCritical = true
		}
	}

	switch {
	case hasFlashRug || overallRisk >= a.config.ExitNowRisk:
		return RecommendExitNow
	case hasCritical || overallRisk >= a.config.ExitSoonRisk:
		return RecommendExitSoon
	case overallRisk >= a.config.MonitorRisk:
		return RecommendMonitorClosely
	default:
		return RecommendLowRisk
	}
}

// Analyze runs full pattern detection for a token, scores it, caches the
// analysis and emits outbound events and alerts per the risk thresholds.
func (a *Aggregator) Analyze(ctx context.Context, tokenID string) TokenAnalysis {
	patterns := a.detector.Detect(ctx, tokenID)

	analysis := TokenAnalysis{
		TokenID:   tokenID,
		Patterns:  patterns,
		Timestamp: time.Now(),
	}
	analysis.OverallRisk = a.Score(patterns)
	analysis.Recommendation = a.Recommend(patterns, analysis.OverallRisk)

	a.mu.Lock()
	a.cache[tokenID] = analysis
	a.mu.Unlock()
	a.analyses.Add(1)

	a.emit(ctx, analysis)
	a.persist(ctx, analysis)

	return analysis
}

// Cached returns the cached analysis if it is still inside the TTL.
func (a *Aggregator) Cached(tokenID string) (TokenAnalysis, bool) {
	a.mu.RLock()
	analysis, ok := a.cache[tokenID]
	a.mu.RUnlock()

	if !ok {
		return TokenAnalysis{}, false
	}
	ttl := time.Duration(a.config.CacheTTLMin) * time.Minute
	if time.Since(analysis.Timestamp) > ttl {
		return TokenAnalysis{}, false
	}

	a.cacheHits.Add(1)
	return analysis, true
}

// Evict purges a token's cached analysis.
func (a *Aggregator) Evict(tokenID string) {
	a.mu.Lock()
	delete(a.cache, tokenID)
	a.mu.Unlock()
}

// emit publishes pattern findings above the configured risk floors.
func (a *Aggregator) emit(ctx context.Context, analysis TokenAnalysis) {
	if analysis.OverallRisk < a.config.StandardRisk {
		return
	}

	highPriority := analysis.OverallRisk >= a.config.HighPriorityRisk
	if highPriority {
		a.highPriority.Add(1)
	} else {
		a.standardEmits.Add(1)
	}

	types := make([]string, 0, len(analysis.Patterns))
	for _, p := range analysis.Patterns {
		types = append(types, p.Type.String())
	}

	event := bus.HighRiskPattern{
		BaseEvent:      bus.NewBaseEvent("risk-aggregator", "1.0.0"),
		TokenID:        analysis.TokenID,
		OverallRisk:    analysis.OverallRisk,
		Recommendation: analysis.Recommendation.String(),
		PatternTypes:   types,
		HighPriority:   highPriority,
	}
	if err := a.sink.Emit(ctx, event); err != nil {
		log.Warn().Err(err).Str("token", analysis.TokenID).Msg("risk: event emit failed")
	}

	priority := alerts.PriorityStandard
	if highPriority {
		priority = alerts.PriorityHigh
	}
	alert := alerts.New(
		analysis.TokenID,
		"high-risk-pattern",
		priority,
		fmt.Sprintf("risk %.0f/100, recommendation %s", analysis.OverallRisk, analysis.Recommendation),
	)
	alert.RiskScore = analysis.OverallRisk
	a.dispatcher.SendAlert(ctx, alert)

	log.Warn().
		Str("token", analysis.TokenID).
		Float64("risk", analysis.OverallRisk).
		Str("recommendation", analysis.Recommendation.String()).
		Strs("patterns", types).
		Bool("high_priority", highPriority).
		Msg("risk: pattern threshold crossed")
}

// persist stores the pattern alert best-effort. Failures are swallowed.
func (a *Aggregator) persist(ctx context.Context, analysis TokenAnalysis) {
	if a.store == nil || len(analysis.Patterns) == 0 {
		return
	}
	if err := a.store.StorePatternAlert(ctx, analysis); err != nil {
		log.Warn().Err(err).Str("token", analysis.TokenID).Msg("risk: pattern alert store failed")
	}
}

func (a *Aggregator) severityWeight(s pattern.Severity) float64 {
	switch s {
	case pattern.SeverityCritical:
		return a.config.Weights.Critical
	case pattern.SeverityHigh:
		return a.config.Weights.High
	case pattern.SeverityMedium:
		return a.config.Weights.Medium
	case pattern.SeverityLow:
		return a.config.Weights.Low
	default:
		return 0
	}
}

// Stats returns aggregator statistics.
type AggregatorStats struct {
	CachedAnalyses    int   `json:"cached_analyses"`
	TotalAnalyses     int64 `json:"total_analyses"`
	CacheHits         int64 `json:"cache_hits"`
	HighPriorityEmits int64 `json:"high_priority_emits"`
	StandardEmits     int64 `json:"standard_emits"`
}

func (a *Aggregator) Stats() AggregatorStats {
	a.mu.RLock()
	cached := len(a.cache)
	a.mu.RUnlock()

	return AggregatorStats{
		CachedAnalyses:    cached,
		TotalAnalyses:     a.analyses.Load(),
		CacheHits:         a.cacheHits.Load(),
		HighPriorityEmits: a.highPriority.Load(),
		StandardEmits:     a.standardEmits.Load(),
	}
}
