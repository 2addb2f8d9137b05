package honeypot

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Honeypot Evolution Tracker
// A token that starts blocking sells rarely does it in one step: the sell
// failure rate creeps upward hour over hour. This tracker keeps a rolling
// window of hourly failure rates per token and fits a linear trend across it.
// ---------------------------------------------------------------------------

// TrackerConfig configures the evolution tracker.
type TrackerConfig struct {
	MaxSamples     int     `yaml:"max_samples"`     // rolling window size (default 24)
	SampleGapMin   int     `yaml:"sample_gap_min"`  // min minutes between samples (default 60)
	SlopeThreshold float64 `yaml:"slope_threshold"` // min upward slope to flag (default 0.1)
	RecentRateMin  float64 `yaml:"recent_rate_min"` // min latest failure rate to flag (default 0.3)
}

// DefaultTrackerConfig returns production defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxSamples:     24,
		SampleGapMin:   60,
		SlopeThreshold: 0.1,
		RecentRateMin:  0.3,
	}
}

type sample struct {
	failureRate float64
	recordedAt  time.Time
}

// Trend summarizes a token's sell-failure trajectory.
type Trend struct {
	Slope      float64 `json:"slope"`       // failure-rate change per sample
	RecentRate float64 `json:"recent_rate"` // latest hourly failure rate
	Samples    int     `json:"samples"`
}

// Evolving reports whether the trend crosses both thresholds: the failure
// rate is climbing and the latest hour is already meaningfully broken.
func (t *Tracker) Evolving(trend Trend) bool {
	return trend.Slope > t.config.SlopeThreshold && trend.RecentRate > t.config.RecentRateMin
}

// Tracker maintains per-token rolling windows of hourly sell-failure rates.
type Tracker struct {
	config TrackerConfig

	mu      sync.RWMutex
	windows map[string][]sample

	recorded atomic.Int64
	flagged  atomic.Int64
}

// NewTracker creates a new evolution tracker.
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxSamples <= 0 {
		config.MaxSamples = 24
	}
	return &Tracker{
		config:  config,
		windows: make(map[string][]sample),
	}
}

// Record appends one hourly failure-rate observation for a token. Samples
// arriving sooner than SampleGapMin after the previous one are dropped, so
// the window stays hourly no matter how often the sweep runs. The window is
// a ring: the oldest sample drops once MaxSamples is reached.
func (t *Tracker) Record(tokenID string, failureRate float64) {
	if failureRate < 0 {
		failureRate = 0
	}
	if failureRate > 1 {
		failureRate = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.windows[tokenID]
	if n := len(w); n > 0 {
		gap := time.Duration(t.config.SampleGapMin) * time.Minute
		if time.Since(w[n-1].recordedAt) < gap {
			return
		}
	}
	if len(w) >= t.config.MaxSamples {
		w = w[1:]
	}
	t.windows[tokenID] = append(w, sample{failureRate: failureRate, recordedAt: time.Now()})
	t.recorded.Add(1)
}

// TrendFor fits a least-squares line across the token's window and returns
// the slope together with the most recent rate. ok is false with fewer than
// two samples — no trend can be read from a point.
func (t *Tracker) TrendFor(tokenID string) (Trend, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w := t.windows[tokenID]
	if len(w) < 2 {
		return Trend{Samples: len(w)}, false
	}

	// Least squares over x = 0..n-1, y = failure rate.
	n := float64(len(w))
	var sumX, sumY, sumXY, sumXX float64
	for i, s := range w {
		x := float64(i)
		sumX += x
		sumY += s.failureRate
		sumXY += x * s.failureRate
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	slope := 0.0
	if denom != 0 {
		slope = (n*sumXY - sumX*sumY) / denom
	}

	trend := Trend{
		Slope:      slope,
		RecentRate: w[len(w)-1].failureRate,
		Samples:    len(w),
	}

	if t.Evolving(trend) {
		t.flagged.Add(1)
		log.Debug().
			Str("token", tokenID).
			Float64("slope", slope).
			Float64("recent_rate", trend.RecentRate).
			Msg("honeypot: failure-rate trend crossed thresholds")
	}
	return trend, true
}

// Evict removes a token's window.
func (t *Tracker) Evict(tokenID string) {
	t.mu.Lock()
	delete(t.windows, tokenID)
	t.mu.Unlock()
}

// Stats returns tracker statistics.
type TrackerStats struct {
	TrackedTokens int   `json:"tracked_tokens"`
	Recorded      int64 `json:"recorded"`
	Flagged       int64 `json:"flagged"`
}

func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	tracked := len(t.windows)
	t.mu.RUnlock()

	return TrackerStats{
		TrackedTokens: tracked,
		Recorded:      t.recorded.Load(),
		Flagged:       t.flagged.Load(),
	}
}
