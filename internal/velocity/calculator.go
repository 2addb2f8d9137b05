package velocity

import (
	"time"

	"github.com/akalavre/panicswap-production-sub000/internal/snapshot"
)

// ---------------------------------------------------------------------------
// Velocity calculator — rates of change across fixed time windows.
//
// Ultra-short windows (10s/20s/30s) yield absolute percent change over the
// window. Standard windows (1m/5m/30m) yield percent-per-minute rates.
// The asymmetry is deliberate: every alert threshold downstream is calibrated
// against exactly one of the two unit conventions.
// ---------------------------------------------------------------------------

// GrowthFromZeroSentinel is returned when a metric goes from zero to any
// positive value inside a window. Division by a zero start is never attempted.
const GrowthFromZeroSentinel = 100.0

// MetricVelocities bundles one window's change figures for every tracked metric.
type MetricVelocities struct {
	Liquidity      float64 `json:"liquidity"`
	Price          float64 `json:"price"`
	Volume         float64 `json:"volume"`
	HolderCount    float64 `json:"holder_count"`
	CreatorBalance float64 `json:"creator_balance"`
}

// VelocityData is the full velocity bundle computed from one history read.
type VelocityData struct {
	TokenID     string    `json:"token_id"`
	ComputedAt  time.Time `json:"computed_at"`
	SampleCount int       `json:"sample_count"`

	// Absolute percent change over ultra-short windows.
	Abs10s MetricVelocities `json:"abs_10s"`
	Abs20s MetricVelocities `json:"abs_20s"`
	Abs30s MetricVelocities `json:"abs_30s"`

	// Percent-per-minute rates over standard windows.
	Rate1m  MetricVelocities `json:"rate_1m"`
	Rate5m  MetricVelocities `json:"rate_5m"`
	Rate30m MetricVelocities `json:"rate_30m"`
}

// Calculator derives velocities from snapshot history.
type Calculator struct {
	history *snapshot.History
}

// NewCalculator creates a calculator reading from the given history.
func NewCalculator(history *snapshot.History) *Calculator {
	return &Calculator{history: history}
}

// Compute returns the velocity bundle for a token, or nil when the token has
// no snapshots at all.
func (c *Calculator) Compute(tokenID string) *VelocityData {
	snaps := c.history.Get(tokenID)
	if len(snaps) == 0 {
		return nil
	}
	return ComputeFromSnapshots(tokenID, snaps)
}

// ComputeFromSnapshots derives the velocity bundle from a time-ordered
// snapshot slice. The newest snapshot anchors every window.
func ComputeFromSnapshots(tokenID string, snaps []snapshot.LiquiditySnapshot) *VelocityData {
	if len(snaps) == 0 {
		return nil
	}

	latest := snaps[len(snaps)-1]
	v := &VelocityData{
		TokenID:     tokenID,
		ComputedAt:  latest.Timestamp,
		SampleCount: len(snaps),
	}

	v.Abs10s = windowVelocities(snaps, 10*time.Second, false)
	v.Abs20s = windowVelocities(snaps, 20*time.Second, false)
	v.Abs30s = windowVelocities(snaps, 30*time.Second, false)
	v.Rate1m = windowVelocities(snaps, time.Minute, true)
	v.Rate5m = windowVelocities(snaps, 5*time.Minute, true)
	v.Rate30m = windowVelocities(snaps, 30*time.Minute, true)

	return v
}

// windowVelocities computes all metric velocities for one window.
func windowVelocities(snaps []snapshot.LiquiditySnapshot, window time.Duration, perMinute bool) MetricVelocities {
	current := snaps[len(snaps)-1]
	start, ok := windowStart(snaps, window)
	if !ok {
		return MetricVelocities{}
	}

	elapsedMin := current.Timestamp.Sub(start.Timestamp).Minutes()

	return MetricVelocities{
		Liquidity:      change(start.LiquidityUSD, current.LiquidityUSD, elapsedMin, perMinute),
		Price:          change(start.Price, current.Price, elapsedMin, perMinute),
		Volume:         change(start.Volume24h, current.Volume24h, elapsedMin, perMinute),
		HolderCount:    change(float64(start.HolderCount), float64(current.HolderCount), elapsedMin, perMinute),
		CreatorBalance: change(start.CreatorBalancePercent, current.CreatorBalancePercent, elapsedMin, perMinute),
	}
}

// windowStart picks the comparison snapshot for a window ending at the newest
// snapshot: the earliest older snapshot inside the window, falling back to
// the latest snapshot strictly before the window start. The anchor itself is
// only used when it is the sole sample.
func windowStart(snaps []snapshot.LiquiditySnapshot, window time.Duration) (snapshot.LiquiditySnapshot, bool) {
	if len(snaps) == 0 {
		return snapshot.LiquiditySnapshot{}, false
	}
	if len(snaps) == 1 {
		return snaps[0], true
	}
	cutoff := snaps[len(snaps)-1].Timestamp.Add(-window)

	older := snaps[:len(snaps)-1]
	var before snapshot.LiquiditySnapshot
	haveBefore := false
	for _, s := range older {
		if !s.Timestamp.Before(cutoff) {
			return s, true
		}
		before = s
		haveBefore = true
	}
	return before, haveBefore
}

// change implements the shared edge-case arithmetic for a single metric.
func change(start, current, elapsedMin float64, perMinute bool) float64 {
	if start == 0 {
		if current > 0 {
			return GrowthFromZeroSentinel
		}
		return 0
	}

	pct := (current - start) / start * 100

	if !perMinute {
		return pct
	}
	if elapsedMin <= 0 {
		return 0
	}
	return pct / elapsedMin
}
