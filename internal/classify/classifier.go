package classify

import (
	"time"

	"github.com/akalavre/panicswap-production-sub000/internal/snapshot"
	"github.com/akalavre/panicswap-production-sub000/internal/velocity"
)

// ---------------------------------------------------------------------------
// Threshold classifier — maps a velocity bundle to alert flags and a risk
// level. Every numeric threshold lives in Thresholds so detection logic can
// be tuned and tested without touching the code below.
// ---------------------------------------------------------------------------

// RiskLevel is the per-token risk classification driving polling cadence.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

func (r RiskLevel) String() string { return string(r) }

// Valid reports whether r is one of the four defined levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// AlertFlags are the boolean alert conditions recomputed every update cycle.
type AlertFlags struct {
	FlashRug       bool `json:"flash_rug"`
	RapidDrain     bool `json:"rapid_drain"`
	SlowBleed      bool `json:"slow_bleed"`
	VolumeSpike    bool `json:"volume_spike"`
	CreatorSelling bool `json:"creator_selling"`
	PanicSell      bool `json:"panic_sell"`
}

// Any reports whether at least one flag is raised.
func (f AlertFlags) Any() bool {
	return f.FlashRug || f.RapidDrain || f.SlowBleed ||
		f.VolumeSpike || f.CreatorSelling || f.PanicSell
}

// Result is one cycle's classification output.
type Result struct {
	Flags     AlertFlags `json:"flags"`
	RiskLevel RiskLevel  `json:"risk_level"`
}

// Thresholds holds every named detection threshold.
type Thresholds struct {
	FlashRugLiq10sPct    float64 `yaml:"flash_rug_liq_10s_pct"`    // absolute % (default -50)
	FlashRugLiq20sPct    float64 `yaml:"flash_rug_liq_20s_pct"`    // absolute % (default -70)
	FlashRugLiq5mRate    float64 `yaml:"flash_rug_liq_5m_rate"`    // %/min (default -20)
	RapidDrainLiq30sPct  float64 `yaml:"rapid_drain_liq_30s_pct"`  // absolute % (default -30)
	RapidDrainLiq1mRate  float64 `yaml:"rapid_drain_liq_1m_rate"`  // %/min (default -10)
	VolumeSpike5mRate    float64 `yaml:"volume_spike_5m_rate"`     // %/min (default +50)
	CreatorSell5mRate    float64 `yaml:"creator_sell_5m_rate"`     // %/min (default -10)
	CreatorSellMaxBalPct float64 `yaml:"creator_sell_max_bal_pct"` // current balance % (default 10)
	PanicSellLiq10sPct   float64 `yaml:"panic_sell_liq_10s_pct"`   // absolute % (default -30)
	PanicSellPrice10sPct float64 `yaml:"panic_sell_price_10s_pct"` // absolute % (default -20)

	// Slow bleed: >= SlowBleedShare of hourly deltas inside
	// [SlowBleedFloorPct, SlowBleedCeilPct] across >= SlowBleedMinSamples
	// snapshots spanning >= SlowBleedMinSpanMin minutes.
	SlowBleedFloorPct   float64 `yaml:"slow_bleed_floor_pct"`    // %/hour (default -10)
	SlowBleedCeilPct    float64 `yaml:"slow_bleed_ceil_pct"`     // %/hour (default -5)
	SlowBleedShare      float64 `yaml:"slow_bleed_share"`        // 0-1 (default 0.6)
	SlowBleedMinSamples int     `yaml:"slow_bleed_min_samples"`  // default 10
	SlowBleedMinSpanMin int     `yaml:"slow_bleed_min_span_min"` // default 60

	// Risk ladder.
	HighAbsLiq30sPct  float64 `yaml:"high_abs_liq_30s_pct"`  // |liq30s| > this => HIGH (default 20)
	MediumAbsLiq1m    float64 `yaml:"medium_abs_liq_1m"`     // |liq1m rate| > this => MEDIUM (default 5)
	MediumAbsPrice1m  float64 `yaml:"medium_abs_price_1m"`   // |price1m rate| > this => MEDIUM (default 10)
}

// DefaultThresholds returns the production threshold set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FlashRugLiq10sPct:    -50,
		FlashRugLiq20sPct:    -70,
		FlashRugLiq5mRate:    -20,
		RapidDrainLiq30sPct:  -30,
		RapidDrainLiq1mRate:  -10,
		VolumeSpike5mRate:    50,
		CreatorSell5mRate:    -10,
		CreatorSellMaxBalPct: 10,
		PanicSellLiq10sPct:   -30,
		PanicSellPrice10sPct: -20,

		SlowBleedFloorPct:   -10,
		SlowBleedCeilPct:    -5,
		SlowBleedShare:      0.6,
		SlowBleedMinSamples: 10,
		SlowBleedMinSpanMin: 60,

		HighAbsLiq30sPct: 20,
		MediumAbsLiq1m:   5,
		MediumAbsPrice1m: 10,
	}
}

// Classifier evaluates velocity bundles against the threshold set.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(thresholds Thresholds) *Classifier {
	return &Classifier{thresholds: thresholds}
}

// Classify derives alert flags and a risk level for one update cycle.
// snaps is the token's time-ordered history; the newest entry supplies the
// current creator balance and the slow-bleed trend input.
func (c *Classifier) Classify(v *velocity.VelocityData, snaps []snapshot.LiquiditySnapshot) Result {
	t := c.thresholds
	var f AlertFlags

	if v != nil {
		f.FlashRug = v.Abs10s.Liquidity < t.FlashRugLiq10sPct ||
			v.Abs20s.Liquidity < t.FlashRugLiq20sPct ||
			v.Rate5m.Liquidity < t.FlashRugLiq5mRate

		f.RapidDrain = v.Abs30s.Liquidity < t.RapidDrainLiq30sPct ||
			v.Rate1m.Liquidity < t.RapidDrainLiq1mRate

		f.VolumeSpike = v.Rate5m.Volume > t.VolumeSpike5mRate

		f.PanicSell = v.Abs10s.Liquidity < t.PanicSellLiq10sPct &&
			v.Abs10s.Price < t.PanicSellPrice10sPct

		if len(snaps) > 0 {
			currentCreatorPct := snaps[len(snaps)-1].CreatorBalancePercent
			f.CreatorSelling = v.Rate5m.CreatorBalance < t.CreatorSell5mRate &&
				currentCreatorPct < t.CreatorSellMaxBalPct
		}
	}

	f.SlowBleed = c.detectSlowBleed(snaps)

	return Result{
		Flags:     f,
		RiskLevel: c.riskLevel(v, f),
	}
}

// detectSlowBleed checks for a sustained 5-10%/hour liquidity drain.
func (c *Classifier) detectSlowBleed(snaps []snapshot.LiquiditySnapshot) bool {
	t := c.thresholds
	if len(snaps) < t.SlowBleedMinSamples {
		return false
	}

	span := snaps[len(snaps)-1].Timestamp.Sub(snaps[0].Timestamp)
	if span < time.Duration(t.SlowBleedMinSpanMin)*time.Minute {
		return false
	}

	inBand, total := 0, 0
	for i := 1; i < len(snaps); i++ {
		prev, cur := snaps[i-1], snaps[i]
		if prev.LiquidityUSD == 0 {
			continue
		}
		dtHours := cur.Timestamp.Sub(prev.Timestamp).Hours()
		if dtHours <= 0 {
			continue
		}
		hourly := (cur.LiquidityUSD - prev.LiquidityUSD) / prev.LiquidityUSD * 100 / dtHours
		total++
		if hourly >= t.SlowBleedFloorPct && hourly <= t.SlowBleedCeilPct {
			inBand++
		}
	}

	if total == 0 {
		return false
	}
	return float64(inBand)/float64(total) >= t.SlowBleedShare
}

// riskLevel applies the fixed ladder: flash/panic => CRITICAL, drain => HIGH,
// elevated 1m movement => MEDIUM, else LOW.
func (c *Classifier) riskLevel(v *velocity.VelocityData, f AlertFlags) RiskLevel {
	t := c.thresholds

	if f.FlashRug || f.PanicSell {
		return RiskCritical
	}
	if v != nil {
		if f.RapidDrain || abs(v.Abs30s.Liquidity) > t.HighAbsLiq30sPct {
			return RiskHigh
		}
		if abs(v.Rate1m.Liquidity) > t.MediumAbsLiq1m || abs(v.Rate1m.Price) > t.MediumAbsPrice1m {
			return RiskMedium
		}
	} else if f.RapidDrain {
		return RiskHigh
	}
	return RiskLow
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
