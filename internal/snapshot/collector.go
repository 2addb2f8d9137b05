package snapshot

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akalavre/panicswap-production-sub000/internal/quality"
	"github.com/akalavre/panicswap-production-sub000/internal/sources"
)

// Collector pulls one current reading per token from a MetricsSource.
// A metric that fails to resolve is recorded as zero; a partial snapshot is
// still a valid snapshot.
type Collector struct {
	metrics   sources.MetricsSource
	sourceTag string
	quality   *quality.Monitor             // optional
	onLatency func(elapsed time.Duration) // optional
}

// NewCollector creates a collector reading from the given metrics source.
// sourceTag labels every produced snapshot with its origin.
func NewCollector(metrics sources.MetricsSource, sourceTag string) *Collector {
	return &Collector{metrics: metrics, sourceTag: sourceTag}
}

// SetQualityMonitor attaches a source health monitor. Each Collect then
// reports one read or one failure for the token's feed.
func (c *Collector) SetQualityMonitor(m *quality.Monitor) {
	c.quality = m
}

// SetOnLatency registers a callback observing each Collect's duration.
func (c *Collector) SetOnLatency(fn func(elapsed time.Duration)) {
	c.onLatency = fn
}

// Collect builds a snapshot of the token's current metrics.
func (c *Collector) Collect(ctx context.Context, tokenID string) LiquiditySnapshot {
	started := time.Now()
	snap := LiquiditySnapshot{
		TokenID:   tokenID,
		Timestamp: started,
		SourceTag: c.sourceTag,
	}

	var err error
	degraded := false
	if snap.LiquidityUSD, err = c.metrics.GetLiquidityUSD(ctx, tokenID); err != nil {
		snap.LiquidityUSD = 0
		degraded = true
		c.warn(tokenID, "liquidity_usd", err)
	}
	if snap.Price, err = c.metrics.GetPrice(ctx, tokenID); err != nil {
		snap.Price = 0
		degraded = true
		c.warn(tokenID, "price", err)
	}
	if snap.Volume24h, err = c.metrics.GetVolume24h(ctx, tokenID); err != nil {
		snap.Volume24h = 0
		degraded = true
		c.warn(tokenID, "volume_24h", err)
	}
	if snap.HolderCount, err = c.metrics.GetHolderCount(ctx, tokenID); err != nil {
		snap.HolderCount = 0
		degraded = true
		c.warn(tokenID, "holder_count", err)
	}
	if snap.CreatorBalancePercent, err = c.metrics.GetCreatorBalancePercent(ctx, tokenID); err != nil {
		snap.CreatorBalancePercent = 0
		degraded = true
		c.warn(tokenID, "creator_balance_percent", err)
	}

	if c.quality != nil {
		if degraded {
			c.quality.RecordFailure(c.sourceTag, tokenID)
		} else {
			c.quality.RecordRead(c.sourceTag, tokenID)
		}
	}
	if c.onLatency != nil {
		c.onLatency(time.Since(started))
	}
	return snap
}

func (c *Collector) warn(tokenID, metric string, err error) {
	log.Warn().
		Err(err).
		Str("token", tokenID).
		Str("metric", metric).
		Msg("collector: metric unavailable, recording zero")
}
