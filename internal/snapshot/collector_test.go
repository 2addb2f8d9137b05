package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/akalavre/panicswap-production-sub000/internal/quality"
	"github.com/akalavre/panicswap-production-sub000/internal/sources"
)

func TestCollector_HappyPath(t *testing.T) {
	metrics := sources.NewStubMetrics()
	metrics.Set("tok", sources.StubReading{
		LiquidityUSD:          1500.5,
		Price:                 0.002,
		Volume24h:             9000,
		HolderCount:           42,
		CreatorBalancePercent: 12.5,
	})

	c := NewCollector(metrics, "stub")
	snap := c.Collect(context.Background(), "tok")

	assert.Equal(t, "tok", snap.TokenID)
	assert.Equal(t, "stub", snap.SourceTag)
	assert.False(t, snap.Timestamp.IsZero())
	assert.Equal(t, 1500.5, snap.LiquidityUSD)
	assert.Equal(t, 0.002, snap.Price)
	assert.Equal(t, 9000.0, snap.Volume24h)
	assert.Equal(t, int64(42), snap.HolderCount)
	assert.Equal(t, 12.5, snap.CreatorBalancePercent)
}

func TestCollector_DegradesFailedMetricsToZero(t *testing.T) {
	metrics := sources.NewStubMetrics()
	metrics.Set("tok", sources.StubReading{LiquidityUSD: 1000})
	metrics.SetFailing("tok", true)

	c := NewCollector(metrics, "stub")
	snap := c.Collect(context.Background(), "tok")

	// A failing source still yields a usable snapshot.
	assert.Equal(t, "tok", snap.TokenID)
	assert.Equal(t, 0.0, snap.LiquidityUSD)
	assert.Equal(t, 0.0, snap.Price)
	assert.Equal(t, 0.0, snap.Volume24h)
	assert.Equal(t, int64(0), snap.HolderCount)
	assert.Equal(t, 0.0, snap.CreatorBalancePercent)

	// All five getters were attempted despite errors.
	assert.Equal(t, 5, metrics.Calls())
}

func TestCollector_ReportsFeedHealth(t *testing.T) {
	metrics := sources.NewStubMetrics()
	metrics.Set("tok", sources.StubReading{LiquidityUSD: 1000})
	qm := quality.NewMonitor(0.2)

	c := NewCollector(metrics, "stub")
	c.SetQualityMonitor(qm)

	c.Collect(context.Background(), "tok")
	metrics.SetFailing("tok", true)
	c.Collect(context.Background(), "tok")

	stats := qm.Snapshot()["stub.tok"]
	assert.Equal(t, int64(1), stats.ReadCount)
	assert.Equal(t, int64(1), stats.FailureCount)
}

func TestCollector_UnknownTokenReadsZeros(t *testing.T) {
	c := NewCollector(sources.NewStubMetrics(), "stub")
	snap := c.Collect(context.Background(), "nobody")

	assert.Equal(t, 0.0, snap.LiquidityUSD)
	assert.Equal(t, int64(0), snap.HolderCount)
}
