package quality

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRead_UpdatesStats(t *testing.T) {
	m := NewMonitor(0.2)

	m.RecordRead("stub", "tok")
	m.RecordRead("stub", "tok")
	m.RecordRead("stub", "tok")

	snap := m.Snapshot()
	stats, ok := snap["stub.tok"]
	require.True(t, ok, "Expected feed stats for stub.tok")

	assert.Equal(t, "stub", stats.Source)
	assert.Equal(t, "tok", stats.TokenID)
	assert.Equal(t, int64(3), stats.ReadCount)
	assert.Equal(t, int64(0), stats.FailureCount)
	assert.Equal(t, 0.0, stats.FailureRate)
	assert.False(t, stats.LastReadTime.IsZero())
	assert.False(t, stats.StartTime.IsZero())
}

func TestRecordFailure_TracksRate(t *testing.T) {
	m := NewMonitor(0.2)

	m.RecordRead("stub", "tok")
	m.RecordFailure("stub", "tok")

	stats := m.Snapshot()["stub.tok"]
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.InDelta(t, 0.5, stats.FailureRate, 1e-9)
}

func TestRecordFailure_AlertsAboveThreshold(t *testing.T) {
	m := NewMonitor(0.2)

	m.RecordRead("stub", "tok")
	for i := 0; i < 3; i++ {
		m.RecordFailure("stub", "tok")
	}

	select {
	case alert := <-m.Alerts():
		assert.Equal(t, "warn", alert.Level)
		assert.Equal(t, "tok", alert.TokenID)
		assert.Contains(t, alert.Message, "failure rate")
	default:
		t.Fatal("expected a failure-rate alert")
	}
}

func TestRecordFailure_NoAlertUnderThreeFailures(t *testing.T) {
	m := NewMonitor(0.2)

	// 100% failure rate but only one observation: too little signal.
	m.RecordFailure("stub", "tok")

	select {
	case alert := <-m.Alerts():
		t.Fatalf("unexpected alert: %s", alert.Message)
	default:
	}
}

func TestCheckStaleFeeds(t *testing.T) {
	m := NewMonitor(0.2)
	m.staleTimeoutSec = 1

	m.RecordRead("stub", "tok")

	// Backdate the feed past the stale window.
	m.mu.Lock()
	m.stats["stub.tok"].LastReadTime = time.Now().Add(-5 * time.Second)
	m.mu.Unlock()

	m.checkStaleFeeds()

	select {
	case alert := <-m.Alerts():
		assert.Equal(t, "critical", alert.Level)
		assert.Contains(t, alert.Message, "stale")
	default:
		t.Fatal("expected a stale-feed alert")
	}
}

func TestEvict(t *testing.T) {
	m := NewMonitor(0.2)
	m.RecordRead("stub", "tok")
	m.Evict("stub", "tok")

	assert.Empty(t, m.Snapshot())
}

func TestStart_StopsOnCancel(t *testing.T) {
	m := NewMonitor(0.2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on context cancel")
	}
}
