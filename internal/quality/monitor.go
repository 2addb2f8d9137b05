package quality

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TokenStats tracks source health for a single source+token feed.
type TokenStats struct {
	Source       string    `json:"source"`
	TokenID      string    `json:"token_id"`
	LastReadTime time.Time `json:"last_read_time"`
	ReadCount    int64     `json:"read_count"`
	FailureCount int64     `json:"failure_count"`
	FailureRate  float64   `json:"failure_rate"`
	StartTime    time.Time `json:"start_time"`
}

// Alert flags a degraded source feed.
type Alert struct {
	Level   string    `json:"level"` // warn|critical
	Source  string    `json:"source"`
	TokenID string    `json:"token_id"`
	Message string    `json:"message"`
	Ts      time.Time `json:"ts"`
}

// Monitor tracks read health across metric source feeds. A token being
// scored from stale or failing reads is worse than one not scored at all,
// so stale and failure-heavy feeds raise alerts.
type Monitor struct {
	mu              sync.RWMutex
	stats           map[string]*TokenStats // key: "source.token"
	alertCh         chan Alert
	failureRateWarn float64
	staleTimeoutSec int
}

// NewMonitor creates a source health monitor. failureRateWarn is the
// failure share (0-1) above which a feed gets flagged.
func NewMonitor(failureRateWarn float64) *Monitor {
	if failureRateWarn <= 0 {
		failureRateWarn = 0.2
	}
	return &Monitor{
		stats:           make(map[string]*TokenStats),
		alertCh:         make(chan Alert, 256),
		failureRateWarn: failureRateWarn,
		staleTimeoutSec: 90,
	}
}

func feedKey(source, tokenID string) string {
	return fmt.Sprintf("%s.%s", source, tokenID)
}

// getOrCreate returns existing stats or initializes new ones for the feed.
// Caller must hold m.mu write lock.
func (m *Monitor) getOrCreate(source, tokenID string) *TokenStats {
	key := feedKey(source, tokenID)
	stats, ok := m.stats[key]
	if !ok {
		stats = &TokenStats{
			Source:    source,
			TokenID:   tokenID,
			StartTime: time.Now(),
		}
		m.stats[key] = stats
	}
	return stats
}

// RecordRead records one successful metric read for the feed.
func (m *Monitor) RecordRead(source, tokenID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(source, tokenID)
	stats.LastReadTime = time.Now()
	stats.ReadCount++
	stats.FailureRate = float64(stats.FailureCount) / float64(stats.ReadCount+stats.FailureCount)
}

// RecordFailure records one failed metric read and checks the failure-rate
// threshold.
func (m *Monitor) RecordFailure(source, tokenID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(source, tokenID)
	stats.FailureCount++
	stats.FailureRate = float64(stats.FailureCount) / float64(stats.ReadCount+stats.FailureCount)

	if stats.FailureRate > m.failureRateWarn && stats.FailureCount >= 3 {
		m.emitAlert(Alert{
			Level:   "warn",
			Source:  source,
			TokenID: tokenID,
			Message: fmt.Sprintf("Feed failure rate %.0f%% exceeds %.0f%%", stats.FailureRate*100, m.failureRateWarn*100),
			Ts:      time.Now(),
		})
	}
}

// Evict drops a feed's stats, typically when its token is untracked.
func (m *Monitor) Evict(source, tokenID string) {
	m.mu.Lock()
	delete(m.stats, feedKey(source, tokenID))
	m.mu.Unlock()
}

// Alerts returns the read-only alert channel.
func (m *Monitor) Alerts() <-chan Alert {
	return m.alertCh
}

// Snapshot returns a copy of all current feed stats.
func (m *Monitor) Snapshot() map[string]TokenStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := make(map[string]TokenStats, len(m.stats))
	for k, v := range m.stats {
		snap[k] = *v
	}
	return snap
}

// Start begins the background goroutine that checks for stale feeds every
// 10s. It blocks until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	log.Info().
		Float64("failure_rate_warn", m.failureRateWarn).
		Int("stale_timeout_sec", m.staleTimeoutSec).
		Msg("Quality monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Quality monitor stopped")
			return
		case <-ticker.C:
			m.checkStaleFeeds()
		}
	}
}

// checkStaleFeeds emits critical alerts for feeds with no successful read
// for more than staleTimeoutSec. A tracked token should be read at least
// every 30s even at the slowest polling cadence.
func (m *Monitor) checkStaleFeeds() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	for _, stats := range m.stats {
		if stats.LastReadTime.IsZero() {
			continue
		}
		staleDur := now.Sub(stats.LastReadTime)
		if staleDur > time.Duration(m.staleTimeoutSec)*time.Second {
			m.emitAlert(Alert{
				Level:   "critical",
				Source:  stats.Source,
				TokenID: stats.TokenID,
				Message: fmt.Sprintf("Feed stale for >%ds (last read %.1fs ago)", m.staleTimeoutSec, staleDur.Seconds()),
				Ts:      now,
			})
		}
	}
}

// emitAlert sends an alert to the channel without blocking.
// If the channel is full, the alert is dropped and a warning is logged.
func (m *Monitor) emitAlert(alert Alert) {
	select {
	case m.alertCh <- alert:
	default:
		log.Warn().
			Str("source", alert.Source).
			Str("token", alert.TokenID).
			Str("level", alert.Level).
			Str("message", alert.Message).
			Msg("Alert channel full, dropping alert")
	}
}
