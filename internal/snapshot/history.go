package snapshot

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Snapshot history — bounded, time-ordered metric buffers per token.
// Retention is dual: capacity cap and age window, whichever bites first.
// ---------------------------------------------------------------------------

// LiquiditySnapshot is one immutable metrics reading for a token.
type LiquiditySnapshot struct {
	TokenID               string    `json:"token_id"`
	Timestamp             time.Time `json:"timestamp"`
	LiquidityUSD          float64   `json:"liquidity_usd"`
	Price                 float64   `json:"price"`
	Volume24h             float64   `json:"volume_24h"`
	HolderCount           int64     `json:"holder_count"`
	CreatorBalancePercent float64   `json:"creator_balance_percent"`
	SourceTag             string    `json:"source_tag"`
}

// HistoryConfig configures per-token snapshot retention.
type HistoryConfig struct {
	MaxEntries int `yaml:"max_entries"` // capacity cap per token (default 360)
	MaxAgeMin  int `yaml:"max_age_min"` // age window in minutes (default 180)
}

// DefaultHistoryConfig returns production defaults: 360 entries / 3 hours.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		MaxEntries: 360,
		MaxAgeMin:  180,
	}
}

// History holds bounded snapshot buffers keyed by token.
type History struct {
	config HistoryConfig

	mu      sync.RWMutex
	buffers map[string][]LiquiditySnapshot
}

// NewHistory creates an empty snapshot history.
func NewHistory(config HistoryConfig) *History {
	return &History{
		config:  config,
		buffers: make(map[string][]LiquiditySnapshot),
	}
}

// Append inserts a snapshot and trims the token's buffer to retention.
// Out-of-order snapshots are dropped to keep buffers strictly time-ordered.
func (h *History) Append(tokenID string, snap LiquiditySnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := h.buffers[tokenID]
	if n := len(buf); n > 0 && !snap.Timestamp.After(buf[n-1].Timestamp) {
		log.Debug().
			Str("token", tokenID).
			Time("ts", snap.Timestamp).
			Msg("history: dropped out-of-order snapshot")
		return
	}

	buf = append(buf, snap)

	// Capacity cap.
	if len(buf) > h.config.MaxEntries {
		buf = buf[len(buf)-h.config.MaxEntries:]
	}

	// Age window.
	cutoff := snap.Timestamp.Add(-time.Duration(h.config.MaxAgeMin) * time.Minute)
	drop := 0
	for drop < len(buf) && buf[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		buf = buf[drop:]
	}

	h.buffers[tokenID] = buf
}

// Get returns a copy of the token's buffer, oldest first.
func (h *History) Get(tokenID string) []LiquiditySnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	buf := h.buffers[tokenID]
	out := make([]LiquiditySnapshot, len(buf))
	copy(out, buf)
	return out
}

// Latest returns the newest snapshot for the token, if any.
func (h *History) Latest(tokenID string) (LiquiditySnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	buf := h.buffers[tokenID]
	if len(buf) == 0 {
		return LiquiditySnapshot{}, false
	}
	return buf[len(buf)-1], true
}

// MaxLiquidity returns the highest liquidity ever recorded for the token.
func (h *History) MaxLiquidity(tokenID string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	max := 0.0
	for _, s := range h.buffers[tokenID] {
		if s.LiquidityUSD > max {
			max = s.LiquidityUSD
		}
	}
	return max
}

// Evict removes all snapshots for a token.
func (h *History) Evict(tokenID string) {
	h.mu.Lock()
	delete(h.buffers, tokenID)
	h.mu.Unlock()
}

// Stats returns history statistics.
type HistoryStats struct {
	TrackedTokens  int `json:"tracked_tokens"`
	TotalSnapshots int `json:"total_snapshots"`
}

func (h *History) Stats() HistoryStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, buf := range h.buffers {
		total += len(buf)
	}
	return HistoryStats{
		TrackedTokens:  len(h.buffers),
		TotalSnapshots: total,
	}
}
