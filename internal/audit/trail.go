package audit

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Entry action types.
const (
	ActionTrack     = "track"
	ActionUntrack   = "untrack"
	ActionRugged    = "rugged"
	ActionThreshold = "threshold_event"
	ActionAnalysis  = "risk_analysis"
)

// Entry is a single audit trail record. Every tracking decision and every
// detection the sentinel makes gets recorded, creating a queryable log for
// postmortems on missed or false alerts.
type Entry struct {
	TokenID   string    `json:"token_id"`
	Action    string    `json:"action"` // track|untrack|rugged|threshold_event|risk_analysis
	Timestamp time.Time `json:"ts"`
	Detail    string    `json:"detail,omitempty"`  // event name, recommendation, caller note
	Payload   string    `json:"payload,omitempty"` // JSON of the full event or analysis
}

// Trail keeps a capped in-memory ring of audit entries. Once the buffer is
// full the oldest entries are discarded (FIFO). A maxBuf of 0 disables
// buffering and reduces the trail to log output.
type Trail struct {
	mu      sync.Mutex
	entries []Entry
	maxBuf  int
	total   int64
}

// NewTrail creates an audit trail holding at most maxBuf entries.
func NewTrail(maxBuf int) *Trail {
	if maxBuf < 0 {
		maxBuf = 0
	}
	return &Trail{
		entries: make([]Entry, 0, maxBuf),
		maxBuf:  maxBuf,
	}
}

// Record appends an entry. payload may be nil.
func (t *Trail) Record(tokenID, action, detail string, payload any) {
	entry := Entry{
		TokenID:   tokenID,
		Action:    action,
		Timestamp: time.Now(),
		Detail:    detail,
	}
	if payload != nil {
		entry.Payload = mustMarshal(payload)
	}

	t.mu.Lock()
	t.total++
	if t.maxBuf > 0 {
		if len(t.entries) >= t.maxBuf {
			// Shift left: discard the oldest entry.
			copy(t.entries, t.entries[1:])
			t.entries[len(t.entries)-1] = entry
		} else {
			t.entries = append(t.entries, entry)
		}
	}
	t.mu.Unlock()

	log.Debug().
		Str("token", tokenID).
		Str("action", action).
		Str("detail", detail).
		Msg("audit: recorded")
}

// Query returns all buffered entries for a token, oldest first.
func (t *Trail) Query(tokenID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []Entry
	for _, e := range t.entries {
		if e.TokenID == tokenID {
			result = append(result, e)
		}
	}
	return result
}

// Entries returns a copy of the whole buffer, oldest first.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]Entry, len(t.entries))
	copy(result, t.entries)
	return result
}

// Len returns the number of buffered entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Total returns the count of entries ever recorded, including evicted ones.
func (t *Trail) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func mustMarshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("audit: payload marshal failed")
		return "{}"
	}
	return string(data)
}
