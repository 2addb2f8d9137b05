package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akalavre/panicswap-production-sub000/internal/bus"
)

// EventRow represents a single outbound event row for ClickHouse insertion.
// Maps to the sentinel_events table.
type EventRow struct {
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"ts"`
	EventName   string    `json:"event_name"`
	TokenID     string    `json:"token_id"`
	Producer    string    `json:"producer"`
	PayloadJSON string    `json:"payload_json"`
}

// RollupRow represents a daily monitoring rollup row.
// Maps to the monitoring_rollup_daily table.
type RollupRow struct {
	Date               time.Time `json:"date"`
	InstanceID         string    `json:"instance_id"`
	TokensTracked      uint32    `json:"tokens_tracked"`
	RugsDetected       uint32    `json:"rugs_detected"`
	HighPriorityAlerts uint32    `json:"high_priority_alerts"`
	StandardAlerts     uint32    `json:"standard_alerts"`
	SweepsComplete     uint32    `json:"sweeps_complete"`
}

// EventWriter archives every emitted event to ClickHouse in batches. It
// implements bus.Sink, so it composes with the Kafka sink via bus.MultiSink.
type EventWriter struct {
	client        *Client
	dbPrefix      string
	batchSize     int
	flushInterval time.Duration

	mu        sync.Mutex
	eventBuf  []EventRow
	rollupBuf []RollupRow
	closed    bool

	flushCount atomic.Int64
	errorCount atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}

	// flushHook replaces real writes during testing.
	flushHook func(ctx context.Context, table string, rows [][]any) error
}

// NewEventWriter creates a new event archive batch writer.
func NewEventWriter(client *Client, dbPrefix string, batchSize int, flushInterval time.Duration) *EventWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	return &EventWriter{
		client:        client,
		dbPrefix:      dbPrefix,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		eventBuf:      make([]EventRow, 0, batchSize),
		rollupBuf:     make([]RollupRow, 0, 64),
	}
}

func (w *EventWriter) tableName(name string) string {
	if w.dbPrefix == "" {
		return name
	}
	return w.dbPrefix + "." + name
}

// Emit buffers one outbound event. Implements bus.Sink.
func (w *EventWriter) Emit(ctx context.Context, event bus.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventName(), err)
	}

	// Every event embeds bus.BaseEvent, so its identity fields come back out
	// of the payload.
	var base struct {
		EventID   string    `json:"event_id"`
		Timestamp time.Time `json:"ts"`
		Producer  string    `json:"producer"`
	}
	_ = json.Unmarshal(payload, &base)
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now()
	}

	row := EventRow{
		EventID:     base.EventID,
		Timestamp:   base.Timestamp,
		EventName:   event.EventName(),
		TokenID:     event.Token(),
		Producer:    base.Producer,
		PayloadJSON: string(payload),
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("event writer is closed")
	}
	w.eventBuf = append(w.eventBuf, row)
	needsFlush := len(w.eventBuf) >= w.batchSize
	w.mu.Unlock()

	if needsFlush {
		return w.Flush(ctx)
	}
	return nil
}

// WriteRollup adds a daily rollup row to the buffer.
func (w *EventWriter) WriteRollup(_ context.Context, row RollupRow) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("event writer is closed")
	}
	w.rollupBuf = append(w.rollupBuf, row)
	w.mu.Unlock()
	return nil
}

// Start begins the background flush loop.
func (w *EventWriter) Start(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()

		log.Info().
			Str("prefix", w.dbPrefix).
			Int("batch_size", w.batchSize).
			Dur("flush_interval", w.flushInterval).
			Msg("clickhouse: event writer started")

		for {
			select {
			case <-bgCtx.Done():
				if err := w.Flush(context.Background()); err != nil {
					log.Error().Err(err).Msg("clickhouse: event writer final flush error")
				}
				return
			case <-ticker.C:
				if err := w.Flush(bgCtx); err != nil {
					log.Error().Err(err).Msg("clickhouse: event writer periodic flush error")
				}
			}
		}
	}()
}

// Flush writes all buffered rows to ClickHouse.
func (w *EventWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	eventRows := w.eventBuf
	rollupRows := w.rollupBuf
	w.eventBuf = make([]EventRow, 0, w.batchSize)
	w.rollupBuf = make([]RollupRow, 0, 64)
	w.mu.Unlock()

	if len(eventRows) == 0 && len(rollupRows) == 0 {
		return nil
	}

	var firstErr error

	if len(eventRows) > 0 {
		if err := w.flushEvents(ctx, eventRows); err != nil {
			log.Error().Err(err).Int("count", len(eventRows)).Msg("clickhouse: flush events failed")
			w.errorCount.Add(1)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(rollupRows) > 0 {
		if err := w.flushRollups(ctx, rollupRows); err != nil {
			log.Error().Err(err).Int("count", len(rollupRows)).Msg("clickhouse: flush rollups failed")
			w.errorCount.Add(1)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	w.flushCount.Add(1)
	log.Debug().
		Int("events", len(eventRows)).
		Int("rollups", len(rollupRows)).
		Msg("clickhouse: event writer flushed")

	return firstErr
}

func (w *EventWriter) flushEvents(ctx context.Context, rows []EventRow) error {
	if w.flushHook != nil {
		generic := make([][]any, len(rows))
		for i, r := range rows {
			generic[i] = []any{
				r.EventID, r.Timestamp, r.EventName,
				r.TokenID, r.Producer, r.PayloadJSON,
			}
		}
		return w.flushHook(ctx, w.tableName("sentinel_events"), generic)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (event_id, ts, event_name, token_id, producer, payload_json)",
		w.tableName("sentinel_events"))

	batch, err := w.client.Conn().PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare event batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.EventID, r.Timestamp, r.EventName,
			r.TokenID, r.Producer, r.PayloadJSON,
		); err != nil {
			return fmt.Errorf("append event row: %w", err)
		}
	}

	return batch.Send()
}

func (w *EventWriter) flushRollups(ctx context.Context, rows []RollupRow) error {
	if w.flushHook != nil {
		generic := make([][]any, len(rows))
		for i, r := range rows {
			generic[i] = []any{
				r.Date, r.InstanceID, r.TokensTracked,
				r.RugsDetected, r.HighPriorityAlerts,
				r.StandardAlerts, r.SweepsComplete,
			}
		}
		return w.flushHook(ctx, w.tableName("monitoring_rollup_daily"), generic)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (date, instance_id, tokens_tracked, rugs_detected, "+
			"high_priority_alerts, standard_alerts, sweeps_complete)",
		w.tableName("monitoring_rollup_daily"))

	batch, err := w.client.Conn().PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare rollup batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.Date, r.InstanceID, r.TokensTracked,
			r.RugsDetected, r.HighPriorityAlerts,
			r.StandardAlerts, r.SweepsComplete,
		); err != nil {
			return fmt.Errorf("append rollup row: %w", err)
		}
	}

	return batch.Send()
}

// Close stops the background writer and performs a final flush.
func (w *EventWriter) Close() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	if err := w.Flush(context.Background()); err != nil {
		log.Error().Err(err).Msg("clickhouse: event writer final flush on close failed")
		return err
	}

	log.Info().
		Int64("flushes", w.flushCount.Load()).
		Int64("errors", w.errorCount.Load()).
		Msg("clickhouse: event writer closed")
	return nil
}

// Stats returns writer statistics.
func (w *EventWriter) Stats() (flushCount, errorCount int64, pendingEvents, pendingRollups int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushCount.Load(), w.errorCount.Load(), len(w.eventBuf), len(w.rollupBuf)
}

// SetFlushHook sets a test hook. Intended for testing only.
func (w *EventWriter) SetFlushHook(hook func(ctx context.Context, table string, rows [][]any) error) {
	w.flushHook = hook
}
