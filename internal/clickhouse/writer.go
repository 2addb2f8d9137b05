package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akalavre/panicswap-production-sub000/internal/risk"
	"github.com/akalavre/panicswap-production-sub000/internal/velocity"
)

// FlushHook receives a table name and its pending rows. Tests inject one to
// capture flushes; production leaves it nil and rows go to ClickHouse.
type FlushHook func(ctx context.Context, table string, rows [][]any) error

// BatchWriter batches velocity snapshots and pattern alerts and flushes them
// to ClickHouse when the combined buffer reaches batchSize or on the flush
// interval. It satisfies the monitor.VelocityStore and risk.AlertStore
// interfaces so persistence stays an optional, best-effort concern for the
// callers.
type BatchWriter struct {
	client        *Client
	database      string
	batchSize     int
	flushInterval time.Duration
	hook          FlushHook

	mu          sync.Mutex
	velocityBuf [][]any
	alertBuf    [][]any
	closed      bool
	flushCount  int64
	errorCount  int64

	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewBatchWriter creates a batch writer. database prefixes table names when
// non-empty. client may be nil when a flush hook is set.
func NewBatchWriter(client *Client, database string, batchSize int, flushInterval time.Duration) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &BatchWriter{
		client:        client,
		database:      database,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		velocityBuf:   make([][]any, 0, batchSize),
		alertBuf:      make([][]any, 0, batchSize),
	}
}

// SetFlushHook replaces the ClickHouse insert path with a callback.
func (w *BatchWriter) SetFlushHook(hook FlushHook) {
	w.hook = hook
}

// StoreVelocitySnapshot buffers one velocity bundle, flushing if the combined
// buffer has reached batchSize.
func (w *BatchWriter) StoreVelocitySnapshot(ctx context.Context, v velocity.VelocityData) error {
	row := []any{
		v.TokenID,
		v.ComputedAt,
		int32(v.SampleCount),
		v.Abs10s.Liquidity,
		v.Abs20s.Liquidity,
		v.Abs30s.Liquidity,
		v.Rate1m.Liquidity,
		v.Rate5m.Liquidity,
		v.Rate30m.Liquidity,
		v.Abs10s.Price,
		v.Abs30s.Price,
		v.Rate1m.Price,
		v.Rate5m.Price,
		v.Rate5m.Volume,
		v.Rate1m.HolderCount,
		v.Rate5m.CreatorBalance,
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("writer is closed")
	}
	w.velocityBuf = append(w.velocityBuf, row)
	full := len(w.velocityBuf)+len(w.alertBuf) >= w.batchSize
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// StorePatternAlert buffers one analysis, one row per detected pattern,
// flushing if the combined buffer has reached batchSize.
func (w *BatchWriter) StorePatternAlert(ctx context.Context, analysis risk.TokenAnalysis) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("writer is closed")
	}
	for _, p := range analysis.Patterns {
		w.alertBuf = append(w.alertBuf, []any{
			analysis.TokenID,
			analysis.Timestamp,
			p.Type.String(),
			p.Confidence,
			p.Severity.String(),
			int32(p.EstimatedTimeToRugMinutes),
			analysis.OverallRisk,
			analysis.Recommendation.String(),
			p.Indicators,
		})
	}
	full := len(w.velocityBuf)+len(w.alertBuf) >= w.batchSize
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Start launches the background flush loop and returns immediately.
func (w *BatchWriter) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	w.stop = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := w.Flush(loopCtx); err != nil {
					log.Error().Err(err).Msg("clickhouse: periodic flush error")
				}
			}
		}
	}()

	log.Info().
		Int("batch_size", w.batchSize).
		Dur("flush_interval", w.flushInterval).
		Msg("clickhouse: batch writer started")
}

// Flush writes all buffered rows.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	velocities := w.velocityBuf
	alerts := w.alertBuf
	w.velocityBuf = make([][]any, 0, w.batchSize)
	w.alertBuf = make([][]any, 0, w.batchSize)
	w.mu.Unlock()

	if len(velocities) == 0 && len(alerts) == 0 {
		return nil
	}

	var firstErr error

	if len(velocities) > 0 {
		if err := w.flushTable(ctx, w.tableName("velocity_snapshots"), velocityColumns, velocities); err != nil {
			log.Error().Err(err).Int("count", len(velocities)).Msg("clickhouse: failed to flush velocity snapshots")
			w.mu.Lock()
			w.errorCount++
			w.mu.Unlock()
			firstErr = err
		}
	}

	if len(alerts) > 0 {
		if err := w.flushTable(ctx, w.tableName("pattern_alerts"), alertColumns, alerts); err != nil {
			log.Error().Err(err).Int("count", len(alerts)).Msg("clickhouse: failed to flush pattern alerts")
			w.mu.Lock()
			w.errorCount++
			w.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	w.mu.Lock()
	w.flushCount++
	w.mu.Unlock()

	log.Debug().
		Int("velocities", len(velocities)).
		Int("alerts", len(alerts)).
		Msg("clickhouse: batch flushed")

	return firstErr
}

const velocityColumns = "token_id, ts, sample_count, " +
	"liq_10s, liq_20s, liq_30s, liq_rate_1m, liq_rate_5m, liq_rate_30m, " +
	"price_10s, price_30s, price_rate_1m, price_rate_5m, " +
	"volume_rate_5m, holder_rate_1m, creator_rate_5m"

const alertColumns = "token_id, ts, pattern_type, confidence, severity, " +
	"est_time_to_rug_min, overall_risk, recommendation, indicators"

// flushTable delivers rows either to the hook or to ClickHouse.
func (w *BatchWriter) flushTable(ctx context.Context, table, columns string, rows [][]any) error {
	if w.hook != nil {
		return w.hook(ctx, table, rows)
	}
	if w.client == nil {
		return fmt.Errorf("no clickhouse client and no flush hook")
	}

	batch, err := w.client.Conn().PrepareBatch(ctx,
		fmt.Sprintf("INSERT INTO %s (%s)", table, columns))
	if err != nil {
		return fmt.Errorf("prepare batch for %s: %w", table, err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("append to %s: %w", table, err)
		}
	}
	return batch.Send()
}

func (w *BatchWriter) tableName(base string) string {
	if w.database == "" {
		return base
	}
	return w.database + "." + base
}

// Close stops the flush loop, performs a final flush and marks the writer
// closed.
func (w *BatchWriter) Close() error {
	if w.stop != nil {
		w.stop()
	}
	w.wg.Wait()

	err := w.Flush(context.Background())

	w.mu.Lock()
	w.closed = true
	flushes, errors := w.flushCount, w.errorCount
	w.mu.Unlock()

	log.Info().
		Int64("total_flushes", flushes).
		Int64("errors", errors).
		Msg("clickhouse: batch writer closed")
	return err
}

// Stats returns writer statistics.
func (w *BatchWriter) Stats() (flushCount, errorCount int64, pendingVelocities, pendingAlerts int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushCount, w.errorCount, len(w.velocityBuf), len(w.alertBuf)
}
