package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// runSweep drives the pattern detector across all tracked tokens on a fixed
// cadence, independent of per-token polling. Tokens are analyzed with a
// small bounded concurrency so the sweep cannot saturate collaborator I/O.
func (e *Engine) runSweep(ctx context.Context) {
	defer e.wg.Done()

	interval := time.Duration(e.config.SweepIntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce(ctx)
		}
	}
}

// sweepOnce analyzes every currently tracked token.
func (e *Engine) sweepOnce(ctx context.Context) {
	tokens := e.TrackedTokens()
	if len(tokens) == 0 {
		return
	}
	started := time.Now()

	limit := e.config.SweepConcurrency
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for _, tokenID := range tokens {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			// A token untracked mid-sweep is skipped, not analyzed.
			if !e.IsTracked(id) {
				return
			}
			analysis := e.aggregator.Analyze(ctx, id)
			if len(analysis.Patterns) > 0 {
				log.Debug().
					Str("token", id).
					Float64("risk", analysis.OverallRisk).
					Str("recommendation", analysis.Recommendation.String()).
					Msg("monitor: sweep analysis")
			}
		}(tokenID)
	}
	wg.Wait()

	e.sweepsComplete.Add(1)
	if e.onSweep != nil {
		e.onSweep(time.Since(started))
	}
}
