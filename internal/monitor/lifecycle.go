package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akalavre/panicswap-production-sub000/internal/snapshot"
	"github.com/akalavre/panicswap-production-sub000/internal/sources"
)

// lifecycleManager decides when a token's liquidity collapse is a permanent
// rug rather than a thin new listing. The guards here are the main defense
// against mis-classifying legitimately small tokens.
type lifecycleManager struct {
	config    Config
	lifecycle sources.TokenLifecycleSource
	history   *snapshot.History
}

func newLifecycleManager(config Config, lifecycle sources.TokenLifecycleSource, history *snapshot.History) *lifecycleManager {
	return &lifecycleManager{
		config:    config,
		lifecycle: lifecycle,
		history:   history,
	}
}

// shouldMarkRugged reports whether the token must be terminated as rugged.
// False positives are guarded three ways: newly-added tokens, tokens younger
// than the minimum age, and tokens whose history never exceeded the floor
// (they never had liquidity to lose).
func (m *lifecycleManager) shouldMarkRugged(ctx context.Context, tokenID string, snap snapshot.LiquiditySnapshot) bool {
	if snap.LiquidityUSD >= m.config.RugLiquidityFloorUSD {
		return false
	}

	if m.lifecycle.IsNewlyAdded(ctx, tokenID) {
		log.Debug().Str("token", tokenID).Msg("lifecycle: below floor but newly added, skipping rug check")
		return false
	}

	minAge := time.Duration(m.config.RugMinAgeMin) * time.Minute
	if age := m.lifecycle.Age(ctx, tokenID); age < minAge {
		log.Debug().
			Str("token", tokenID).
			Dur("age", age).
			Msg("lifecycle: below floor but too young, skipping rug check")
		return false
	}

	if m.history.MaxLiquidity(tokenID) <= m.config.RugLiquidityFloorUSD {
		log.Debug().Str("token", tokenID).Msg("lifecycle: token never held liquidity, skipping rug check")
		return false
	}

	return true
}
