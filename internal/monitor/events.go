package monitor

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/akalavre/panicswap-production-sub000/internal/alerts"
	"github.com/akalavre/panicswap-production-sub000/internal/bus"
	"github.com/akalavre/panicswap-production-sub000/internal/classify"
	"github.com/akalavre/panicswap-production-sub000/internal/snapshot"
	"github.com/akalavre/panicswap-production-sub000/internal/velocity"
)

// emitThresholdEvents publishes one event per alert condition, once per
// continuous episode: the event fires when its flag first raises and can
// fire again only after the flag has cleared. st.fired is only touched from
// the token's own loop goroutine.
func (e *Engine) emitThresholdEvents(ctx context.Context, st *tokenState, snap snapshot.LiquiditySnapshot, v *velocity.VelocityData, flags classify.AlertFlags) {
	if v == nil {
		return
	}

	figures := bus.VelocityFigures{
		Liquidity10sPct: v.Abs10s.Liquidity,
		Liquidity30sPct: v.Abs30s.Liquidity,
		Liquidity1mRate: v.Rate1m.Liquidity,
		Liquidity5mRate: v.Rate5m.Liquidity,
		Price10sPct:     v.Abs10s.Price,
		Price1mRate:     v.Rate1m.Price,
	}

	e.episode(st, "flash-rug", flags.FlashRug, func() {
		e.emit(ctx, bus.FlashRug{
			BaseEvent:    bus.NewBaseEvent("monitor", "1.0.0"),
			TokenID:      st.tokenID,
			LiquidityUSD: snap.LiquidityUSD,
			Velocity:     figures,
		})
		e.dispatcher.SendAlert(ctx, alerts.New(st.tokenID, "flash-rug", alerts.PriorityHigh,
			"flash liquidity collapse detected"))
	})

	e.episode(st, "rapid-drain", flags.RapidDrain, func() {
		e.emit(ctx, bus.RapidDrain{
			BaseEvent:    bus.NewBaseEvent("monitor", "1.0.0"),
			TokenID:      st.tokenID,
			LiquidityUSD: snap.LiquidityUSD,
			Velocity:     figures,
		})
		e.dispatcher.SendAlert(ctx, alerts.New(st.tokenID, "rapid-drain", alerts.PriorityHigh,
			"rapid liquidity drain detected"))
	})

	e.episode(st, "slow-bleed", flags.SlowBleed, func() {
		e.emit(ctx, bus.SlowBleed{
			BaseEvent:    bus.NewBaseEvent("monitor", "1.0.0"),
			TokenID:      st.tokenID,
			LiquidityUSD: snap.LiquidityUSD,
		})
		e.dispatcher.SendAlert(ctx, alerts.New(st.tokenID, "slow-bleed", alerts.PriorityStandard,
			"sustained slow liquidity drain detected"))
	})

	e.episode(st, "creator-selling", flags.CreatorSelling, func() {
		e.emit(ctx, bus.CreatorSelling{
			BaseEvent:             bus.NewBaseEvent("monitor", "1.0.0"),
			TokenID:               st.tokenID,
			CreatorBalancePercent: snap.CreatorBalancePercent,
			Creator5mRate:         v.Rate5m.CreatorBalance,
		})
		e.dispatcher.SendAlert(ctx, alerts.New(st.tokenID, "creator-selling", alerts.PriorityHigh,
			"creator wallet is unloading its balance"))
	})
}

// episode runs fire once per raised episode of a flag.
func (e *Engine) episode(st *tokenState, name string, raised bool, fire func()) {
	if !raised {
		delete(st.fired, name)
		return
	}
	if st.fired[name] {
		return
	}
	st.fired[name] = true
	fire()
}

func (e *Engine) emit(ctx context.Context, event bus.Event) {
	if err := e.sink.Emit(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("event", event.EventName()).
			Str("token", event.Token()).
			Msg("monitor: event emit failed")
	}
}
