package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Alert dispatch — fire-and-forget notifications for threshold breaches and
// pattern detections. Delivery failure is logged, never fatal to the core.
// ---------------------------------------------------------------------------

// Priority orders alerts for downstream routing.
type Priority string

const (
	PriorityStandard Priority = "standard"
	PriorityHigh     Priority = "high"
)

// Alert is one outbound notification.
type Alert struct {
	ID        string    `json:"id"`
	TokenID   string    `json:"token_id"`
	Kind      string    `json:"kind"` // event name or pattern type
	Priority  Priority  `json:"priority"`
	Message   string    `json:"message"`
	RiskScore float64   `json:"risk_score,omitempty"`
	Ts        time.Time `json:"ts"`
}

// New builds an alert with a generated ID and current timestamp.
func New(tokenID, kind string, priority Priority, message string) Alert {
	return Alert{
		ID:       uuid.New().String(),
		TokenID:  tokenID,
		Kind:     kind,
		Priority: priority,
		Message:  message,
		Ts:       time.Now(),
	}
}

// Dispatcher delivers alerts. Implementations must not block the caller and
// must swallow delivery errors.
type Dispatcher interface {
	SendAlert(ctx context.Context, alert Alert)
}

// LogDispatcher writes alerts to the structured log. Used standalone in
// dry-run mode and as a safety net behind real transports.
type LogDispatcher struct{}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

func (d *LogDispatcher) SendAlert(_ context.Context, alert Alert) {
	ev := log.Info()
	if alert.Priority == PriorityHigh {
		ev = log.Warn()
	}
	ev.
		Str("token", alert.TokenID).
		Str("kind", alert.Kind).
		Str("priority", string(alert.Priority)).
		Float64("risk_score", alert.RiskScore).
		Msg("ALERT: " + alert.Message)
}

// MultiDispatcher fans one alert out to several dispatchers.
type MultiDispatcher struct {
	dispatchers []Dispatcher
}

// NewMultiDispatcher creates a fan-out dispatcher.
func NewMultiDispatcher(dispatchers ...Dispatcher) *MultiDispatcher {
	return &MultiDispatcher{dispatchers: dispatchers}
}

func (d *MultiDispatcher) SendAlert(ctx context.Context, alert Alert) {
	for _, dispatcher := range d.dispatchers {
		dispatcher.SendAlert(ctx, alert)
	}
}
