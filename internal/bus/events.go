package bus

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Outbound events — every detection the core emits, statically typed.
// ---------------------------------------------------------------------------

// BaseEvent contains fields common to all events.
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"ts"`
	SchemaVersion string    `json:"schema_version"`
	Producer      string    `json:"producer"`
}

// NewBaseEvent creates a new BaseEvent with a generated ID.
func NewBaseEvent(producer, schemaVersion string) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		Timestamp:     time.Now(),
		SchemaVersion: schemaVersion,
		Producer:      producer,
	}
}

// Event is implemented by every outbound event payload. EventName doubles as
// the routing key class (Kafka topic suffix, websocket channel).
type Event interface {
	EventName() string
	Token() string
}

// VelocityFigures carries the velocity readings that triggered an alert.
type VelocityFigures struct {
	Liquidity10sPct float64 `json:"liquidity_10s_pct"`
	Liquidity30sPct float64 `json:"liquidity_30s_pct"`
	Liquidity1mRate float64 `json:"liquidity_1m_rate"`
	Liquidity5mRate float64 `json:"liquidity_5m_rate"`
	Price10sPct     float64 `json:"price_10s_pct"`
	Price1mRate     float64 `json:"price_1m_rate"`
}

// FlashRug signals a liquidity collapse detected within tens of seconds.
type FlashRug struct {
	BaseEvent
	TokenID      string          `json:"token_id"`
	LiquidityUSD float64         `json:"liquidity_usd"`
	Velocity     VelocityFigures `json:"velocity"`
}

func (e FlashRug) EventName() string { return "flash-rug" }
func (e FlashRug) Token() string     { return e.TokenID }

// RapidDrain signals sustained fast liquidity removal.
type RapidDrain struct {
	BaseEvent
	TokenID      string          `json:"token_id"`
	LiquidityUSD float64         `json:"liquidity_usd"`
	Velocity     VelocityFigures `json:"velocity"`
}

func (e RapidDrain) EventName() string { return "rapid-drain" }
func (e RapidDrain) Token() string     { return e.TokenID }

// SlowBleed signals a gradual multi-hour liquidity drain.
type SlowBleed struct {
	BaseEvent
	TokenID      string  `json:"token_id"`
	LiquidityUSD float64 `json:"liquidity_usd"`
}

func (e SlowBleed) EventName() string { return "slow-bleed" }
func (e SlowBleed) Token() string     { return e.TokenID }

// CreatorSelling signals the creator wallet unloading its balance.
type CreatorSelling struct {
	BaseEvent
	TokenID               string  `json:"token_id"`
	CreatorBalancePercent float64 `json:"creator_balance_percent"`
	Creator5mRate         float64 `json:"creator_5m_rate"`
}

func (e CreatorSelling) EventName() string { return "creator-selling" }
func (e CreatorSelling) Token() string     { return e.TokenID }

// TokenRugged is the terminal event for a token: liquidity is gone and the
// false-positive guards have all passed. Emitted exactly once per token.
type TokenRugged struct {
	BaseEvent
	TokenID           string  `json:"token_id"`
	FinalLiquidityUSD float64 `json:"final_liquidity_usd"`
}

func (e TokenRugged) EventName() string { return "token-rugged" }
func (e TokenRugged) Token() string     { return e.TokenID }

// HighRiskPattern signals that the pattern sweep scored a token at or above
// the standard emit threshold.
type HighRiskPattern struct {
	BaseEvent
	TokenID        string   `json:"token_id"`
	OverallRisk    float64  `json:"overall_risk"`
	Recommendation string   `json:"recommendation"`
	PatternTypes   []string `json:"pattern_types"`
	HighPriority   bool     `json:"high_priority"`
}

func (e HighRiskPattern) EventName() string { return "high-risk-pattern" }
func (e HighRiskPattern) Token() string     { return e.TokenID }
