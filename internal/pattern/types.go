package pattern

// PatternType identifies a rug-pattern family.
type PatternType string

const (
	TypeFlashRug         PatternType = "flash_rug"
	TypeSlowBleed        PatternType = "slow_bleed"
	TypeHoneypotEvolving PatternType = "honeypot_evolution"
	TypeCoordinatedDump  PatternType = "coordinated_dump"
	TypeDevPreparation   PatternType = "dev_preparation"
)

func (t PatternType) String() string { return string(t) }

// Severity grades how damaging a detected pattern is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) String() string { return string(s) }

// RugPattern is one detector's finding for a token.
type RugPattern struct {
	Type       PatternType `json:"type"`
	Confidence float64     `json:"confidence"` // 0-1
	Indicators []string    `json:"indicators"` // ordered evidence
	Severity   Severity    `json:"severity"`

	// EstimatedTimeToRugMinutes is 0 when the detector offers no estimate.
	EstimatedTimeToRugMinutes int `json:"estimated_time_to_rug_minutes,omitempty"`
}
