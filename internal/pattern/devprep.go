package pattern

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// detectDevPreparation accumulates confidence from independent dev-wallet
// signals: elevated recent activity, activity above the 24h baseline, fresh
// dev-controlled wallets, and token movement toward exchange wallets.
func (d *Detector) detectDevPreparation(ctx context.Context, tokenID string) (RugPattern, bool) {
	confidence := 0.0
	var indicators []string

	activity1h, err := d.dev.Get1hActivityPercent(ctx, tokenID)
	if err != nil {
		log.Warn().Err(err).Str("token", tokenID).Msg("pattern: dev 1h activity unavailable")
		activity1h = 0
	}
	activity24h, err := d.dev.Get24hActivityPercent(ctx, tokenID)
	if err != nil {
		activity24h = 0
	}

	if activity1h > d.config.DevActivity1hPct {
		confidence += 0.3
		indicators = append(indicators, fmt.Sprintf("dev wallet activity %.0f%% in last hour", activity1h))
	}
	if activity24h > 0 && activity1h > activity24h*d.config.DevBaselineMultiple {
		confidence += 0.2
		indicators = append(indicators, fmt.Sprintf("1h activity %.0f%% is over %.0fx the 24h baseline %.0f%%",
			activity1h, d.config.DevBaselineMultiple, activity24h))
	}

	newWallets, err := d.dev.ListNewDevWallets(ctx, tokenID)
	if err != nil {
		newWallets = nil
	}
	if len(newWallets) > 0 {
		confidence += 0.2
		indicators = append(indicators, fmt.Sprintf("%d newly created dev-controlled wallets", len(newWallets)))
	}

	exchangeMove, err := d.dev.HasRecentExchangeMovement(ctx, tokenID)
	if err != nil {
		exchangeMove = false
	}
	if exchangeMove {
		confidence += 0.3
		indicators = append(indicators, "token moved to known exchange wallet within 24h")
	}

	if confidence == 0 {
		return RugPattern{}, false
	}
	if confidence > d.config.DevMaxConfidence {
		confidence = d.config.DevMaxConfidence
	}

	severity := SeverityMedium
	if confidence >= 0.7 {
		severity = SeverityHigh
	}

	return RugPattern{
		Type:                      TypeDevPreparation,
		Confidence:                confidence,
		Severity:                  severity,
		Indicators:                indicators,
		EstimatedTimeToRugMinutes: d.config.DevTimeToRugMin,
	}, true
}
