package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// detectCoordinatedDump buckets large sells from the current 5-minute window
// and fires when enough distinct wallets dumped together. Related wallets
// (per the relation source) push confidence from 0.7 to 0.9.
func (d *Detector) detectCoordinatedDump(ctx context.Context, tokenID string) (RugPattern, bool) {
	window := time.Duration(d.config.DumpWindowMin) * time.Minute
	txs, err := d.sells.ListRecentSells(ctx, tokenID, time.Now().Add(-window))
	if err != nil {
		log.Warn().Err(err).Str("token", tokenID).Msg("pattern: sell history unavailable for dump check")
		return RugPattern{}, false
	}

	largeSellMin := decimal.NewFromFloat(d.config.LargeSellUSD)
	wallets := make(map[string]bool)
	total := decimal.Zero
	for _, tx := range txs {
		if tx.AmountUSD.LessThan(largeSellMin) {
			continue
		}
		wallets[tx.WalletAddress] = true
		total = total.Add(tx.AmountUSD)
	}

	if len(wallets) < d.config.DumpMinWallets {
		return RugPattern{}, false
	}

	walletList := make([]string, 0, len(wallets))
	for w := range wallets {
		walletList = append(walletList, w)
	}

	confidence := 0.7
	related := false
	if d.relations != nil {
		related, err = d.relations.AreWalletsRelated(ctx, walletList)
		if err != nil {
			log.Warn().Err(err).Str("token", tokenID).Msg("pattern: wallet relation lookup failed")
			related = false
		}
	}
	if related {
		confidence = 0.9
	}

	severity := SeverityHigh
	if total.GreaterThan(decimal.NewFromFloat(d.config.DumpCriticalUSD)) {
		severity = SeverityCritical
	}

	indicators := []string{
		fmt.Sprintf("%d wallets sold >= $%.0f within %dm (total $%s)",
			len(wallets), d.config.LargeSellUSD, d.config.DumpWindowMin, total.StringFixed(0)),
	}
	if related {
		indicators = append(indicators, "selling wallets have transacted with each other")
	}

	return RugPattern{
		Type:                      TypeCoordinatedDump,
		Confidence:                confidence,
		Severity:                  severity,
		Indicators:                indicators,
		EstimatedTimeToRugMinutes: d.config.DumpTimeToRugMin,
	}, true
}
