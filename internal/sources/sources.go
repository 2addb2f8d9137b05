package sources

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Collaborator interfaces — everything the risk core reads from the outside.
// Implementations live in the host platform (scrapers, indexers, RPC caches);
// the core only depends on these narrow contracts.
// ---------------------------------------------------------------------------

// MetricsSource provides current market/on-chain readings for a token.
// Each getter is independently fallible; callers degrade a failed metric to
// zero rather than aborting the cycle.
type MetricsSource interface {
	GetLiquidityUSD(ctx context.Context, tokenID string) (float64, error)
	GetPrice(ctx context.Context, tokenID string) (float64, error)
	GetVolume24h(ctx context.Context, tokenID string) (float64, error)
	GetHolderCount(ctx context.Context, tokenID string) (int64, error)
	GetCreatorBalancePercent(ctx context.Context, tokenID string) (float64, error)
}

// SellTransaction is a single observed sell attempt for a token.
type SellTransaction struct {
	Success       bool            `json:"success"`
	Timestamp     time.Time       `json:"timestamp"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
	WalletAddress string          `json:"wallet_address"`
}

// SellTransactionSource lists recent sell attempts for a token.
type SellTransactionSource interface {
	ListRecentSells(ctx context.Context, tokenID string, since time.Time) ([]SellTransaction, error)
}

// DevActivitySource exposes developer/creator wallet behaviour signals.
type DevActivitySource interface {
	// Get1hActivityPercent returns the share of token supply moved by
	// dev-controlled wallets in the last hour (0-100).
	Get1hActivityPercent(ctx context.Context, tokenID string) (float64, error)
	// Get24hActivityPercent is the 24h baseline for the same measure.
	Get24hActivityPercent(ctx context.Context, tokenID string) (float64, error)
	// ListNewDevWallets returns recently created wallets attributed to the dev.
	ListNewDevWallets(ctx context.Context, tokenID string) ([]string, error)
	// HasRecentExchangeMovement reports token movement to a known exchange
	// wallet within the last 24h.
	HasRecentExchangeMovement(ctx context.Context, tokenID string) (bool, error)
}

// WalletRelationSource answers whether a set of wallets is linked on-chain.
type WalletRelationSource interface {
	// AreWalletsRelated returns true when at least 30% of all possible wallet
	// pairs have transacted directly.
	AreWalletsRelated(ctx context.Context, wallets []string) (bool, error)
}

// TokenLifecycleSource exposes token age/listing metadata used by the
// rug-detection false-positive guards.
type TokenLifecycleSource interface {
	IsNewlyAdded(ctx context.Context, tokenID string) bool
	Age(ctx context.Context, tokenID string) time.Duration
}
