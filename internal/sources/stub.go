package sources

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StubMetrics is a deterministic MetricsSource for tests and dry-run mode.
// Readings are set per token; a token marked failing returns errors so the
// collector's degrade-to-zero path can be exercised.
type StubMetrics struct {
	mu       sync.Mutex
	readings map[string]StubReading
	failing  map[string]bool
	calls    int
}

// StubReading is one token's scripted metric set.
type StubReading struct {
	LiquidityUSD          float64
	Price                 float64
	Volume24h             float64
	HolderCount           int64
	CreatorBalancePercent float64
}

// NewStubMetrics creates an empty stub metrics source.
func NewStubMetrics() *StubMetrics {
	return &StubMetrics{
		readings: make(map[string]StubReading),
		failing:  make(map[string]bool),
	}
}

// Set scripts the current reading for a token.
func (s *StubMetrics) Set(tokenID string, r StubReading) {
	s.mu.Lock()
	s.readings[tokenID] = r
	s.mu.Unlock()
}

// SetFailing makes every getter for the token return an error.
func (s *StubMetrics) SetFailing(tokenID string, failing bool) {
	s.mu.Lock()
	s.failing[tokenID] = failing
	s.mu.Unlock()
}

// Calls returns the total number of getter invocations.
func (s *StubMetrics) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubMetrics) get(tokenID string) (StubReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failing[tokenID] {
		return StubReading{}, fmt.Errorf("stub metrics: %s unavailable", tokenID)
	}
	return s.readings[tokenID], nil
}

func (s *StubMetrics) GetLiquidityUSD(_ context.Context, tokenID string) (float64, error) {
	r, err := s.get(tokenID)
	return r.LiquidityUSD, err
}

func (s *StubMetrics) GetPrice(_ context.Context, tokenID string) (float64, error) {
	r, err := s.get(tokenID)
	return r.Price, err
}

func (s *StubMetrics) GetVolume24h(_ context.Context, tokenID string) (float64, error) {
	r, err := s.get(tokenID)
	return r.Volume24h, err
}

func (s *StubMetrics) GetHolderCount(_ context.Context, tokenID string) (int64, error) {
	r, err := s.get(tokenID)
	return r.HolderCount, err
}

func (s *StubMetrics) GetCreatorBalancePercent(_ context.Context, tokenID string) (float64, error) {
	r, err := s.get(tokenID)
	return r.CreatorBalancePercent, err
}

// StubSells is a scriptable SellTransactionSource.
type StubSells struct {
	mu    sync.Mutex
	sells map[string][]SellTransaction
}

// NewStubSells creates an empty stub sell source.
func NewStubSells() *StubSells {
	return &StubSells{sells: make(map[string][]SellTransaction)}
}

// Add appends scripted sell transactions for a token.
func (s *StubSells) Add(tokenID string, txs ...SellTransaction) {
	s.mu.Lock()
	s.sells[tokenID] = append(s.sells[tokenID], txs...)
	s.mu.Unlock()
}

func (s *StubSells) ListRecentSells(_ context.Context, tokenID string, since time.Time) ([]SellTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SellTransaction
	for _, tx := range s.sells[tokenID] {
		if !tx.Timestamp.Before(since) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// StubDevActivity is a scriptable DevActivitySource.
type StubDevActivity struct {
	mu               sync.Mutex
	Activity1h       map[string]float64
	Activity24h      map[string]float64
	NewWallets       map[string][]string
	ExchangeMovement map[string]bool
}

// NewStubDevActivity creates an empty stub dev-activity source.
func NewStubDevActivity() *StubDevActivity {
	return &StubDevActivity{
		Activity1h:       make(map[string]float64),
		Activity24h:      make(map[string]float64),
		NewWallets:       make(map[string][]string),
		ExchangeMovement: make(map[string]bool),
	}
}

func (s *StubDevActivity) Get1hActivityPercent(_ context.Context, tokenID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Activity1h[tokenID], nil
}

func (s *StubDevActivity) Get24hActivityPercent(_ context.Context, tokenID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Activity24h[tokenID], nil
}

func (s *StubDevActivity) ListNewDevWallets(_ context.Context, tokenID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.NewWallets[tokenID], nil
}

func (s *StubDevActivity) HasRecentExchangeMovement(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ExchangeMovement[tokenID], nil
}

// StubRelations is a scriptable WalletRelationSource.
type StubRelations struct {
	mu      sync.Mutex
	related bool
}

// NewStubRelations creates a stub relation source answering `related` for
// every query.
func NewStubRelations(related bool) *StubRelations {
	return &StubRelations{related: related}
}

// SetRelated changes the scripted answer.
func (s *StubRelations) SetRelated(related bool) {
	s.mu.Lock()
	s.related = related
	s.mu.Unlock()
}

func (s *StubRelations) AreWalletsRelated(_ context.Context, _ []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.related, nil
}

// StubLifecycle is a scriptable TokenLifecycleSource.
type StubLifecycle struct {
	mu       sync.Mutex
	newly    map[string]bool
	birthday map[string]time.Time
}

// NewStubLifecycle creates an empty stub lifecycle source. Unknown tokens
// report age zero and not-newly-added.
func NewStubLifecycle() *StubLifecycle {
	return &StubLifecycle{
		newly:    make(map[string]bool),
		birthday: make(map[string]time.Time),
	}
}

// SetNewlyAdded flags a token as freshly registered with the platform.
func (s *StubLifecycle) SetNewlyAdded(tokenID string, newly bool) {
	s.mu.Lock()
	s.newly[tokenID] = newly
	s.mu.Unlock()
}

// SetAge scripts the token's on-chain age.
func (s *StubLifecycle) SetAge(tokenID string, age time.Duration) {
	s.mu.Lock()
	s.birthday[tokenID] = time.Now().Add(-age)
	s.mu.Unlock()
}

func (s *StubLifecycle) IsNewlyAdded(_ context.Context, tokenID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newly[tokenID]
}

func (s *StubLifecycle) Age(_ context.Context, tokenID string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.birthday[tokenID]
	if !ok {
		return 0
	}
	return time.Since(b)
}
