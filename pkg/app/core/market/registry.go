package market

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
)

// MarketRegistry owns one book per symbol for the life of the process.
// Books are created on first use and live until Close.
type MarketRegistry struct {
	mu      sync.RWMutex
	markets map[string]*Market // symbol -> market
	opts    orderbook.Options
	closed  bool
}

// NewMarketRegistry creates an empty registry. opts is applied to every book.
func NewMarketRegistry(opts orderbook.Options) *MarketRegistry {
	return &MarketRegistry{
		markets: make(map[string]*Market),
		opts:    opts,
	}
}

// GetOrCreate returns the market for symbol, creating it if needed.
func (mr *MarketRegistry) GetOrCreate(symbol string) (*Market, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	mr.mu.RLock()
	m, ok := mr.markets[sym]
	closed := mr.closed
	mr.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return m, nil
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.closed {
		return nil, ErrClosed
	}
	if m, ok := mr.markets[sym]; ok {
		return m, nil
	}
	base, quote, _ := ParseSymbol(sym)
	m = &Market{
		Symbol:     sym,
		BaseAsset:  base,
		QuoteAsset: quote,
		Status:     Active,
		Book:       orderbook.NewBook(sym, base, quote, mr.opts),
	}
	mr.markets[sym] = m
	return m, nil
}

// GetMarket retrieves a market by symbol without creating it
func (mr *MarketRegistry) GetMarket(symbol string) (*Market, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if mr.closed {
		return nil, ErrClosed
	}
	m, exists := mr.markets[sym]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sym)
	}
	return m, nil
}

// ListMarkets returns all markets sorted by symbol
func (mr *MarketRegistry) ListMarkets() []*Market {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	markets := make([]*Market, 0, len(mr.markets))
	for _, m := range mr.markets {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })
	return markets
}

// UpdateMarketStatus pauses or resumes trading on a market
func (mr *MarketRegistry) UpdateMarketStatus(symbol string, status MarketStatus) error {
	m, err := mr.GetMarket(symbol)
	if err != nil {
		return err
	}
	if status != Active && status != Paused {
		return fmt.Errorf("unknown market status %d", status)
	}
	mr.mu.Lock()
	m.Status = status
	mr.mu.Unlock()
	return nil
}

// Tradable returns ErrPaused for a paused market.
func (mr *MarketRegistry) Tradable(m *Market) error {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if mr.closed {
		return ErrClosed
	}
	if m.Status == Paused {
		return fmt.Errorf("%w: %s", ErrPaused, m.Symbol)
	}
	return nil
}

// LockedFunds sums what account has committed in resting orders for asset
// across every book.
func (mr *MarketRegistry) LockedFunds(account, asset string) decimal.Decimal {
	total := decimal.Zero
	for _, m := range mr.ListMarkets() {
		total = total.Add(m.Book.LockedFunds(account, asset))
	}
	return total
}

// Count returns the total number of registered markets
func (mr *MarketRegistry) Count() int {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return len(mr.markets)
}

// Exists checks if a market is registered
func (mr *MarketRegistry) Exists(symbol string) bool {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return false
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	_, exists := mr.markets[sym]
	return exists
}

// Close stops handing out books. Existing references stay readable.
func (mr *MarketRegistry) Close() {
	mr.mu.Lock()
	mr.closed = true
	mr.mu.Unlock()
}
