// Package spot ties the matching books to cross-chain settlement.
package spot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperfill/pkg/app/core/market"
	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperfill/pkg/chain"
	"github.com/uhyunpark/hyperfill/pkg/metrics"
	"github.com/uhyunpark/hyperfill/pkg/settlement"
	"github.com/uhyunpark/hyperfill/pkg/storage"
	"github.com/uhyunpark/hyperfill/pkg/util"
)

var (
	ErrTradeNotFound      = errors.New("trade not found")
	ErrSettlementDisabled = errors.New("settlement disabled: no engine key configured")
)

// Settler is the settlement surface the app drives.
type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (*settlement.Result, error)
	Prepare(ctx context.Context, t orderbook.Trade) (*settlement.SigningPayload, error)
	SettledOn(ctx context.Context, t orderbook.Trade) (source, destination bool, err error)
	EscrowBalance(ctx context.Context, network, account, asset string) (chain.Balance, error)
}

// Ledger is where settlement attempts are looked up after the fact.
type Ledger interface {
	LoadAttempts(ref string) ([]*settlement.Result, error)
	ListStranded() ([]*settlement.Result, error)
	ResolveStranded(attemptID, note string, at time.Time) (*storage.Resolution, error)
}

type Config struct {
	// RequireCallerSignatures rejects settlement of trades the parties
	// have not signed themselves.
	RequireCallerSignatures bool
	// AutoSettle settles each trade as soon as it is matched. It only
	// takes effect when caller signatures are not required.
	AutoSettle bool
}

type App struct {
	cfg     Config
	markets *market.MarketRegistry
	settler Settler
	ledger  Ledger
	metrics *metrics.Metrics
	logger  *zap.Logger
	clock   util.Clock

	hookMu    sync.RWMutex
	onTrade   []func(orderbook.Trade)
	onSettled []func(*settlement.Result)

	// background settlements
	bg     sync.WaitGroup
	bgCtx  context.Context
	cancel context.CancelFunc
}

type Option func(*App)

func WithSettler(s Settler) Option { return func(a *App) { a.settler = s } }

func WithLedger(l Ledger) Option { return func(a *App) { a.ledger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(a *App) { a.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(a *App) { a.logger = l } }

func WithClock(c util.Clock) Option { return func(a *App) { a.clock = c } }

func NewApp(cfg Config, markets *market.MarketRegistry, opts ...Option) *App {
	a := &App{
		cfg:     cfg,
		markets: markets,
		logger:  zap.NewNop(),
		clock:   util.RealClock{},
	}
	for _, o := range opts {
		o(a)
	}
	a.bgCtx, a.cancel = context.WithCancel(context.Background())
	return a
}

// OnTrade registers fn to run for every trade, after the book lock is released.
func (a *App) OnTrade(fn func(orderbook.Trade)) {
	a.hookMu.Lock()
	a.onTrade = append(a.onTrade, fn)
	a.hookMu.Unlock()
}

// OnSettlement registers fn to run after every settlement attempt.
func (a *App) OnSettlement(fn func(*settlement.Result)) {
	a.hookMu.Lock()
	a.onSettled = append(a.onSettled, fn)
	a.hookMu.Unlock()
}

func (a *App) autoSettle() bool {
	return a.cfg.AutoSettle && !a.cfg.RequireCallerSignatures && a.settler != nil
}

// SubmitOrder matches in against the symbol's book, creating the market on
// first use.
func (a *App) SubmitOrder(ctx context.Context, symbol string, in orderbook.Intent) (*orderbook.Result, error) {
	m, err := a.markets.GetOrCreate(symbol)
	if err != nil {
		return nil, err
	}
	if err := a.markets.Tradable(m); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := m.Book.Process(in)
	if err != nil {
		if a.metrics != nil {
			a.metrics.ObserveReject(m.Symbol, rejectReason(err))
		}
		a.logger.Debug("order_rejected", zap.String("symbol", m.Symbol), zap.Error(err))
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.ObserveOrder(m.Symbol, res.Task.String(), time.Since(start), len(res.Trades))
		bids, asks := m.Book.Len()
		a.metrics.SetResting(m.Symbol, bids, asks)
	}

	for _, tr := range res.Trades {
		a.logger.Info("trade_matched",
			zap.String("ref", tr.Ref()),
			zap.String("price", tr.Price.String()),
			zap.String("quantity", tr.Quantity.String()),
			zap.String("party1", tr.Party1.Account),
			zap.String("party2", tr.Party2.Account))
		a.fireTrade(tr)
		if a.autoSettle() {
			a.settleInBackground(tr)
		}
	}
	return res, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, orderbook.ErrValidation):
		return "validation"
	case errors.Is(err, orderbook.ErrPolicy):
		return "policy"
	default:
		return "other"
	}
}

func (a *App) fireTrade(tr orderbook.Trade) {
	a.hookMu.RLock()
	hooks := a.onTrade
	a.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(tr)
	}
}

func (a *App) fireSettled(r *settlement.Result) {
	a.hookMu.RLock()
	hooks := a.onSettled
	a.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(r)
	}
}

func (a *App) settleInBackground(tr orderbook.Trade) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		res, err := a.settler.Settle(a.bgCtx, settlement.Request{Trade: tr})
		if err != nil {
			a.logger.Warn("auto_settlement_rejected", zap.String("ref", tr.Ref()), zap.Error(err))
			return
		}
		a.fireSettled(res)
	}()
}

// Close stops pending auto-settlements before broadcast and waits for the
// rest to finish.
func (a *App) Close() {
	a.cancel()
	a.bg.Wait()
	a.markets.Close()
}

func (a *App) book(symbol string) (*orderbook.Book, error) {
	m, err := a.markets.GetMarket(symbol)
	if err != nil {
		return nil, err
	}
	return m.Book, nil
}

func (a *App) Markets() []*market.Market { return a.markets.ListMarkets() }

func (a *App) Cancel(symbol string, side orderbook.Side, id uint64) (orderbook.Order, bool, error) {
	b, err := a.book(symbol)
	if err != nil {
		return orderbook.Order{}, false, err
	}
	o, ok := b.Cancel(side, id)
	if ok {
		a.logger.Info("order_cancelled", zap.String("symbol", b.Symbol()), zap.Uint64("id", id))
	}
	return o, ok, nil
}

func (a *App) Modify(symbol string, side orderbook.Side, id uint64, mod orderbook.Modification) (orderbook.Order, error) {
	b, err := a.book(symbol)
	if err != nil {
		return orderbook.Order{}, err
	}
	return b.Modify(side, id, mod)
}

func (a *App) Order(symbol string, id uint64) (orderbook.Order, bool, error) {
	b, err := a.book(symbol)
	if err != nil {
		return orderbook.Order{}, false, err
	}
	o, ok := b.Order(id)
	return o, ok, nil
}

func (a *App) Snapshot(symbol string) (orderbook.Snapshot, error) {
	b, err := a.book(symbol)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	return b.Snapshot(), nil
}

func (a *App) Depth(symbol string, side orderbook.Side, limit int) ([]orderbook.Level, error) {
	b, err := a.book(symbol)
	if err != nil {
		return nil, err
	}
	return b.Depth(side, limit), nil
}

// Trades returns up to limit of the most recent trades, oldest first.
// limit <= 0 returns the whole tape.
func (a *App) Trades(symbol string, limit int) ([]orderbook.Trade, error) {
	b, err := a.book(symbol)
	if err != nil {
		return nil, err
	}
	tape := b.Tape()
	if limit > 0 && len(tape) > limit {
		tape = tape[len(tape)-limit:]
	}
	return tape, nil
}

func (a *App) DumpTape(symbol string, w io.Writer, wipe bool) error {
	b, err := a.book(symbol)
	if err != nil {
		return err
	}
	return b.DumpTape(w, wipe)
}

// Quote holds the best and worst prices on each side; nil means empty.
type Quote struct {
	Symbol   string           `json:"symbol"`
	BestBid  *decimal.Decimal `json:"best_bid"`
	BestAsk  *decimal.Decimal `json:"best_ask"`
	WorstBid *decimal.Decimal `json:"worst_bid"`
	WorstAsk *decimal.Decimal `json:"worst_ask"`
}

func (a *App) Best(symbol string) (Quote, error) {
	b, err := a.book(symbol)
	if err != nil {
		return Quote{}, err
	}
	opt := func(d decimal.Decimal, ok bool) *decimal.Decimal {
		if !ok {
			return nil
		}
		return &d
	}
	return Quote{
		Symbol:   b.Symbol(),
		BestBid:  opt(b.BestBid()),
		BestAsk:  opt(b.BestAsk()),
		WorstBid: opt(b.WorstBid()),
		WorstAsk: opt(b.WorstAsk()),
	}, nil
}

func (a *App) VolumeAtPrice(symbol string, side orderbook.Side, price decimal.Decimal) (decimal.Decimal, error) {
	b, err := a.book(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return b.VolumeAtPrice(side, price), nil
}

func (a *App) LockedFunds(account, asset string) decimal.Decimal {
	return a.markets.LockedFunds(account, asset)
}

func (a *App) trade(symbol string, seq uint64) (orderbook.Trade, error) {
	b, err := a.book(symbol)
	if err != nil {
		return orderbook.Trade{}, err
	}
	tr, ok := b.Trade(seq)
	if !ok {
		return orderbook.Trade{}, fmt.Errorf("%w: %s #%d", ErrTradeNotFound, b.Symbol(), seq)
	}
	return tr, nil
}

// SigningPayload returns what each party has to sign to settle a trade.
func (a *App) SigningPayload(ctx context.Context, symbol string, seq uint64) (*settlement.SigningPayload, error) {
	if a.settler == nil {
		return nil, ErrSettlementDisabled
	}
	tr, err := a.trade(symbol, seq)
	if err != nil {
		return nil, err
	}
	return a.settler.Prepare(ctx, tr)
}

// SettleTrade runs a settlement attempt for a trade on the tape, using the
// supplied party signatures.
func (a *App) SettleTrade(ctx context.Context, symbol string, seq uint64, party1, party2 orderbook.Signatures) (*settlement.Result, error) {
	if a.settler == nil {
		return nil, ErrSettlementDisabled
	}
	tr, err := a.trade(symbol, seq)
	if err != nil {
		return nil, err
	}
	res, err := a.settler.Settle(ctx, settlement.Request{
		Trade:                   tr.WithSignatures(party1, party2),
		RequireCallerSignatures: a.cfg.RequireCallerSignatures,
	})
	if err != nil {
		return nil, err
	}
	a.fireSettled(res)
	return res, nil
}

// OnChain is the contract-side view of one trade.
type OnChain struct {
	TradeRef    string
	Source      bool
	Destination bool
}

// SettlementStatus reports whether each leg's contract already holds the trade.
func (a *App) SettlementStatus(ctx context.Context, symbol string, seq uint64) (OnChain, error) {
	if a.settler == nil {
		return OnChain{}, ErrSettlementDisabled
	}
	tr, err := a.trade(symbol, seq)
	if err != nil {
		return OnChain{}, err
	}
	src, dst, err := a.settler.SettledOn(ctx, tr)
	if err != nil {
		return OnChain{}, err
	}
	return OnChain{TradeRef: tr.Ref(), Source: src, Destination: dst}, nil
}

func (a *App) EscrowBalance(ctx context.Context, network, account, asset string) (chain.Balance, error) {
	if a.settler == nil {
		return chain.Balance{}, ErrSettlementDisabled
	}
	return a.settler.EscrowBalance(ctx, network, account, asset)
}

func (a *App) Attempts(symbol string, seq uint64) ([]*settlement.Result, error) {
	if a.ledger == nil {
		return nil, ErrSettlementDisabled
	}
	tr, err := a.trade(symbol, seq)
	if err != nil {
		return nil, err
	}
	return a.ledger.LoadAttempts(tr.Ref())
}

func (a *App) Stranded() ([]*settlement.Result, error) {
	if a.ledger == nil {
		return nil, ErrSettlementDisabled
	}
	return a.ledger.ListStranded()
}

func (a *App) ResolveStranded(attemptID, note string) (*storage.Resolution, error) {
	if a.ledger == nil {
		return nil, ErrSettlementDisabled
	}
	res, err := a.ledger.ResolveStranded(attemptID, note, a.clock.Now())
	if err != nil {
		return nil, err
	}
	a.logger.Info("stranded_attempt_resolved",
		zap.String("attempt", attemptID),
		zap.String("trade", res.TradeRef),
		zap.String("note", note))
	return res, nil
}
