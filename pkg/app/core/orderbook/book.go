package orderbook

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperfill/pkg/util"
)

// Task classifies how an accepted order affected the book.
type Task int

const (
	TaskNone         Task = 0 // market order that found no liquidity
	TaskRested       Task = 1
	TaskNewBest      Task = 2
	TaskPartialFill  Task = 3
	TaskCompleteFill Task = 4
	TaskJoinedBest   Task = 5
)

func (t Task) String() string {
	switch t {
	case TaskNone:
		return "none"
	case TaskRested:
		return "rested"
	case TaskNewBest:
		return "new_best"
	case TaskPartialFill:
		return "partial_fill"
	case TaskCompleteFill:
		return "complete_fill"
	case TaskJoinedBest:
		return "joined_best"
	}
	return fmt.Sprintf("task(%d)", int(t))
}

const DefaultScale int32 = 18

type Options struct {
	PriceScale    int32 // max decimal places of a price
	QuantityScale int32 // max decimal places of a quantity
	Clock         util.Clock

	// Epoch is stamped on every trade and becomes part of its settlement
	// ref. Books started by different processes need different epochs so
	// their refs never collide on chain. See NewEpoch.
	Epoch string

	// CheckInvariants re-verifies both sides after every mutation and
	// panics on divergence. Meant for tests and debugging.
	CheckInvariants bool
}

func (o Options) withDefaults() Options {
	if o.PriceScale <= 0 {
		o.PriceScale = DefaultScale
	}
	if o.QuantityScale <= 0 {
		o.QuantityScale = DefaultScale
	}
	if o.Clock == nil {
		o.Clock = util.RealClock{}
	}
	return o
}

// Result of processing one intent.
type Result struct {
	Trades   []Trade `json:"trades"`
	Resting  *Order  `json:"resting,omitempty"`
	Task     Task    `json:"task"`
	NextBest *Order  `json:"next_best,omitempty"`
}

// Modification changes a resting order. Zero fields keep the current value.
type Modification struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp int64
}

// Book is a single-symbol matching book. All methods are safe for
// concurrent use; mutations are serialized by one mutex.
type Book struct {
	mu sync.Mutex

	symbol string
	base   string
	quote  string
	opts   Options

	bids *OrderIndex
	asks *OrderIndex

	lastID uint64
	now    int64 // logical clock, ms

	tape     []Trade
	tapeBase uint64 // trades wiped by DumpTape
}

func NewBook(symbol, base, quote string, opts Options) *Book {
	return &Book{
		symbol: symbol,
		base:   base,
		quote:  quote,
		opts:   opts.withDefaults(),
		bids:   newOrderIndex(Bid),
		asks:   newOrderIndex(Ask),
	}
}

func (b *Book) Symbol() string     { return b.symbol }
func (b *Book) BaseAsset() string  { return b.base }
func (b *Book) QuoteAsset() string { return b.quote }

func (b *Book) side(s Side) *OrderIndex {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

func (b *Book) validate(in *Intent) error {
	if in.Kind != Limit && in.Kind != Market {
		return ErrInvalidKind
	}
	if !in.Side.valid() {
		return ErrInvalidSide
	}
	if !in.Quantity.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrNonPositiveQuantity, in.Quantity)
	}
	if !in.Quantity.Equal(in.Quantity.Truncate(b.opts.QuantityScale)) {
		return fmt.Errorf("%w: quantity %s has more than %d decimals", ErrPrecision, in.Quantity, b.opts.QuantityScale)
	}
	if in.Kind == Limit {
		if !in.Price.IsPositive() {
			return fmt.Errorf("%w: got %s", ErrInvalidPrice, in.Price)
		}
		if !in.Price.Equal(in.Price.Truncate(b.opts.PriceScale)) {
			return fmt.Errorf("%w: price %s has more than %d decimals", ErrPrecision, in.Price, b.opts.PriceScale)
		}
	}
	return nil
}

// stamp returns the timestamp for an event. A supplied timestamp (replay)
// is used as is; the logical clock never moves backward.
func (b *Book) stamp(supplied int64) int64 {
	ts := supplied
	if ts <= 0 {
		ts = b.opts.Clock.Now().UnixMilli()
		if ts < b.now {
			ts = b.now
		}
	}
	if ts > b.now {
		b.now = ts
	}
	return ts
}

// nextID hands out ids in increasing order. A supplied id has already been
// checked against lastID by Process.
func (b *Book) nextID(supplied uint64) uint64 {
	if supplied != 0 {
		return supplied
	}
	b.lastID++
	return b.lastID
}

// Process validates and executes one order intent.
//
// A limit order trades against at most one resting order: the first
// network-compatible order at the opposing best price. If it is larger
// than that order it is rejected with ErrSweepTooLarge and the book is
// left untouched. A market order walks the opposing side best-first and
// never rests.
func (b *Book) Process(in Intent) (*Result, error) {
	if err := b.validate(&in); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Ids are never reused, so a supplied id must be above every id seen.
	if in.OrderID != 0 && in.OrderID <= b.lastID {
		return nil, fmt.Errorf("%w: %d (last %d)", ErrDuplicateOrder, in.OrderID, b.lastID)
	}

	var (
		res *Result
		err error
	)
	if in.Kind == Market {
		res = b.processMarket(&in)
	} else {
		res, err = b.processLimit(&in)
	}
	if err == nil && in.OrderID > b.lastID {
		b.lastID = in.OrderID
	}
	b.check()
	return res, err
}

func crosses(side Side, limit, best decimal.Decimal) bool {
	if side == Bid {
		return limit.GreaterThanOrEqual(best)
	}
	return limit.LessThanOrEqual(best)
}

func (b *Book) processLimit(in *Intent) (*Result, error) {
	opp := b.side(in.Side.Opposite())
	if best, ok := opp.BestPrice(); ok && crosses(in.Side, in.Price, best) {
		q := opp.QueueAt(best)
		if s, found := q.firstCompatible(in); found {
			resting := *q.at(s)
			switch in.Quantity.Cmp(resting.Quantity) {
			case 1:
				return nil, fmt.Errorf("%w: quantity %s against order %d with %s",
					ErrSweepTooLarge, in.Quantity, resting.ID, resting.Quantity)
			case -1:
				ts := b.stamp(in.Timestamp)
				after := opp.reduce(resting.ID, in.Quantity)
				tr := b.record(resting, after.Quantity, in, in.Quantity, ts)
				return &Result{Trades: []Trade{tr}, Task: TaskPartialFill}, nil
			default:
				ts := b.stamp(in.Timestamp)
				opp.RemoveByID(resting.ID)
				tr := b.record(resting, decimal.Zero, in, in.Quantity, ts)
				res := &Result{Trades: []Trade{tr}, Task: TaskCompleteFill}
				if next := opp.QueueAt(best); next != nil {
					if head, ok := next.Head(); ok {
						res.NextBest = &head
					}
				}
				return res, nil
			}
		}
	}

	o := b.rest(in)
	return &Result{Resting: &o, Task: b.classify(in.Side, o)}, nil
}

// classify is called after o has been inserted on its own side.
func (b *Book) classify(side Side, o Order) Task {
	own := b.side(side)
	q := own.QueueAt(o.Price)
	if q == own.best() {
		if q.Len() == 1 {
			return TaskNewBest
		}
		return TaskJoinedBest
	}
	return TaskRested
}

func (b *Book) rest(in *Intent) Order {
	ts := b.stamp(in.Timestamp)
	o := in.toOrder(b.nextID(in.OrderID), ts, b.base, b.quote)
	b.side(in.Side).Insert(o)
	return o
}

func (b *Book) processMarket(in *Intent) *Result {
	opp := b.side(in.Side.Opposite())
	remaining := in.Quantity
	res := &Result{Task: TaskNone}
	var ts int64

	for _, price := range opp.prices() {
		if !remaining.IsPositive() {
			break
		}
		q := opp.QueueAt(price)
		for s := q.head; s != nilSlot && remaining.IsPositive(); {
			next := q.nextSlot(s)
			resting := *q.at(s)
			if !resting.compatible(in) {
				s = next
				continue
			}
			if len(res.Trades) == 0 {
				ts = b.stamp(in.Timestamp)
			}
			fill := decimal.Min(remaining, resting.Quantity)
			left := decimal.Zero
			if fill.Equal(resting.Quantity) {
				opp.RemoveByID(resting.ID)
			} else {
				left = opp.reduce(resting.ID, fill).Quantity
			}
			res.Trades = append(res.Trades, b.record(resting, left, in, fill, ts))
			remaining = remaining.Sub(fill)
			s = next
		}
	}

	switch {
	case len(res.Trades) == 0:
		res.Task = TaskNone
	case remaining.IsPositive():
		res.Task = TaskPartialFill
	default:
		res.Task = TaskCompleteFill
	}
	return res
}

func (b *Book) record(resting Order, remaining decimal.Decimal, in *Intent, qty decimal.Decimal, ts int64) Trade {
	tr := Trade{
		Seq:        b.tapeBase + uint64(len(b.tape)) + 1,
		Symbol:     b.symbol,
		Epoch:      b.opts.Epoch,
		BaseAsset:  b.base,
		QuoteAsset: b.quote,
		Timestamp:  ts,
		Price:      resting.Price,
		Quantity:   qty,
		Party1:     restingParty(resting, remaining),
		Party2:     incomingParty(in),
	}
	b.tape = append(b.tape, tr)
	return tr
}

// Cancel removes a resting order. Unknown ids are a no-op.
func (b *Book) Cancel(side Side, id uint64) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !side.valid() {
		return Order{}, false
	}
	b.stamp(0)
	o, ok := b.side(side).RemoveByID(id)
	b.check()
	return o, ok
}

// Modify changes the price and/or quantity of a resting order and
// re-stamps it. A price change moves the order to the back of the new
// level; it never matches, so a price that would cross is rejected.
func (b *Book) Modify(side Side, id uint64, m Modification) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !side.valid() {
		return Order{}, ErrInvalidSide
	}
	own := b.side(side)
	cur, ok := own.Get(id)
	if !ok {
		return Order{}, fmt.Errorf("%w: %s %d", ErrOrderNotFound, side, id)
	}

	qty, price := cur.Quantity, cur.Price
	if !m.Quantity.IsZero() {
		if !m.Quantity.IsPositive() {
			return Order{}, fmt.Errorf("%w: got %s", ErrNonPositiveQuantity, m.Quantity)
		}
		if !m.Quantity.Equal(m.Quantity.Truncate(b.opts.QuantityScale)) {
			return Order{}, ErrPrecision
		}
		qty = m.Quantity
	}
	if !m.Price.IsZero() {
		if !m.Price.IsPositive() {
			return Order{}, fmt.Errorf("%w: got %s", ErrInvalidPrice, m.Price)
		}
		if !m.Price.Equal(m.Price.Truncate(b.opts.PriceScale)) {
			return Order{}, ErrPrecision
		}
		price = m.Price
	}

	if !price.Equal(cur.Price) {
		if best, ok := b.side(side.Opposite()).BestPrice(); ok && crosses(side, price, best) {
			return Order{}, fmt.Errorf("%w: %s %s against best %s", ErrWouldCross, side, price, best)
		}
	}

	ts := b.stamp(m.Timestamp)
	if price.Equal(cur.Price) {
		own.Update(id, qty, ts)
	} else {
		own.RemoveByID(id)
		cur.Price, cur.Quantity, cur.Timestamp = price, qty, ts
		own.Insert(cur)
	}
	b.check()
	out, _ := own.Get(id)
	return out, nil
}

// Order returns a resting order from either side.
func (b *Book) Order(id uint64) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.bids.Get(id); ok {
		return o, true
	}
	return b.asks.Get(id)
}

func (b *Book) BestBid() (decimal.Decimal, bool) { return b.price(b.bids.BestPrice) }
func (b *Book) BestAsk() (decimal.Decimal, bool) { return b.price(b.asks.BestPrice) }

func (b *Book) WorstBid() (decimal.Decimal, bool) { return b.price(b.bids.WorstPrice) }
func (b *Book) WorstAsk() (decimal.Decimal, bool) { return b.price(b.asks.WorstPrice) }

func (b *Book) price(fn func() (decimal.Decimal, bool)) (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn()
}

// VolumeAtPrice returns the resting quantity at one price, zero if none.
func (b *Book) VolumeAtPrice(side Side, price decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !side.valid() {
		return decimal.Zero
	}
	if q := b.side(side).QueueAt(price); q != nil {
		return q.Volume()
	}
	return decimal.Zero
}

// Len returns the number of resting orders on each side.
func (b *Book) Len() (bids, asks int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bids.Len(), b.asks.Len()
}

// Tape returns a copy of the trade tape, oldest first.
func (b *Book) Tape() []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Trade, len(b.tape))
	copy(out, b.tape)
	return out
}

// Trade looks up a tape entry by sequence number.
func (b *Book) Trade(seq uint64) (Trade, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq <= b.tapeBase || seq > b.tapeBase+uint64(len(b.tape)) {
		return Trade{}, false
	}
	return b.tape[seq-b.tapeBase-1], true
}

// DumpTape writes one line per trade. With wipe set the tape is cleared
// afterwards; sequence numbers keep counting.
func (b *Book) DumpTape(w io.Writer, wipe bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tape {
		if _, err := fmt.Fprintf(w, "Time: %d, Price: %s, Quantity: %s\n", t.Timestamp, t.Price, t.Quantity); err != nil {
			return err
		}
	}
	if wipe {
		b.tapeBase += uint64(len(b.tape))
		b.tape = nil
	}
	return nil
}

// LockedFunds returns what account has committed in resting orders for
// asset: quote notional for bids, base quantity for asks.
func (b *Book) LockedFunds(account, asset string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := decimal.Zero
	if strings.EqualFold(asset, b.quote) {
		b.bids.Levels(func(q *PriceLevelQueue) bool {
			for s := q.head; s != nilSlot; s = q.slots[s].next {
				if o := &q.slots[s].order; strings.EqualFold(o.Account, account) {
					total = total.Add(o.Notional())
				}
			}
			return true
		})
	}
	if strings.EqualFold(asset, b.base) {
		b.asks.Levels(func(q *PriceLevelQueue) bool {
			for s := q.head; s != nilSlot; s = q.slots[s].next {
				if o := &q.slots[s].order; strings.EqualFold(o.Account, account) {
					total = total.Add(o.Quantity)
				}
			}
			return true
		})
	}
	return total
}

func (b *Book) check() {
	if !b.opts.CheckInvariants {
		return
	}
	if err := b.bids.verify(); err != nil {
		panic("orderbook " + b.symbol + ": " + err.Error())
	}
	if err := b.asks.verify(); err != nil {
		panic("orderbook " + b.symbol + ": " + err.Error())
	}
}

func (b *Book) String() string {
	snap := b.Snapshot()
	var sb strings.Builder
	sb.WriteString("***Bids***\n")
	for _, e := range snap.Bids {
		fmt.Fprintf(&sb, "%s @ %s (%d) %s\n", e.Quantity, e.Price, e.OrderID, e.Account)
	}
	sb.WriteString("\n***Asks***\n")
	for _, e := range snap.Asks {
		fmt.Fprintf(&sb, "%s @ %s (%d) %s\n", e.Quantity, e.Price, e.OrderID, e.Account)
	}
	sb.WriteString("\n***Trades***\n")
	tape := b.Tape()
	for i := 0; i < len(tape) && i < 10; i++ {
		t := tape[i]
		fmt.Fprintf(&sb, "%s @ %s (%d) %s/%s\n", t.Quantity, t.Price, t.Timestamp, t.Party1.Account, t.Party2.Account)
	}
	return sb.String()
}
