package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

type locator struct {
	queue *PriceLevelQueue
	slot  int32
}

// OrderIndex is one side of the book: price levels ordered by a B-tree,
// a price lookup map and an order id lookup map. All three are kept in
// step by the methods below; callers hold the book lock.
type OrderIndex struct {
	side    Side
	levels  *btree.BTreeG[*PriceLevelQueue]
	byPrice map[string]*PriceLevelQueue
	byID    map[uint64]locator
}

func newOrderIndex(side Side) *OrderIndex {
	less := func(a, b *PriceLevelQueue) bool { return a.price.LessThan(b.price) }
	return &OrderIndex{
		side:    side,
		levels:  btree.NewBTreeGOptions(less, btree.Options{NoLocks: true}),
		byPrice: make(map[string]*PriceLevelQueue),
		byID:    make(map[uint64]locator),
	}
}

// priceKey normalizes trailing zeros so 1.50 and 1.5 share a level.
func priceKey(p decimal.Decimal) string { return p.String() }

// Len returns the number of resting orders.
func (x *OrderIndex) Len() int { return len(x.byID) }

// Depth returns the number of price levels.
func (x *OrderIndex) Depth() int { return x.levels.Len() }

func (x *OrderIndex) best() *PriceLevelQueue {
	var q *PriceLevelQueue
	var ok bool
	if x.side == Bid {
		q, ok = x.levels.Max()
	} else {
		q, ok = x.levels.Min()
	}
	if !ok {
		return nil
	}
	return q
}

func (x *OrderIndex) worst() *PriceLevelQueue {
	var q *PriceLevelQueue
	var ok bool
	if x.side == Bid {
		q, ok = x.levels.Min()
	} else {
		q, ok = x.levels.Max()
	}
	if !ok {
		return nil
	}
	return q
}

// BestPrice is the highest bid or the lowest ask.
func (x *OrderIndex) BestPrice() (decimal.Decimal, bool) {
	if q := x.best(); q != nil {
		return q.price, true
	}
	return decimal.Decimal{}, false
}

func (x *OrderIndex) WorstPrice() (decimal.Decimal, bool) {
	if q := x.worst(); q != nil {
		return q.price, true
	}
	return decimal.Decimal{}, false
}

func (x *OrderIndex) QueueAt(price decimal.Decimal) *PriceLevelQueue {
	return x.byPrice[priceKey(price)]
}

func (x *OrderIndex) PriceExists(price decimal.Decimal) bool {
	_, ok := x.byPrice[priceKey(price)]
	return ok
}

func (x *OrderIndex) OrderExists(id uint64) bool {
	_, ok := x.byID[id]
	return ok
}

// Get returns a copy of a resting order.
func (x *OrderIndex) Get(id uint64) (Order, bool) {
	loc, ok := x.byID[id]
	if !ok {
		return Order{}, false
	}
	return *loc.queue.at(loc.slot), true
}

// Insert rests o at the tail of its price level, creating the level if needed.
func (x *OrderIndex) Insert(o Order) {
	if _, dup := x.byID[o.ID]; dup {
		panic(fmt.Sprintf("orderbook: order %d inserted twice", o.ID))
	}
	key := priceKey(o.Price)
	q, ok := x.byPrice[key]
	if !ok {
		q = newPriceLevelQueue(o.Price)
		x.byPrice[key] = q
		x.levels.Set(q)
	}
	s := q.Append(o)
	x.byID[o.ID] = locator{queue: q, slot: s}
}

// RemoveByID detaches an order and drops its level once empty.
func (x *OrderIndex) RemoveByID(id uint64) (Order, bool) {
	loc, ok := x.byID[id]
	if !ok {
		return Order{}, false
	}
	o := loc.queue.Remove(loc.slot)
	delete(x.byID, id)
	if loc.queue.Len() == 0 {
		x.dropLevel(loc.queue)
	}
	return o, true
}

func (x *OrderIndex) dropLevel(q *PriceLevelQueue) {
	delete(x.byPrice, priceKey(q.price))
	x.levels.Delete(q)
}

// Update changes the quantity of a resting order at its current price.
func (x *OrderIndex) Update(id uint64, qty decimal.Decimal, ts int64) bool {
	loc, ok := x.byID[id]
	if !ok {
		return false
	}
	loc.queue.UpdateQuantity(loc.slot, qty, ts)
	return true
}

// reduce applies a partial fill to a resting order.
func (x *OrderIndex) reduce(id uint64, fill decimal.Decimal) Order {
	loc, ok := x.byID[id]
	if !ok {
		panic(fmt.Sprintf("orderbook: fill against unknown order %d", id))
	}
	loc.queue.reduce(loc.slot, fill)
	return *loc.queue.at(loc.slot)
}

// Levels walks price levels best-first until fn returns false.
// fn must not mutate the index.
func (x *OrderIndex) Levels(fn func(q *PriceLevelQueue) bool) {
	if x.side == Bid {
		x.levels.Reverse(fn)
	} else {
		x.levels.Scan(fn)
	}
}

// prices returns level prices best-first.
func (x *OrderIndex) prices() []decimal.Decimal {
	out := make([]decimal.Decimal, 0, x.levels.Len())
	x.Levels(func(q *PriceLevelQueue) bool {
		out = append(out, q.price)
		return true
	})
	return out
}

func (x *OrderIndex) verify() error {
	seen := 0
	var err error
	x.levels.Scan(func(q *PriceLevelQueue) bool {
		if q.Len() == 0 {
			err = fmt.Errorf("%s: empty level %s left in tree", x.side, q.price)
			return false
		}
		if x.byPrice[priceKey(q.price)] != q {
			err = fmt.Errorf("%s: level %s missing from price map", x.side, q.price)
			return false
		}
		if err = q.verify(); err != nil {
			return false
		}
		for s := q.head; s != nilSlot; s = q.slots[s].next {
			o := q.slots[s].order
			if o.Side != x.side {
				err = fmt.Errorf("%s: order %d has side %s", x.side, o.ID, o.Side)
				return false
			}
			loc, ok := x.byID[o.ID]
			if !ok || loc.queue != q || loc.slot != s {
				err = fmt.Errorf("%s: order %d not indexed at its slot", x.side, o.ID)
				return false
			}
			seen++
		}
		return true
	})
	if err != nil {
		return err
	}
	if len(x.byPrice) != x.levels.Len() {
		return fmt.Errorf("%s: %d price keys for %d levels", x.side, len(x.byPrice), x.levels.Len())
	}
	if seen != len(x.byID) {
		return fmt.Errorf("%s: %d orders reachable, %d indexed", x.side, seen, len(x.byID))
	}
	return nil
}
