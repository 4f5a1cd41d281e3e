package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const nilSlot int32 = -1

type slot struct {
	order Order
	prev  int32
	next  int32
	used  bool
}

// PriceLevelQueue holds every resting order at one price in time priority.
// Orders live in a slot arena linked by index; freed slots are recycled.
type PriceLevelQueue struct {
	price decimal.Decimal

	slots []slot
	free  []int32
	head  int32
	tail  int32
	count int

	volume   decimal.Decimal // sum of quantities
	notional decimal.Decimal // sum of price * quantity
}

func newPriceLevelQueue(price decimal.Decimal) *PriceLevelQueue {
	return &PriceLevelQueue{
		price:    price,
		head:     nilSlot,
		tail:     nilSlot,
		volume:   decimal.Zero,
		notional: decimal.Zero,
	}
}

func (q *PriceLevelQueue) Price() decimal.Decimal    { return q.price }
func (q *PriceLevelQueue) Len() int                  { return q.count }
func (q *PriceLevelQueue) Volume() decimal.Decimal   { return q.volume }
func (q *PriceLevelQueue) Notional() decimal.Decimal { return q.notional }

// Head returns a copy of the oldest order at this price.
func (q *PriceLevelQueue) Head() (Order, bool) {
	if q.head == nilSlot {
		return Order{}, false
	}
	return q.slots[q.head].order, true
}

// Orders returns copies of all orders, oldest first.
func (q *PriceLevelQueue) Orders() []Order {
	out := make([]Order, 0, q.count)
	for s := q.head; s != nilSlot; s = q.slots[s].next {
		out = append(out, q.slots[s].order)
	}
	return out
}

// Append adds o at the tail and returns its slot.
func (q *PriceLevelQueue) Append(o Order) int32 {
	var s int32
	if n := len(q.free); n > 0 {
		s = q.free[n-1]
		q.free = q.free[:n-1]
	} else {
		q.slots = append(q.slots, slot{})
		s = int32(len(q.slots) - 1)
	}
	q.slots[s] = slot{order: o, prev: q.tail, next: nilSlot, used: true}
	q.link(s)
	q.count++
	q.volume = q.volume.Add(o.Quantity)
	q.notional = q.notional.Add(o.Notional())
	return s
}

// link attaches a detached slot at the tail.
func (q *PriceLevelQueue) link(s int32) {
	q.slots[s].prev = q.tail
	q.slots[s].next = nilSlot
	if q.tail != nilSlot {
		q.slots[q.tail].next = s
	} else {
		q.head = s
	}
	q.tail = s
}

func (q *PriceLevelQueue) unlink(s int32) {
	sl := &q.slots[s]
	if sl.prev != nilSlot {
		q.slots[sl.prev].next = sl.next
	} else {
		q.head = sl.next
	}
	if sl.next != nilSlot {
		q.slots[sl.next].prev = sl.prev
	} else {
		q.tail = sl.prev
	}
	sl.prev, sl.next = nilSlot, nilSlot
}

// Remove detaches the order in slot s and frees the slot.
func (q *PriceLevelQueue) Remove(s int32) Order {
	q.mustUse(s)
	q.unlink(s)
	o := q.slots[s].order
	q.slots[s] = slot{prev: nilSlot, next: nilSlot}
	q.free = append(q.free, s)
	q.count--
	q.volume = q.volume.Sub(o.Quantity)
	q.notional = q.notional.Sub(o.Notional())
	return o
}

// UpdateQuantity sets the quantity of the order in slot s and re-stamps it.
// An increase sends the order to the back of the queue unless it is already
// there; a decrease keeps its place.
func (q *PriceLevelQueue) UpdateQuantity(s int32, qty decimal.Decimal, ts int64) {
	q.mustUse(s)
	o := &q.slots[s].order
	if qty.GreaterThan(o.Quantity) && q.tail != s {
		q.unlink(s)
		q.link(s)
	}
	q.adjust(o, qty)
	o.Timestamp = ts
}

// reduce lowers the quantity after a partial fill. Position and timestamp
// are kept.
func (q *PriceLevelQueue) reduce(s int32, fill decimal.Decimal) {
	q.mustUse(s)
	o := &q.slots[s].order
	q.adjust(o, o.Quantity.Sub(fill))
}

func (q *PriceLevelQueue) adjust(o *Order, qty decimal.Decimal) {
	delta := qty.Sub(o.Quantity)
	q.volume = q.volume.Add(delta)
	q.notional = q.notional.Add(delta.Mul(o.Price))
	o.Quantity = qty
}

func (q *PriceLevelQueue) at(s int32) *Order {
	q.mustUse(s)
	return &q.slots[s].order
}

func (q *PriceLevelQueue) nextSlot(s int32) int32 { return q.slots[s].next }

// firstCompatible returns the oldest order that can trade with in.
func (q *PriceLevelQueue) firstCompatible(in *Intent) (int32, bool) {
	for s := q.head; s != nilSlot; s = q.slots[s].next {
		if q.slots[s].order.compatible(in) {
			return s, true
		}
	}
	return nilSlot, false
}

func (q *PriceLevelQueue) mustUse(s int32) {
	if s < 0 || int(s) >= len(q.slots) || !q.slots[s].used {
		panic(fmt.Sprintf("orderbook: slot %d not in use at price %s", s, q.price))
	}
}

// verify recomputes the aggregates and walks the links in both directions.
func (q *PriceLevelQueue) verify() error {
	vol, notional := decimal.Zero, decimal.Zero
	n := 0
	prev := nilSlot
	for s := q.head; s != nilSlot; s = q.slots[s].next {
		sl := q.slots[s]
		if !sl.used {
			return fmt.Errorf("level %s: free slot %d linked", q.price, s)
		}
		if sl.prev != prev {
			return fmt.Errorf("level %s: slot %d prev=%d, want %d", q.price, s, sl.prev, prev)
		}
		if !sl.order.Price.Equal(q.price) {
			return fmt.Errorf("level %s: order %d priced %s", q.price, sl.order.ID, sl.order.Price)
		}
		vol = vol.Add(sl.order.Quantity)
		notional = notional.Add(sl.order.Notional())
		prev = s
		n++
		if n > len(q.slots) {
			return fmt.Errorf("level %s: cycle in links", q.price)
		}
	}
	if prev != q.tail {
		return fmt.Errorf("level %s: tail=%d, walk ended at %d", q.price, q.tail, prev)
	}
	if n != q.count {
		return fmt.Errorf("level %s: count=%d, walked %d", q.price, q.count, n)
	}
	if !vol.Equal(q.volume) {
		return fmt.Errorf("level %s: volume=%s, recomputed %s", q.price, q.volume, vol)
	}
	if !notional.Equal(q.notional) {
		return fmt.Errorf("level %s: notional=%s, recomputed %s", q.price, q.notional, notional)
	}
	return nil
}
