package orderbook

import "github.com/shopspring/decimal"

// Entry is one resting order in a snapshot.
type Entry struct {
	OrderID            uint64          `json:"order_id"`
	Price              decimal.Decimal `json:"price"`
	Quantity           decimal.Decimal `json:"quantity"`
	Notional           decimal.Decimal `json:"notional"`
	Account            string          `json:"account"`
	SourceNetwork      string          `json:"source_network"`
	DestinationNetwork string          `json:"destination_network"`
	Timestamp          int64           `json:"timestamp"`
}

// Level aggregates one price.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Volume   decimal.Decimal `json:"volume"`
	Notional decimal.Decimal `json:"notional"`
	Orders   int             `json:"orders"`
}

type Snapshot struct {
	Symbol     string  `json:"symbol"`
	BaseAsset  string  `json:"base_asset"`
	QuoteAsset string  `json:"quote_asset"`
	Bids       []Entry `json:"bids"` // best first
	Asks       []Entry `json:"asks"` // best first
}

func (b *Book) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Symbol:     b.symbol,
		BaseAsset:  b.base,
		QuoteAsset: b.quote,
		Bids:       entries(b.bids),
		Asks:       entries(b.asks),
	}
}

func entries(x *OrderIndex) []Entry {
	out := make([]Entry, 0, x.Len())
	x.Levels(func(q *PriceLevelQueue) bool {
		for s := q.head; s != nilSlot; s = q.slots[s].next {
			o := &q.slots[s].order
			out = append(out, Entry{
				OrderID:            o.ID,
				Price:              o.Price,
				Quantity:           o.Quantity,
				Notional:           o.Notional(),
				Account:            o.Account,
				SourceNetwork:      o.SourceNetwork,
				DestinationNetwork: o.DestinationNetwork,
				Timestamp:          o.Timestamp,
			})
		}
		return true
	})
	return out
}

// Depth returns aggregated levels for one side, best first, at most limit
// levels (0 = all).
func (b *Book) Depth(side Side, limit int) []Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !side.valid() {
		return nil
	}
	var out []Level
	b.side(side).Levels(func(q *PriceLevelQueue) bool {
		out = append(out, Level{Price: q.price, Volume: q.volume, Notional: q.notional, Orders: q.count})
		return limit <= 0 || len(out) < limit
	})
	return out
}
