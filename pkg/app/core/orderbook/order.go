package orderbook

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side of the book. Values match the signed-direction convention used by
// the rest of the node (bid = +1, ask = -1).
type Side int8

const (
	Bid Side = 1
	Ask Side = -1
)

// String returns the side tag that is also signed on-chain ("bid" / "ask").
func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", int8(s))
	}
}

func (s Side) Opposite() Side { return -s }

func (s Side) valid() bool { return s == Bid || s == Ask }

// ParseSide accepts bid/ask and the buy/sell aliases, case-insensitively.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "bid", "buy":
		return Bid, nil
	case "ask", "sell":
		return Ask, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSide, v)
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSide, int8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Kind int8

const (
	Limit Kind = iota + 1
	Market
)

func (k Kind) String() string {
	switch k {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return fmt.Sprintf("kind(%d)", int8(k))
	}
}

func ParseKind(v string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "limit", "":
		return Limit, nil
	case "market":
		return Market, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, v)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Order is a resting order. Copies handed out by the book are snapshots;
// the live value is owned by exactly one PriceLevelQueue slot.
type Order struct {
	ID                 uint64          `json:"order_id"`
	Side               Side            `json:"side"`
	Price              decimal.Decimal `json:"price"`
	Quantity           decimal.Decimal `json:"quantity"`
	BaseAsset          string          `json:"base_asset"`
	QuoteAsset         string          `json:"quote_asset"`
	Account            string          `json:"account"`
	SourceNetwork      string          `json:"source_network"`
	DestinationNetwork string          `json:"destination_network"`
	ReceiveWallet      string          `json:"receive_wallet,omitempty"`
	KeyRef             string          `json:"-"`
	Timestamp          int64           `json:"timestamp"`
}

func (o *Order) Notional() decimal.Decimal { return o.Price.Mul(o.Quantity) }

// compatible reports whether a resting order can trade against the
// incoming intent: each must be heading to the other's origin network.
func (o *Order) compatible(in *Intent) bool {
	return o.SourceNetwork == in.DestinationNetwork && o.DestinationNetwork == in.SourceNetwork
}

// Intent is an order submission. Price is ignored for market orders.
type Intent struct {
	Kind               Kind            `json:"type"`
	Side               Side            `json:"side"`
	Price              decimal.Decimal `json:"price"`
	Quantity           decimal.Decimal `json:"quantity"`
	Account            string          `json:"account"`
	SourceNetwork      string          `json:"source_network"`
	DestinationNetwork string          `json:"destination_network"`
	ReceiveWallet      string          `json:"receive_wallet,omitempty"`
	KeyRef             string          `json:"key_ref,omitempty"`

	// Replay fields. Zero means assign from the book.
	Timestamp int64  `json:"timestamp,omitempty"`
	OrderID   uint64 `json:"order_id,omitempty"`
}

func (in *Intent) toOrder(id uint64, ts int64, base, quote string) Order {
	return Order{
		ID:                 id,
		Side:               in.Side,
		Price:              in.Price,
		Quantity:           in.Quantity,
		BaseAsset:          base,
		QuoteAsset:         quote,
		Account:            in.Account,
		SourceNetwork:      in.SourceNetwork,
		DestinationNetwork: in.DestinationNetwork,
		ReceiveWallet:      in.ReceiveWallet,
		KeyRef:             in.KeyRef,
		Timestamp:          ts,
	}
}
