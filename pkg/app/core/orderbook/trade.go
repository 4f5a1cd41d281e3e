package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Signatures holds a party's authorization for each settlement leg.
type Signatures struct {
	Source      hexutil.Bytes `json:"source,omitempty"`
	Destination hexutil.Bytes `json:"destination,omitempty"`
}

// Party is one side of a trade.
// OrderID and Remaining are set only for the resting party.
type Party struct {
	Account            string           `json:"account"`
	Side               Side             `json:"side"`
	OrderID            *uint64          `json:"order_id,omitempty"`
	Remaining          *decimal.Decimal `json:"remaining,omitempty"`
	KeyRef             string           `json:"-"`
	SourceNetwork      string           `json:"source_network"`
	DestinationNetwork string           `json:"destination_network"`
	ReceiveWallet      string           `json:"receive_wallet,omitempty"`
	Signatures         Signatures       `json:"signatures"`
}

// Trade is one tape record. Party1 is the resting order, Party2 the incoming one.
type Trade struct {
	Seq        uint64          `json:"seq"`
	Symbol     string          `json:"symbol"`
	Epoch      string          `json:"epoch,omitempty"`
	BaseAsset  string          `json:"base_asset"`
	QuoteAsset string          `json:"quote_asset"`
	Timestamp  int64           `json:"timestamp"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Party1     Party           `json:"party1"`
	Party2     Party           `json:"party2"`
}

// Ref identifies the trade for settlement: "<symbol>-<epoch>-<seq>", or
// "<symbol>-<seq>" for a book without an epoch.
func (t Trade) Ref() string {
	if t.Epoch == "" {
		return fmt.Sprintf("%s-%d", t.Symbol, t.Seq)
	}
	return fmt.Sprintf("%s-%s-%d", t.Symbol, t.Epoch, t.Seq)
}

// NewEpoch returns a fresh random epoch for a process's books.
func NewEpoch() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithSignatures returns a copy carrying the given party signatures.
func (t Trade) WithSignatures(party1, party2 Signatures) Trade {
	t.Party1.Signatures = party1
	t.Party2.Signatures = party2
	return t
}

func restingParty(o Order, remaining decimal.Decimal) Party {
	id := o.ID
	return Party{
		Account:            o.Account,
		Side:               o.Side,
		OrderID:            &id,
		Remaining:          &remaining,
		KeyRef:             o.KeyRef,
		SourceNetwork:      o.SourceNetwork,
		DestinationNetwork: o.DestinationNetwork,
		ReceiveWallet:      o.ReceiveWallet,
	}
}

func incomingParty(in *Intent) Party {
	return Party{
		Account:            in.Account,
		Side:               in.Side,
		KeyRef:             in.KeyRef,
		SourceNetwork:      in.SourceNetwork,
		DestinationNetwork: in.DestinationNetwork,
		ReceiveWallet:      in.ReceiveWallet,
	}
}
