package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperfill/pkg/settlement"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest is a live order. Ids and timestamps are always
// assigned by the book; replay goes through spot.App directly.
type SubmitOrderRequest struct {
	Symbol             string          `json:"symbol"`
	Type               orderbook.Kind  `json:"type"`
	Side               orderbook.Side  `json:"side"`
	Price              decimal.Decimal `json:"price"`
	Quantity           decimal.Decimal `json:"quantity"`
	Account            string          `json:"account"`
	SourceNetwork      string          `json:"source_network"`
	DestinationNetwork string          `json:"destination_network"`
	ReceiveWallet      string          `json:"receive_wallet,omitempty"`
	KeyRef             string          `json:"key_ref,omitempty"`
}

func (r SubmitOrderRequest) Intent() orderbook.Intent {
	kind := r.Type
	if kind == 0 {
		kind = orderbook.Limit
	}
	return orderbook.Intent{
		Kind:               kind,
		Side:               r.Side,
		Price:              r.Price,
		Quantity:           r.Quantity,
		Account:            r.Account,
		SourceNetwork:      r.SourceNetwork,
		DestinationNetwork: r.DestinationNetwork,
		ReceiveWallet:      r.ReceiveWallet,
		KeyRef:             r.KeyRef,
	}
}

type CancelOrderRequest struct {
	Symbol  string         `json:"symbol"`
	Side    orderbook.Side `json:"side"`
	OrderID uint64         `json:"order_id"`
}

// ModifyOrderRequest leaves price or quantity unchanged when omitted.
type ModifyOrderRequest struct {
	Symbol   string           `json:"symbol"`
	Side     orderbook.Side   `json:"side"`
	OrderID  uint64           `json:"order_id"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
}

// SettleRequest carries each party's per-leg signatures.
type SettleRequest struct {
	Party1 orderbook.Signatures `json:"party1"`
	Party2 orderbook.Signatures `json:"party2"`
}

type ResolveRequest struct {
	Note string `json:"note"`
}

// ==============================
// REST Response Types
// ==============================

type MarketInfo struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Status     string `json:"status"`
	Bids       int    `json:"bids"`
	Asks       int    `json:"asks"`
}

type SubmitOrderResponse struct {
	Task     string            `json:"task"`
	TaskCode int               `json:"task_code"`
	Trades   []orderbook.Trade `json:"trades"`
	Resting  *orderbook.Order  `json:"resting,omitempty"`
	NextBest *orderbook.Order  `json:"next_best,omitempty"`
}

type CancelOrderResponse struct {
	Cancelled bool             `json:"cancelled"`
	Order     *orderbook.Order `json:"order,omitempty"`
}

type DepthResponse struct {
	Symbol string            `json:"symbol"`
	Side   orderbook.Side    `json:"side"`
	Levels []orderbook.Level `json:"levels"`
}

type LockedFundsResponse struct {
	Account string          `json:"account"`
	Asset   string          `json:"asset"`
	Locked  decimal.Decimal `json:"locked"`
}

type OnChainStatus struct {
	TradeRef    string `json:"trade_ref"`
	Source      bool   `json:"source_settled"`
	Destination bool   `json:"destination_settled"`
}

type EscrowBalanceResponse struct {
	Network   string `json:"network"`
	Account   string `json:"account"`
	Asset     string `json:"asset"`
	Total     string `json:"total"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest subscribes to channels such as "trades:HBAR_USDC",
// "orderbook:HBAR_USDC" or "settlements".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type WSAck struct {
	Type     string   `json:"type"` // "subscribed" or "unsubscribed"
	Channels []string `json:"channels"`
}

type TradeUpdate struct {
	Type  string          `json:"type"` // "trade"
	Trade orderbook.Trade `json:"trade"`
}

type OrderbookUpdate struct {
	Type      string            `json:"type"` // "orderbook"
	Symbol    string            `json:"symbol"`
	Bids      []orderbook.Level `json:"bids"`
	Asks      []orderbook.Level `json:"asks"`
	Timestamp int64             `json:"timestamp"`
}

type SettlementUpdate struct {
	Type   string             `json:"type"` // "settlement"
	Result *settlement.Result `json:"result"`
}
