package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
)

var (
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrNotFound      = errors.New("market not found")
	ErrClosed        = errors.New("market registry closed")
	ErrPaused        = fmt.Errorf("%w: market paused", orderbook.ErrPolicy)
)

// MarketStatus represents the trading state of a market
type MarketStatus int8

const (
	Active MarketStatus = iota
	Paused
)

func (s MarketStatus) String() string {
	switch s {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Market pairs a symbol with its matching book.
type Market struct {
	Symbol     string // e.g. "HBAR_USDC"
	BaseAsset  string
	QuoteAsset string
	Status     MarketStatus
	Book       *orderbook.Book
}

// ParseSymbol splits "BASE_QUOTE". Assets are upper-cased.
func ParseSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q, want BASE_QUOTE", ErrInvalidSymbol, symbol)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}

// NormalizeSymbol returns the canonical upper-case form of symbol.
func NormalizeSymbol(symbol string) (string, error) {
	base, quote, err := ParseSymbol(strings.TrimSpace(symbol))
	if err != nil {
		return "", err
	}
	return base + "_" + quote, nil
}
