package orderbook

import (
	"errors"
	"fmt"
)

// Error categories. Use errors.Is against these to classify a rejection.
var (
	ErrValidation = errors.New("validation error")
	ErrPolicy     = errors.New("policy rejection")
)

var (
	ErrNonPositiveQuantity = fmt.Errorf("%w: quantity must be positive", ErrValidation)
	ErrInvalidPrice        = fmt.Errorf("%w: limit price must be positive", ErrValidation)
	ErrInvalidSide         = fmt.Errorf("%w: side must be bid or ask", ErrValidation)
	ErrInvalidKind         = fmt.Errorf("%w: order kind must be limit or market", ErrValidation)
	ErrPrecision           = fmt.Errorf("%w: value exceeds book precision", ErrValidation)
	ErrDuplicateOrder      = fmt.Errorf("%w: order id already used", ErrValidation)
	ErrOrderNotFound       = fmt.Errorf("%w: order not found", ErrValidation)

	// ErrSweepTooLarge rejects a crossing limit order that would need more
	// than one resting order to fill.
	ErrSweepTooLarge = fmt.Errorf("%w: limit order larger than matched resting order", ErrPolicy)
	ErrWouldCross    = fmt.Errorf("%w: modification would cross the book", ErrPolicy)
)
