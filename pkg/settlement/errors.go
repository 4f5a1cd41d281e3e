package settlement

import (
	"errors"
	"fmt"
)

// Error categories. A LegResult records the category name in ErrorKind.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrSignature     = errors.New("signature error")
	ErrChain         = errors.New("chain error")
	ErrAborted       = errors.New("leg aborted before broadcast")
)

var (
	ErrMissingSignature = fmt.Errorf("%w: missing caller signature", ErrSignature)
	ErrReceiptTimeout   = fmt.Errorf("%w: receipt not seen before timeout", ErrChain)
	ErrUnknownNetwork   = fmt.Errorf("%w: unknown network", ErrConfiguration)
	ErrUnknownToken     = fmt.Errorf("%w: unknown token", ErrConfiguration)
)

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrSignature):
		return "signature"
	case errors.Is(err, ErrAborted):
		return "aborted"
	case errors.Is(err, ErrReceiptTimeout):
		return "timeout"
	case errors.Is(err, ErrChain):
		return "chain"
	default:
		return "unknown"
	}
}
