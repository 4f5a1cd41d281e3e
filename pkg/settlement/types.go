package settlement

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperfill/pkg/chain"
)

type Leg string

const (
	LegSource      Leg = "source"
	LegDestination Leg = "destination"
)

type LegStatus string

const (
	StatusPending     LegStatus = "pending"
	StatusSuccess     LegStatus = "success"
	StatusFailed      LegStatus = "failed"
	StatusUnconfirmed LegStatus = "unconfirmed"
	StatusSkipped     LegStatus = "skipped"
)

// Terminal reports whether no further transition is possible for this attempt.
func (s LegStatus) Terminal() bool { return s != StatusPending }

// Config is the static settlement configuration.
type Config struct {
	// Networks by lower-case name.
	Networks map[string]chain.Network
	// Tokens by upper-case symbol.
	Tokens map[string]common.Address

	PriceScale       int32
	QuantityScale    int32
	GasBufferPercent uint64
	FallbackGasLimit uint64
	ReceiptTimeout   time.Duration

	// FailFast aborts the other leg when one fails before broadcast.
	FailFast bool
}

func DefaultConfig() Config {
	return Config{
		Networks:         map[string]chain.Network{},
		Tokens:           map[string]common.Address{},
		PriceScale:       18,
		QuantityScale:    18,
		GasBufferPercent: 30,
		FallbackGasLimit: 500_000,
		ReceiptTimeout:   180 * time.Second,
	}
}

type Request struct {
	Trade orderbook.Trade
	// RequireCallerSignatures disables synthesizing party signatures
	// from key references.
	RequireCallerSignatures bool
}

type LegResult struct {
	Leg         Leg       `json:"leg"`
	Network     string    `json:"network"`
	ChainID     uint64    `json:"chain_id"`
	Status      LegStatus `json:"status"`
	Success     bool      `json:"success"`
	TxHash      string    `json:"tx_hash,omitempty"`
	GasLimit    uint64    `json:"gas_limit,omitempty"`
	GasUsed     uint64    `json:"gas_used,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	Nonce1      string    `json:"nonce1,omitempty"`
	Nonce2      string    `json:"nonce2,omitempty"`
	Broadcast   bool      `json:"broadcast"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	err         error
}

// Err is the underlying failure, nil on success.
func (r *LegResult) Err() error { return r.err }

func (r *LegResult) fail(status LegStatus, err error) {
	r.Status = status
	r.Success = false
	r.err = err
	r.ErrorKind = errorKind(err)
	r.Error = err.Error()
}

type Result struct {
	AttemptID   uuid.UUID `json:"attempt_id"`
	TradeRef    string    `json:"trade_ref"`
	OrderID     string    `json:"order_id"`
	Settled     bool      `json:"settled"`
	Stranded    bool      `json:"stranded"`
	Source      LegResult `json:"source"`
	Destination LegResult `json:"destination"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// StrandedLeg returns the leg that succeeded when the other did not.
func (r *Result) StrandedLeg() *LegResult {
	if !r.Stranded {
		return nil
	}
	if r.Source.Success {
		return &r.Source
	}
	return &r.Destination
}

// LegPayload is what the parties must sign for one leg.
type LegPayload struct {
	Leg          Leg    `json:"leg"`
	Network      string `json:"network"`
	ChainID      uint64 `json:"chain_id"`
	Nonce1       string `json:"nonce1"`
	Nonce2       string `json:"nonce2"`
	Party1Digest string `json:"party1_digest"`
	Party2Digest string `json:"party2_digest"`
}

type SigningPayload struct {
	TradeRef    string     `json:"trade_ref"`
	OrderID     string     `json:"order_id"`
	Source      LegPayload `json:"source"`
	Destination LegPayload `json:"destination"`
}

// Journal persists attempt outcomes.
type Journal interface {
	SaveAttempt(ctx context.Context, r *Result) error
}

// Recorder receives settlement metrics.
type Recorder interface {
	ObserveLeg(leg Leg, network string, status LegStatus, elapsed time.Duration)
	ObserveAttempt(settled, stranded bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveLeg(Leg, string, LegStatus, time.Duration) {}
func (nopRecorder) ObserveAttempt(bool, bool)                        {}
