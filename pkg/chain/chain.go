// Package chain is the per-network binding to the TradeSettlement contract.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrReverted    = errors.New("transaction reverted")
	ErrUnreachable = errors.New("chain unreachable")
)

// Network is the static config of one chain.
type Network struct {
	Name     string
	RPCURL   string
	ChainID  *big.Int
	Contract common.Address
}

type Balance struct {
	Total     *big.Int
	Available *big.Int
	Locked    *big.Int
}

type Receipt struct {
	Success     bool
	TxHash      common.Hash
	GasUsed     uint64
	BlockNumber uint64
}

// Client talks to one network's settlement contract.
type Client interface {
	ChainID() *big.Int
	EscrowBalance(ctx context.Context, user, token common.Address) (Balance, error)
	UserNonce(ctx context.Context, user, token common.Address) (*big.Int, error)
	IsSettled(ctx context.Context, orderID [32]byte) (bool, error)
	EstimateGas(ctx context.Context, s Settlement) (uint64, error)
	SubmitSettlement(ctx context.Context, s Settlement, gasLimit uint64) (common.Hash, error)
	// WaitReceipt blocks until the transaction is mined or ctx is done.
	WaitReceipt(ctx context.Context, tx common.Hash) (*Receipt, error)
	Close()
}

// Dialer opens a Client for a network.
type Dialer interface {
	Dial(ctx context.Context, n Network) (Client, error)
}
