package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// EVMDialer opens ethclient-backed clients that sign with the engine key.
type EVMDialer struct {
	Key          *ecdsa.PrivateKey
	GasPrice     *big.Int      // used when SuggestGasPrice fails
	PollInterval time.Duration // receipt polling, default 2s
	Logger       *zap.Logger
}

func (d *EVMDialer) Dial(ctx context.Context, n Network) (Client, error) {
	if d.Key == nil {
		return nil, errors.New("evm dialer: no signing key")
	}
	if n.ChainID == nil || n.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("network %s: invalid chain id", n.Name)
	}
	eth, err := ethclient.DialContext(ctx, n.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, n.Name, err)
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := d.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &EVMClient{
		eth:      eth,
		net:      n,
		key:      d.Key,
		from:     crypto.PubkeyToAddress(d.Key.PublicKey),
		gasPrice: d.GasPrice,
		poll:     poll,
		logger:   logger.With(zap.String("network", n.Name)),
	}, nil
}

// EVMClient is a Client over JSON-RPC.
type EVMClient struct {
	eth      *ethclient.Client
	net      Network
	key      *ecdsa.PrivateKey
	from     common.Address
	gasPrice *big.Int
	poll     time.Duration
	logger   *zap.Logger
}

func (c *EVMClient) ChainID() *big.Int { return new(big.Int).Set(c.net.ChainID) }

func (c *EVMClient) Close() { c.eth.Close() }

func (c *EVMClient) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := SettlementABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := c.net.Contract
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %v", ErrUnreachable, method, c.net.Name, err)
	}
	vals, err := SettlementABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

func (c *EVMClient) EscrowBalance(ctx context.Context, user, token common.Address) (Balance, error) {
	vals, err := c.call(ctx, "checkEscrowBalance", user, token)
	if err != nil {
		return Balance{}, err
	}
	if len(vals) != 3 {
		return Balance{}, fmt.Errorf("checkEscrowBalance: %d return values", len(vals))
	}
	return Balance{
		Total:     vals[0].(*big.Int),
		Available: vals[1].(*big.Int),
		Locked:    vals[2].(*big.Int),
	}, nil
}

func (c *EVMClient) UserNonce(ctx context.Context, user, token common.Address) (*big.Int, error) {
	vals, err := c.call(ctx, "getUserNonce", user, token)
	if err != nil {
		return nil, err
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getUserNonce: unexpected %T", vals[0])
	}
	return n, nil
}

func (c *EVMClient) IsSettled(ctx context.Context, orderID [32]byte) (bool, error) {
	vals, err := c.call(ctx, "settledCrossChainOrders", orderID)
	if err != nil {
		return false, err
	}
	settled, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("settledCrossChainOrders: unexpected %T", vals[0])
	}
	return settled, nil
}

func (c *EVMClient) EstimateGas(ctx context.Context, s Settlement) (uint64, error) {
	data, err := s.Calldata()
	if err != nil {
		return 0, err
	}
	to := c.net.Contract
	return c.eth.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
}

func (c *EVMClient) SubmitSettlement(ctx context.Context, s Settlement, gasLimit uint64) (common.Hash, error) {
	data, err := s.Calldata()
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pending nonce: %v", ErrUnreachable, err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil || gasPrice == nil {
		if c.gasPrice == nil {
			return common.Hash{}, fmt.Errorf("%w: gas price: %v", ErrUnreachable, err)
		}
		c.logger.Warn("gas_price_fallback", zap.Error(err), zap.String("gas_price", c.gasPrice.String()))
		gasPrice = c.gasPrice
	}

	tx := types.NewTransaction(nonce, c.net.Contract, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.net.ChainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	c.logger.Info("settlement_tx_sent",
		zap.String("tx", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gasLimit))
	return signed.Hash(), nil
}

func (c *EVMClient) WaitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		r, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return &Receipt{
				Success:     r.Status == types.ReceiptStatusSuccessful,
				TxHash:      r.TxHash,
				GasUsed:     r.GasUsed,
				BlockNumber: r.BlockNumber.Uint64(),
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("receipt_poll_error", zap.String("tx", hash.Hex()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ Client = (*EVMClient)(nil)
