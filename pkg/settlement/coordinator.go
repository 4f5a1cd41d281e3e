// Package settlement drives both on-chain legs of a matched cross-chain trade.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperfill/pkg/chain"
	"github.com/uhyunpark/hyperfill/pkg/crypto"
	"github.com/uhyunpark/hyperfill/pkg/util"
)

type Coordinator struct {
	cfg      Config
	dialer   chain.Dialer
	engine   *crypto.Signer
	keys     *crypto.Keyring
	journal  Journal
	recorder Recorder
	logger   *zap.Logger
	clock    util.Clock
}

type Option func(*Coordinator)

func WithJournal(j Journal) Option { return func(c *Coordinator) { c.journal = j } }

func WithRecorder(r Recorder) Option { return func(c *Coordinator) { c.recorder = r } }

func WithLogger(l *zap.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithKeyring enables demo signing for parties that did not sign.
func WithKeyring(k *crypto.Keyring) Option { return func(c *Coordinator) { c.keys = k } }

func WithClock(clk util.Clock) Option { return func(c *Coordinator) { c.clock = clk } }

func NewCoordinator(cfg Config, dialer chain.Dialer, engine *crypto.Signer, opts ...Option) (*Coordinator, error) {
	if dialer == nil {
		return nil, fmt.Errorf("%w: no chain dialer", ErrConfiguration)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: no engine key", ErrConfiguration)
	}
	def := DefaultConfig()
	if cfg.PriceScale <= 0 {
		cfg.PriceScale = def.PriceScale
	}
	if cfg.QuantityScale <= 0 {
		cfg.QuantityScale = def.QuantityScale
	}
	if cfg.FallbackGasLimit == 0 {
		cfg.FallbackGasLimit = def.FallbackGasLimit
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = def.ReceiptTimeout
	}
	c := &Coordinator{
		cfg:      cfg,
		dialer:   dialer,
		engine:   engine,
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
		clock:    util.RealClock{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// EngineAddress is the address the contracts must trust as matching engine.
func (c *Coordinator) EngineAddress() common.Address { return c.engine.Address() }

// Settle runs both legs of req.Trade concurrently and returns once each has
// reached a terminal status. A non-nil error means nothing was sent to any
// chain; the outcome of an attempt that did run is in the Result.
func (c *Coordinator) Settle(ctx context.Context, req Request) (*Result, error) {
	p, err := c.resolve(req.Trade)
	if err == nil {
		err = c.bindSigner("party1", &p.p1, req.Trade.Party1.KeyRef, req.RequireCallerSignatures)
	}
	if err == nil {
		err = c.bindSigner("party2", &p.p2, req.Trade.Party2.KeyRef, req.RequireCallerSignatures)
	}
	if err != nil {
		c.logger.Warn("settlement_rejected", zap.String("trade", req.Trade.Ref()), zap.Error(err))
		return nil, err
	}

	res := &Result{
		AttemptID: uuid.New(),
		TradeRef:  p.ref,
		OrderID:   hexutil.Encode(p.orderID[:]),
		StartedAt: c.clock.Now(),
		Source: LegResult{
			Leg:     LegSource,
			Network: p.source.Name,
			ChainID: p.source.ChainID.Uint64(),
			Status:  StatusPending,
		},
		Destination: LegResult{
			Leg:     LegDestination,
			Network: p.destination.Name,
			ChainID: p.destination.ChainID.Uint64(),
			Status:  StatusPending,
		},
	}
	logger := c.logger.With(zap.String("attempt", res.AttemptID.String()), zap.String("trade", p.ref))
	logger.Info("settlement_attempt_started",
		zap.String("order_id", res.OrderID),
		zap.String("source", p.source.Name),
		zap.String("destination", p.destination.Name))

	// pre governs everything up to broadcast; cancelling it stops a leg
	// that has not sent its transaction yet.
	pre, abort := context.WithCancel(ctx)
	defer abort()

	var wg sync.WaitGroup
	for _, lr := range []*LegResult{&res.Source, &res.Destination} {
		lr := lr
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := c.clock.Now()
			c.runLeg(ctx, pre, p, lr, logger.With(zap.String("leg", string(lr.Leg)), zap.String("network", lr.Network)))
			if c.cfg.FailFast && !lr.Broadcast && !lr.Success {
				abort()
			}
			c.recorder.ObserveLeg(lr.Leg, lr.Network, lr.Status, c.clock.Now().Sub(start))
		}()
	}
	wg.Wait()

	res.FinishedAt = c.clock.Now()
	res.Settled = res.Source.Success && res.Destination.Success
	res.Stranded = res.Source.Success != res.Destination.Success
	c.recorder.ObserveAttempt(res.Settled, res.Stranded)

	if res.Stranded {
		done, other := res.Source, res.Destination
		if !done.Success {
			done, other = other, done
		}
		logger.Error("settlement_stranded_leg",
			zap.String("order_id", res.OrderID),
			zap.String("settled_leg", string(done.Leg)),
			zap.String("settled_network", done.Network),
			zap.String("settled_tx", done.TxHash),
			zap.String("open_leg", string(other.Leg)),
			zap.String("open_status", string(other.Status)),
			zap.String("open_error", other.Error))
	}
	logger.Info("settlement_attempt_finished",
		zap.Bool("settled", res.Settled),
		zap.Bool("stranded", res.Stranded),
		zap.String("source_status", string(res.Source.Status)),
		zap.String("destination_status", string(res.Destination.Status)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))

	if c.journal != nil {
		if err := c.journal.SaveAttempt(context.WithoutCancel(ctx), res); err != nil {
			logger.Error("settlement_journal_failed", zap.Error(err))
		}
	}
	return res, nil
}

func (c *Coordinator) runLeg(ctx, pre context.Context, p *plan, lr *LegResult, logger *zap.Logger) {
	preFail := func(err error) {
		if pre.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrAborted, err)
			lr.fail(StatusSkipped, err)
			logger.Warn("settlement_leg_skipped", zap.Error(err))
			return
		}
		lr.fail(StatusFailed, err)
		logger.Warn("settlement_leg_failed", zap.String("kind", lr.ErrorKind), zap.Error(err))
	}

	if err := pre.Err(); err != nil {
		preFail(err)
		return
	}
	net := p.network(lr.Leg)
	client, err := c.dialer.Dial(pre, net)
	if err != nil {
		preFail(fmt.Errorf("%w: dial: %v", ErrChain, err))
		return
	}
	defer client.Close()

	n1, n2, err := fetchNonces(pre, client, p)
	if err != nil {
		preFail(err)
		return
	}
	lr.Nonce1, lr.Nonce2 = n1.String(), n2.String()

	s, err := c.buildSettlement(p, lr.Leg, net.ChainID, n1, n2)
	if err != nil {
		preFail(err)
		return
	}
	if err := pre.Err(); err != nil {
		preFail(err)
		return
	}
	gas := c.gasLimit(pre, client, s, logger)
	if err := pre.Err(); err != nil {
		preFail(err)
		return
	}

	// Past this point the caller can no longer stop the leg.
	live := context.WithoutCancel(ctx)
	tx, err := client.SubmitSettlement(live, s, gas)
	if err != nil {
		lr.fail(StatusFailed, fmt.Errorf("%w: submit: %v", ErrChain, err))
		logger.Warn("settlement_leg_failed", zap.String("kind", lr.ErrorKind), zap.Error(err))
		return
	}
	lr.Broadcast = true
	lr.TxHash = tx.Hex()
	lr.GasLimit = gas
	logger.Info("settlement_leg_submitted", zap.String("tx", lr.TxHash), zap.Uint64("gas", gas))

	wctx, cancel := context.WithTimeout(live, c.cfg.ReceiptTimeout)
	defer cancel()
	rcpt, err := client.WaitReceipt(wctx, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrReceiptTimeout, c.cfg.ReceiptTimeout)
		} else {
			err = fmt.Errorf("%w: receipt: %v", ErrChain, err)
		}
		lr.fail(StatusUnconfirmed, err)
		logger.Warn("settlement_leg_unconfirmed", zap.String("tx", lr.TxHash), zap.Error(err))
		return
	}
	lr.GasUsed = rcpt.GasUsed
	lr.BlockNumber = rcpt.BlockNumber
	if !rcpt.Success {
		lr.fail(StatusFailed, fmt.Errorf("%w: %w", ErrChain, chain.ErrReverted))
		logger.Warn("settlement_leg_reverted", zap.String("tx", lr.TxHash), zap.Uint64("block", rcpt.BlockNumber))
		return
	}
	lr.Status = StatusSuccess
	lr.Success = true
	logger.Info("settlement_leg_confirmed",
		zap.String("tx", lr.TxHash),
		zap.Uint64("block", rcpt.BlockNumber),
		zap.Uint64("gas_used", rcpt.GasUsed))
}

func fetchNonces(ctx context.Context, client chain.Client, p *plan) (*big.Int, *big.Int, error) {
	n1, err := client.UserNonce(ctx, p.p1.account, p.base)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: party1 nonce: %v", ErrChain, err)
	}
	n2, err := client.UserNonce(ctx, p.p2.account, p.base)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: party2 nonce: %v", ErrChain, err)
	}
	return n1, n2, nil
}

func (c *Coordinator) gasLimit(ctx context.Context, client chain.Client, s chain.Settlement, logger *zap.Logger) uint64 {
	est, err := client.EstimateGas(ctx, s)
	if err != nil || est == 0 {
		logger.Warn("gas_estimate_fallback", zap.Error(err), zap.Uint64("gas", c.cfg.FallbackGasLimit))
		return c.cfg.FallbackGasLimit
	}
	return est + est*c.cfg.GasBufferPercent/100
}

func (c *Coordinator) buildSettlement(p *plan, leg Leg, chainID, n1, n2 *big.Int) (chain.Settlement, error) {
	srcID, dstID := p.source.ChainID, p.destination.ChainID

	d1, err := p.partyMessage(p.p1, n1, srcID, dstID).Digest()
	if err != nil {
		return chain.Settlement{}, err
	}
	d2, err := p.partyMessage(p.p2, n2, srcID, dstID).Digest()
	if err != nil {
		return chain.Settlement{}, err
	}
	sig1, err := partySignature("party1", p.p1, leg, d1)
	if err != nil {
		return chain.Settlement{}, err
	}
	sig2, err := partySignature("party2", p.p2, leg, d2)
	if err != nil {
		return chain.Settlement{}, err
	}
	ed, err := p.engineMessage(leg, chainID).Digest()
	if err != nil {
		return chain.Settlement{}, err
	}
	esig, err := c.engine.SignPersonal(ed)
	if err != nil {
		return chain.Settlement{}, fmt.Errorf("%w: engine: %v", ErrSignature, err)
	}

	return chain.Settlement{
		Trade: chain.TradeData{
			OrderId:             p.orderID,
			Party1:              p.p1.account,
			Party2:              p.p2.account,
			Party1ReceiveWallet: p.p1.receive,
			Party2ReceiveWallet: p.p2.receive,
			BaseAsset:           p.base,
			QuoteAsset:          p.quote,
			Price:               p.price,
			Quantity:            p.quantity,
			Party1Side:          p.p1.side,
			Party2Side:          p.p2.side,
			SourceChainId:       srcID,
			DestinationChainId:  dstID,
			Timestamp:           p.timestamp,
			Nonce1:              n1,
			Nonce2:              n2,
		},
		Signature1:      sig1,
		Signature2:      sig2,
		EngineSignature: esig,
		IsSourceChain:   leg == LegSource,
	}, nil
}

// partySignature returns the caller's signature for leg after checking that
// it recovers to the party, or signs with the party's demo key.
func partySignature(label string, pt party, leg Leg, digest common.Hash) ([]byte, error) {
	if sig := pt.signature(leg); len(sig) > 0 {
		if !crypto.VerifyPersonal(pt.account, digest, sig) {
			return nil, fmt.Errorf("%w: %s %s signature does not recover to %s", ErrSignature, label, leg, pt.account.Hex())
		}
		return sig, nil
	}
	// bindSigner rejects a trade missing any caller signature before legs
	// start, so with signatures required this is never reached.
	if pt.signer == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrMissingSignature, label, leg)
	}
	sig, err := pt.signer.SignPersonal(digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSignature, label, err)
	}
	return sig, nil
}

// Prepare returns, per leg, the digests each party has to sign with the
// nonces currently on that leg's chain.
func (c *Coordinator) Prepare(ctx context.Context, t orderbook.Trade) (*SigningPayload, error) {
	p, err := c.resolve(t)
	if err != nil {
		return nil, err
	}
	out := &SigningPayload{TradeRef: p.ref, OrderID: hexutil.Encode(p.orderID[:])}
	for _, leg := range []Leg{LegSource, LegDestination} {
		lp, err := c.prepareLeg(ctx, p, leg)
		if err != nil {
			return nil, err
		}
		if leg == LegSource {
			out.Source = lp
		} else {
			out.Destination = lp
		}
	}
	return out, nil
}

func (c *Coordinator) prepareLeg(ctx context.Context, p *plan, leg Leg) (LegPayload, error) {
	net := p.network(leg)
	client, err := c.dialer.Dial(ctx, net)
	if err != nil {
		return LegPayload{}, fmt.Errorf("%w: dial %s: %v", ErrChain, net.Name, err)
	}
	defer client.Close()
	n1, n2, err := fetchNonces(ctx, client, p)
	if err != nil {
		return LegPayload{}, err
	}
	d1, err := p.partyMessage(p.p1, n1, p.source.ChainID, p.destination.ChainID).Digest()
	if err != nil {
		return LegPayload{}, err
	}
	d2, err := p.partyMessage(p.p2, n2, p.source.ChainID, p.destination.ChainID).Digest()
	if err != nil {
		return LegPayload{}, err
	}
	return LegPayload{
		Leg:          leg,
		Network:      net.Name,
		ChainID:      net.ChainID.Uint64(),
		Nonce1:       n1.String(),
		Nonce2:       n2.String(),
		Party1Digest: d1.Hex(),
		Party2Digest: d2.Hex(),
	}, nil
}

// SettledOn reports whether each leg's contract has already recorded the trade.
func (c *Coordinator) SettledOn(ctx context.Context, t orderbook.Trade) (source, destination bool, err error) {
	p, err := c.resolve(t)
	if err != nil {
		return false, false, err
	}
	check := func(n chain.Network) (bool, error) {
		client, err := c.dialer.Dial(ctx, n)
		if err != nil {
			return false, fmt.Errorf("%w: dial %s: %v", ErrChain, n.Name, err)
		}
		defer client.Close()
		ok, err := client.IsSettled(ctx, p.orderID)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrChain, err)
		}
		return ok, nil
	}
	if source, err = check(p.source); err != nil {
		return false, false, err
	}
	if destination, err = check(p.destination); err != nil {
		return false, false, err
	}
	return source, destination, nil
}

// EscrowBalance reads an account's escrow on a configured network.
func (c *Coordinator) EscrowBalance(ctx context.Context, network, account, asset string) (chain.Balance, error) {
	n, err := c.networkByName(network)
	if err != nil {
		return chain.Balance{}, err
	}
	if !common.IsHexAddress(account) {
		return chain.Balance{}, fmt.Errorf("%w: account %q is not an address", ErrConfiguration, account)
	}
	token, err := c.token(asset)
	if err != nil {
		return chain.Balance{}, err
	}
	client, err := c.dialer.Dial(ctx, n)
	if err != nil {
		return chain.Balance{}, fmt.Errorf("%w: dial %s: %v", ErrChain, n.Name, err)
	}
	defer client.Close()
	b, err := client.EscrowBalance(ctx, common.HexToAddress(account), token)
	if err != nil {
		return chain.Balance{}, fmt.Errorf("%w: %v", ErrChain, err)
	}
	return b, nil
}

// Networks lists the configured networks by name.
func (c *Coordinator) Networks() []chain.Network {
	out := make([]chain.Network, 0, len(c.cfg.Networks))
	for _, n := range c.cfg.Networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
