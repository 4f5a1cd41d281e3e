package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperfill/pkg/chain"
)

// fakeChain simulates one network's settlement contract.
type fakeChain struct {
	mu sync.Mutex

	nonces    map[common.Address]*big.Int
	settled   map[[32]byte]bool
	submitted []chain.Settlement
	gasLimits []uint64

	dialErr     error
	nonceBlocks bool // UserNonce waits for ctx
	estimate    uint64
	estimateErr error
	submitErr   error
	onSubmit    func()
	hangReceipt bool // WaitReceipt never sees a receipt
	revert      bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		nonces:   map[common.Address]*big.Int{},
		settled:  map[[32]byte]bool{},
		estimate: 100_000,
	}
}

func (f *fakeChain) submissions() []chain.Settlement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.Settlement(nil), f.submitted...)
}

type fakeDialer struct {
	mu     sync.Mutex
	chains map[string]*fakeChain
	dials  int
}

func (d *fakeDialer) Dial(ctx context.Context, n chain.Network) (chain.Client, error) {
	d.mu.Lock()
	d.dials++
	fc := d.chains[n.Name]
	d.mu.Unlock()
	if fc == nil {
		return nil, errors.New("no such network")
	}
	if fc.dialErr != nil {
		return nil, fc.dialErr
	}
	return &fakeClient{chain: fc, id: n.ChainID}, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeClient struct {
	chain *fakeChain
	id    *big.Int
}

func (c *fakeClient) ChainID() *big.Int { return c.id }

func (c *fakeClient) Close() {}

func (c *fakeClient) EscrowBalance(ctx context.Context, user, token common.Address) (chain.Balance, error) {
	return chain.Balance{Total: big.NewInt(10), Available: big.NewInt(7), Locked: big.NewInt(3)}, nil
}

func (c *fakeClient) UserNonce(ctx context.Context, user, token common.Address) (*big.Int, error) {
	if c.chain.nonceBlocks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c.chain.mu.Lock()
	defer c.chain.mu.Unlock()
	if n, ok := c.chain.nonces[user]; ok {
		return new(big.Int).Set(n), nil
	}
	return big.NewInt(0), nil
}

func (c *fakeClient) IsSettled(ctx context.Context, orderID [32]byte) (bool, error) {
	c.chain.mu.Lock()
	defer c.chain.mu.Unlock()
	return c.chain.settled[orderID], nil
}

func (c *fakeClient) EstimateGas(ctx context.Context, s chain.Settlement) (uint64, error) {
	return c.chain.estimate, c.chain.estimateErr
}

func (c *fakeClient) SubmitSettlement(ctx context.Context, s chain.Settlement, gasLimit uint64) (common.Hash, error) {
	if c.chain.onSubmit != nil {
		c.chain.onSubmit()
	}
	if c.chain.submitErr != nil {
		return common.Hash{}, c.chain.submitErr
	}
	if ctx.Err() != nil {
		return common.Hash{}, ctx.Err()
	}
	c.chain.mu.Lock()
	defer c.chain.mu.Unlock()
	c.chain.submitted = append(c.chain.submitted, s)
	c.chain.gasLimits = append(c.chain.gasLimits, gasLimit)
	return crypto.Keccak256Hash(s.Trade.OrderId[:], c.id.Bytes()), nil
}

func (c *fakeClient) WaitReceipt(ctx context.Context, tx common.Hash) (*chain.Receipt, error) {
	if c.chain.hangReceipt {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	c.chain.mu.Lock()
	defer c.chain.mu.Unlock()
	if c.chain.revert {
		return &chain.Receipt{Success: false, TxHash: tx, GasUsed: 21_000, BlockNumber: 7}, nil
	}
	last := c.chain.submitted[len(c.chain.submitted)-1]
	for _, a := range []common.Address{last.Trade.Party1, last.Trade.Party2} {
		n, ok := c.chain.nonces[a]
		if !ok {
			n = big.NewInt(0)
		}
		c.chain.nonces[a] = new(big.Int).Add(n, big.NewInt(1))
	}
	c.chain.settled[last.Trade.OrderId] = true
	return &chain.Receipt{Success: true, TxHash: tx, GasUsed: 90_000, BlockNumber: 8}, nil
}

type memJournal struct {
	mu      sync.Mutex
	results []*Result
}

func (j *memJournal) SaveAttempt(ctx context.Context, r *Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, r)
	return nil
}

type countingRecorder struct {
	mu       sync.Mutex
	legs     map[LegStatus]int
	attempts int
	stranded int
}

func (r *countingRecorder) ObserveLeg(leg Leg, network string, status LegStatus, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.legs == nil {
		r.legs = map[LegStatus]int{}
	}
	r.legs[status]++
}

func (r *countingRecorder) ObserveAttempt(settled, stranded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if stranded {
		r.stranded++
	}
}
