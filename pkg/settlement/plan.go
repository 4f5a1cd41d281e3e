package settlement

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperfill/pkg/chain"
	"github.com/uhyunpark/hyperfill/pkg/crypto"
)

type party struct {
	account common.Address
	receive common.Address
	side    string
	sigs    orderbook.Signatures
	signer  *crypto.Signer // demo signing only
}

func (p party) signature(leg Leg) []byte {
	if leg == LegSource {
		return p.sigs.Source
	}
	return p.sigs.Destination
}

// plan is a trade resolved against configuration, ready for chain calls.
type plan struct {
	ref         string
	orderID     [32]byte
	base, quote common.Address
	price       *big.Int
	quantity    *big.Int
	timestamp   *big.Int
	p1, p2      party
	source      chain.Network
	destination chain.Network
}

func (p *plan) network(leg Leg) chain.Network {
	if leg == LegSource {
		return p.source
	}
	return p.destination
}

func (p *plan) partyMessage(pt party, nonce, chainSrc, chainDst *big.Int) PartyMessage {
	return PartyMessage{
		OrderID:            p.orderID,
		BaseAsset:          p.base,
		QuoteAsset:         p.quote,
		Price:              p.price,
		Quantity:           p.quantity,
		Side:               pt.side,
		ReceiveWallet:      pt.receive,
		SourceChainID:      chainSrc,
		DestinationChainID: chainDst,
		Timestamp:          p.timestamp,
		Nonce:              nonce,
	}
}

func (p *plan) engineMessage(leg Leg, chainID *big.Int) EngineMessage {
	return EngineMessage{
		OrderID:             p.orderID,
		Party1:              p.p1.account,
		Party2:              p.p2.account,
		Party1ReceiveWallet: p.p1.receive,
		Party2ReceiveWallet: p.p2.receive,
		BaseAsset:           p.base,
		QuoteAsset:          p.quote,
		Price:               p.price,
		Quantity:            p.quantity,
		IsSourceChain:       leg == LegSource,
		ChainID:             chainID,
	}
}

func (c *Coordinator) resolve(t orderbook.Trade) (*plan, error) {
	p := &plan{ref: t.Ref(), timestamp: big.NewInt(t.Timestamp)}
	var err error
	if p.orderID, err = OrderKey(p.ref); err != nil {
		return nil, err
	}
	if p.base, err = c.token(t.BaseAsset); err != nil {
		return nil, err
	}
	if p.quote, err = c.token(t.QuoteAsset); err != nil {
		return nil, err
	}
	if p.price, err = ToFixed(t.Price, c.cfg.PriceScale); err != nil {
		return nil, err
	}
	if p.quantity, err = ToFixed(t.Quantity, c.cfg.QuantityScale); err != nil {
		return nil, err
	}
	if p.source, err = c.networkByName(t.Party1.SourceNetwork); err != nil {
		return nil, fmt.Errorf("party1 source: %w", err)
	}
	if p.destination, err = c.networkByName(t.Party2.SourceNetwork); err != nil {
		return nil, fmt.Errorf("party2 source: %w", err)
	}
	if p.p1, err = resolveParty("party1", t.Party1); err != nil {
		return nil, err
	}
	if p.p2, err = resolveParty("party2", t.Party2); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Coordinator) token(sym string) (common.Address, error) {
	if a, ok := c.cfg.Tokens[strings.ToUpper(sym)]; ok {
		return a, nil
	}
	if common.IsHexAddress(sym) {
		return common.HexToAddress(sym), nil
	}
	return common.Address{}, fmt.Errorf("%w: %q", ErrUnknownToken, sym)
}

func (c *Coordinator) networkByName(name string) (chain.Network, error) {
	n, ok := c.cfg.Networks[strings.ToLower(name)]
	if !ok {
		return chain.Network{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
	if n.ChainID == nil || n.ChainID.Sign() <= 0 {
		return chain.Network{}, fmt.Errorf("%w: network %s has no chain id", ErrConfiguration, n.Name)
	}
	if n.Contract == (common.Address{}) {
		return chain.Network{}, fmt.Errorf("%w: network %s has no settlement contract", ErrConfiguration, n.Name)
	}
	return n, nil
}

func resolveParty(label string, src orderbook.Party) (party, error) {
	if !common.IsHexAddress(src.Account) {
		return party{}, fmt.Errorf("%w: %s account %q is not an address", ErrConfiguration, label, src.Account)
	}
	pt := party{
		account: common.HexToAddress(src.Account),
		side:    src.Side.String(),
		sigs:    src.Signatures,
	}
	pt.receive = pt.account
	if src.ReceiveWallet != "" {
		if !common.IsHexAddress(src.ReceiveWallet) {
			return party{}, fmt.Errorf("%w: %s receive wallet %q is not an address", ErrConfiguration, label, src.ReceiveWallet)
		}
		pt.receive = common.HexToAddress(src.ReceiveWallet)
	}
	return pt, nil
}

// bindSigner makes sure pt can produce both leg signatures, either because
// the caller supplied them or from the keyring in demo mode.
func (c *Coordinator) bindSigner(label string, pt *party, keyRef string, requireSigs bool) error {
	if len(pt.sigs.Source) > 0 && len(pt.sigs.Destination) > 0 {
		return nil
	}
	if requireSigs {
		return fmt.Errorf("%w: %s", ErrMissingSignature, label)
	}
	if c.keys == nil {
		return fmt.Errorf("%w: %s unsigned and no keyring", ErrConfiguration, label)
	}
	s, err := c.keys.Signer(keyRef)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfiguration, label, err)
	}
	if s.Address() != pt.account {
		return fmt.Errorf("%w: %s key does not match account %s", ErrConfiguration, label, pt.account.Hex())
	}
	pt.signer = s
	return nil
}
