package settlement

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	hfcrypto "github.com/uhyunpark/hyperfill/pkg/crypto"
)

// OrderKey maps a settlement reference to the contract's bytes32 order id.
// A 0x-prefixed hex reference is left-padded to 32 bytes; anything else is
// keccak256 of its text.
func OrderKey(ref string) ([32]byte, error) {
	var out [32]byte
	if strings.HasPrefix(ref, "0x") {
		h := ref[2:]
		if len(h) > 64 {
			return out, fmt.Errorf("%w: order id %q longer than 32 bytes", ErrConfiguration, ref)
		}
		b, err := hex.DecodeString(strings.Repeat("0", 64-len(h)) + h)
		if err != nil {
			return out, fmt.Errorf("%w: order id %q: %v", ErrConfiguration, ref, err)
		}
		copy(out[:], b)
		return out, nil
	}
	return crypto.Keccak256Hash([]byte(ref)), nil
}

// ToFixed scales v to an integer with scale decimals. Extra precision is an
// error rather than being truncated.
func ToFixed(v decimal.Decimal, scale int32) (*big.Int, error) {
	if v.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", ErrConfiguration, v)
	}
	shifted := v.Shift(scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", ErrConfiguration, v, scale)
	}
	return shifted.BigInt(), nil
}

// PartyMessage is what each trading party signs for a leg.
type PartyMessage struct {
	OrderID            [32]byte
	BaseAsset          common.Address
	QuoteAsset         common.Address
	Price              *big.Int
	Quantity           *big.Int
	Side               string
	ReceiveWallet      common.Address
	SourceChainID      *big.Int
	DestinationChainID *big.Int
	Timestamp          *big.Int
	Nonce              *big.Int
}

// Digest is keccak256(abi.encodePacked(orderId, baseAsset, quoteAsset,
// price, quantity, side, receiveWallet, sourceChainId, destinationChainId,
// timestamp, nonce)).
func (m PartyMessage) Digest() (common.Hash, error) {
	return hfcrypto.NewPacked().
		Bytes32(m.OrderID).
		Address(m.BaseAsset).
		Address(m.QuoteAsset).
		Uint256(m.Price).
		Uint256(m.Quantity).
		String(m.Side).
		Address(m.ReceiveWallet).
		Uint256(m.SourceChainID).
		Uint256(m.DestinationChainID).
		Uint256(m.Timestamp).
		Uint256(m.Nonce).
		Sum()
}

// EngineMessage is the matching engine's authorization for one leg.
type EngineMessage struct {
	OrderID             [32]byte
	Party1              common.Address
	Party2              common.Address
	Party1ReceiveWallet common.Address
	Party2ReceiveWallet common.Address
	BaseAsset           common.Address
	QuoteAsset          common.Address
	Price               *big.Int
	Quantity            *big.Int
	IsSourceChain       bool
	ChainID             *big.Int
}

// Digest is keccak256(abi.encodePacked(orderId, party1, party2,
// party1ReceiveWallet, party2ReceiveWallet, baseAsset, quoteAsset, price,
// quantity, isSourceChain, chainId)).
func (m EngineMessage) Digest() (common.Hash, error) {
	return hfcrypto.NewPacked().
		Bytes32(m.OrderID).
		Address(m.Party1).
		Address(m.Party2).
		Address(m.Party1ReceiveWallet).
		Address(m.Party2ReceiveWallet).
		Address(m.BaseAsset).
		Address(m.QuoteAsset).
		Uint256(m.Price).
		Uint256(m.Quantity).
		Bool(m.IsSourceChain).
		Uint256(m.ChainID).
		Sum()
}
