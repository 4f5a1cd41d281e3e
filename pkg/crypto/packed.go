package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Packed accumulates values in Solidity abi.encodePacked layout:
// static types at their natural width, no padding, strings as raw bytes.
// The first encoding error sticks and is returned by Sum.
type Packed struct {
	buf []byte
	err error
}

func NewPacked() *Packed { return &Packed{} }

func (p *Packed) Bytes32(b [32]byte) *Packed {
	p.buf = append(p.buf, b[:]...)
	return p
}

func (p *Packed) Address(a common.Address) *Packed {
	p.buf = append(p.buf, a.Bytes()...)
	return p
}

func (p *Packed) Uint256(v *big.Int) *Packed {
	switch {
	case v == nil:
		p.fail(errors.New("packed: nil uint256"))
	case v.Sign() < 0 || v.Cmp(maxUint256) > 0:
		p.fail(fmt.Errorf("packed: %s out of uint256 range", v))
	default:
		p.buf = append(p.buf, common.LeftPadBytes(v.Bytes(), 32)...)
	}
	return p
}

func (p *Packed) String(s string) *Packed {
	p.buf = append(p.buf, s...)
	return p
}

func (p *Packed) Bool(b bool) *Packed {
	if b {
		p.buf = append(p.buf, 1)
	} else {
		p.buf = append(p.buf, 0)
	}
	return p
}

func (p *Packed) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// Bytes returns the encoding so far.
func (p *Packed) Bytes() []byte { return p.buf }

// Sum returns keccak256 of the encoding.
func (p *Packed) Sum() (common.Hash, error) {
	if p.err != nil {
		return common.Hash{}, p.err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(p.buf)
	return common.BytesToHash(h.Sum(nil)), nil
}
