package settlement

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperfill/pkg/app/core/orderbook"
)

func TestOrderKey(t *testing.T) {
	k, err := OrderKey("0x1234")
	require.NoError(t, err)
	want := [32]byte{}
	want[30], want[31] = 0x12, 0x34
	assert.Equal(t, want, k)

	k, err = OrderKey("HBAR_USDC-7")
	require.NoError(t, err)
	assert.Equal(t, [32]byte(crypto.Keccak256Hash([]byte("HBAR_USDC-7"))), k)

	_, err = OrderKey("0x" + string(bytes.Repeat([]byte("a"), 65)))
	assert.True(t, errors.Is(err, ErrConfiguration))
	_, err = OrderKey("0xzz")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestOrderKeyUniqueAcrossEpochs(t *testing.T) {
	tr := orderbook.Trade{Symbol: "HBAR_USDC", Seq: 1}
	a, b := tr, tr
	a.Epoch, b.Epoch = orderbook.NewEpoch(), orderbook.NewEpoch()

	ka, err := OrderKey(a.Ref())
	require.NoError(t, err)
	kb, err := OrderKey(b.Ref())
	require.NoError(t, err)
	assert.NotEqual(t, ka, kb)
}

func TestToFixed(t *testing.T) {
	v, err := ToFixed(decimal.RequireFromString("1.5"), 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	v, err = ToFixed(decimal.RequireFromString("42"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	_, err = ToFixed(decimal.RequireFromString("0.001"), 2)
	assert.True(t, errors.Is(err, ErrConfiguration))
	_, err = ToFixed(decimal.RequireFromString("-1"), 18)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestPartyMessageLayout(t *testing.T) {
	m := PartyMessage{
		OrderID:            crypto.Keccak256Hash([]byte("x")),
		BaseAsset:          common.HexToAddress("0x0101010101010101010101010101010101010101"),
		QuoteAsset:         common.HexToAddress("0x0202020202020202020202020202020202020202"),
		Price:              big.NewInt(5),
		Quantity:           big.NewInt(6),
		Side:               "bid",
		ReceiveWallet:      common.HexToAddress("0x0303030303030303030303030303030303030303"),
		SourceChainID:      big.NewInt(296),
		DestinationChainID: big.NewInt(80002),
		Timestamp:          big.NewInt(1_700_000_000_000),
		Nonce:              big.NewInt(3),
	}
	var buf []byte
	buf = append(buf, m.OrderID[:]...)
	buf = append(buf, m.BaseAsset.Bytes()...)
	buf = append(buf, m.QuoteAsset.Bytes()...)
	for _, n := range []*big.Int{m.Price, m.Quantity} {
		buf = append(buf, math.U256Bytes(new(big.Int).Set(n))...)
	}
	buf = append(buf, "bid"...)
	buf = append(buf, m.ReceiveWallet.Bytes()...)
	for _, n := range []*big.Int{m.SourceChainID, m.DestinationChainID, m.Timestamp, m.Nonce} {
		buf = append(buf, math.U256Bytes(new(big.Int).Set(n))...)
	}

	got, err := m.Digest()
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(buf), got)
}

func TestEngineMessageChangesWithLeg(t *testing.T) {
	m := EngineMessage{
		OrderID:  crypto.Keccak256Hash([]byte("x")),
		Price:    big.NewInt(1),
		Quantity: big.NewInt(1),
		ChainID:  big.NewInt(296),
	}
	a, err := m.Digest()
	require.NoError(t, err)
	m.IsSourceChain = true
	b, err := m.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
