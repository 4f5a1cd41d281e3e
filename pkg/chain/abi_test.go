package chain

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSettlementMethodSignatures(t *testing.T) {
	tests := []struct{ name, sig string }{
		{"settleCrossChainTrade", "settleCrossChainTrade((bytes32,address,address,address,address,address,address,uint256,uint256,string,string,uint256,uint256,uint256,uint256,uint256),bytes,bytes,bytes,bool)"},
		{"getUserNonce", "getUserNonce(address,address)"},
		{"checkEscrowBalance", "checkEscrowBalance(address,address)"},
		{"settledCrossChainOrders", "settledCrossChainOrders(bytes32)"},
		{"verifyCrossChainTradeSignature", "verifyCrossChainTradeSignature(address,bytes32,address,address,uint256,uint256,string,address,uint256,uint256,uint256,uint256,bytes)"},
	}
	for _, tt := range tests {
		m, ok := SettlementABI.Methods[tt.name]
		require.True(t, ok, tt.name)
		require.Equal(t, tt.sig, m.Sig)
		require.Equal(t, crypto.Keccak256([]byte(tt.sig))[:4], m.ID)
	}
}

func TestSettlementCalldataRoundTrip(t *testing.T) {
	s := Settlement{
		Trade: TradeData{
			OrderId:             crypto.Keccak256Hash([]byte("HBAR_USDC-1")),
			Party1:              common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Party2:              common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Party1ReceiveWallet: common.HexToAddress("0x3333333333333333333333333333333333333333"),
			Party2ReceiveWallet: common.HexToAddress("0x4444444444444444444444444444444444444444"),
			BaseAsset:           common.HexToAddress("0x5555555555555555555555555555555555555555"),
			QuoteAsset:          common.HexToAddress("0x6666666666666666666666666666666666666666"),
			Price:               big.NewInt(50),
			Quantity:            big.NewInt(2),
			Party1Side:          "bid",
			Party2Side:          "ask",
			SourceChainId:       big.NewInt(296),
			DestinationChainId:  big.NewInt(137),
			Timestamp:           big.NewInt(1_700_000_000_000),
			Nonce1:              big.NewInt(0),
			Nonce2:              big.NewInt(4),
		},
		Signature1:      bytes.Repeat([]byte{1}, 65),
		Signature2:      bytes.Repeat([]byte{2}, 65),
		EngineSignature: bytes.Repeat([]byte{3}, 65),
		IsSourceChain:   true,
	}

	data, err := s.Calldata()
	require.NoError(t, err)

	m := SettlementABI.Methods["settleCrossChainTrade"]
	require.Equal(t, m.ID, data[:4])

	args, err := m.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 5)
	require.Equal(t, s.Signature1, args[1].([]byte))
	require.Equal(t, s.EngineSignature, args[3].([]byte))
	require.Equal(t, true, args[4].(bool))
}
