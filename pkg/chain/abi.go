package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// settlementABI covers the TradeSettlement contract calls the engine makes.
const settlementABI = `[
  {"type":"function","name":"checkEscrowBalance","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],
   "outputs":[{"name":"total","type":"uint256"},{"name":"available","type":"uint256"},{"name":"locked","type":"uint256"}]},
  {"type":"function","name":"getUserNonce","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"settledCrossChainOrders","stateMutability":"view",
   "inputs":[{"name":"orderId","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"verifyCrossChainTradeSignature","stateMutability":"pure",
   "inputs":[
     {"name":"signer","type":"address"},{"name":"orderId","type":"bytes32"},
     {"name":"baseAsset","type":"address"},{"name":"quoteAsset","type":"address"},
     {"name":"price","type":"uint256"},{"name":"quantity","type":"uint256"},
     {"name":"side","type":"string"},{"name":"receiveWallet","type":"address"},
     {"name":"sourceChainId","type":"uint256"},{"name":"destinationChainId","type":"uint256"},
     {"name":"timestamp","type":"uint256"},{"name":"nonce","type":"uint256"},
     {"name":"signature","type":"bytes"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"settleCrossChainTrade","stateMutability":"nonpayable",
   "inputs":[
     {"name":"tradeData","type":"tuple","components":[
       {"name":"orderId","type":"bytes32"},
       {"name":"party1","type":"address"},
       {"name":"party2","type":"address"},
       {"name":"party1ReceiveWallet","type":"address"},
       {"name":"party2ReceiveWallet","type":"address"},
       {"name":"baseAsset","type":"address"},
       {"name":"quoteAsset","type":"address"},
       {"name":"price","type":"uint256"},
       {"name":"quantity","type":"uint256"},
       {"name":"party1Side","type":"string"},
       {"name":"party2Side","type":"string"},
       {"name":"sourceChainId","type":"uint256"},
       {"name":"destinationChainId","type":"uint256"},
       {"name":"timestamp","type":"uint256"},
       {"name":"nonce1","type":"uint256"},
       {"name":"nonce2","type":"uint256"}]},
     {"name":"signature1","type":"bytes"},
     {"name":"signature2","type":"bytes"},
     {"name":"matchingEngineSignature","type":"bytes"},
     {"name":"isSourceChain","type":"bool"}],
   "outputs":[]},
  {"type":"event","name":"CrossChainTradeSettled","anonymous":false,
   "inputs":[
     {"name":"orderId","type":"bytes32","indexed":true},
     {"name":"sender","type":"address","indexed":true},
     {"name":"receiver","type":"address","indexed":true},
     {"name":"assetSent","type":"address","indexed":false},
     {"name":"amountSent","type":"uint256","indexed":false},
     {"name":"chainId","type":"uint256","indexed":false},
     {"name":"isSourceChain","type":"bool","indexed":false},
     {"name":"timestamp","type":"uint256","indexed":false}]}
]`

// SettlementABI is the parsed contract interface.
var SettlementABI = mustParseABI(settlementABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// TradeData mirrors the contract's tradeData tuple. Field names follow the
// tuple component names so the ABI packer can map them.
type TradeData struct {
	OrderId             [32]byte
	Party1              common.Address
	Party2              common.Address
	Party1ReceiveWallet common.Address
	Party2ReceiveWallet common.Address
	BaseAsset           common.Address
	QuoteAsset          common.Address
	Price               *big.Int
	Quantity            *big.Int
	Party1Side          string
	Party2Side          string
	SourceChainId       *big.Int
	DestinationChainId  *big.Int
	Timestamp           *big.Int
	Nonce1              *big.Int
	Nonce2              *big.Int
}

// Settlement is one settleCrossChainTrade call.
type Settlement struct {
	Trade           TradeData
	Signature1      []byte
	Signature2      []byte
	EngineSignature []byte
	IsSourceChain   bool
}

// Calldata packs the settleCrossChainTrade call.
func (s Settlement) Calldata() ([]byte, error) {
	return SettlementABI.Pack("settleCrossChainTrade", s.Trade, s.Signature1, s.Signature2, s.EngineSignature, s.IsSourceChain)
}
