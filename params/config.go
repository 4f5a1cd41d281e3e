package params

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/hyperfill/pkg/chain"
	"github.com/uhyunpark/hyperfill/pkg/crypto"
	"github.com/uhyunpark/hyperfill/pkg/settlement"
)

// DefaultContract is the settlement contract used by every network that
// does not name its own.
const DefaultContract = "0x237458E2cF7593084Ae397a50166A275A3928bA7"

// Network is one entry of the network table, as read from NETWORKS_FILE.
type Network struct {
	RPCURL   string `yaml:"rpc_url"`
	ChainID  int64  `yaml:"chain_id"`
	Contract string `yaml:"contract"`
}

type Node struct {
	APIAddr     string
	CORSOrigins []string
	DataDir     string
	LogFile     string
	LogLevel    string
}

type Settlement struct {
	// EnginePrivateKey signs settlements and pays gas. Empty disables
	// settlement.
	EnginePrivateKey        string
	RequireClientSignatures bool
	AutoSettle              bool
	FailFast                bool
	ReceiptTimeout          time.Duration
	FallbackGas             uint64
	GasPriceGwei            int64 // 0 means ask the node
	PriceScale              int32
	QuantityScale           int32

	Networks map[string]Network
	Tokens   map[string]string // symbol -> token address
	DemoKeys map[string]string // key ref -> hex private key
}

type Config struct {
	Node       Node
	Settlement Settlement
}

func builtinNetworks() map[string]Network {
	return map[string]Network{
		"hedera":   {RPCURL: "https://testnet.hashio.io/api", ChainID: 296},
		"ethereum": {RPCURL: "https://ethereum-rpc.publicnode.com", ChainID: 1},
		"polygon":  {RPCURL: "https://polygon-rpc.com", ChainID: 137},
		"bsc":      {RPCURL: "https://bsc-dataseed.binance.org", ChainID: 56},
		"celo":     {RPCURL: "https://forno.celo.org", ChainID: 42220},
		"base":     {RPCURL: "https://mainnet.base.org", ChainID: 8453},
	}
}

func Default() Config {
	def := settlement.DefaultConfig()
	return Config{
		Node: Node{
			APIAddr:     ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			DataDir:     "data",
			LogFile:     "data/node.log",
			LogLevel:    "info",
		},
		Settlement: Settlement{
			RequireClientSignatures: true,
			FailFast:                def.FailFast,
			ReceiptTimeout:          def.ReceiptTimeout,
			FallbackGas:             def.FallbackGasLimit,
			PriceScale:              def.PriceScale,
			QuantityScale:           def.QuantityScale,
			Networks:                builtinNetworks(),
			Tokens:                  map[string]string{},
			DemoKeys:                map[string]string{},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > NETWORKS_FILE > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	// Node
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Node.CORSOrigins = splitList(origins)
	}

	// Settlement
	s := &cfg.Settlement
	s.EnginePrivateKey = os.Getenv("ENGINE_PRIVATE_KEY")
	s.RequireClientSignatures = getBool("REQUIRE_CLIENT_SIGNATURES", s.RequireClientSignatures)
	s.AutoSettle = getBool("AUTO_SETTLE", s.AutoSettle)
	s.FailFast = getBool("SETTLEMENT_FAIL_FAST", s.FailFast)
	if secs := os.Getenv("SETTLEMENT_RECEIPT_TIMEOUT_S"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			s.ReceiptTimeout = time.Duration(n) * time.Second
		}
	}
	if gas := os.Getenv("SETTLEMENT_FALLBACK_GAS"); gas != "" {
		if n, err := strconv.ParseUint(gas, 10, 64); err == nil && n > 0 {
			s.FallbackGas = n
		}
	}
	if gwei := os.Getenv("SETTLEMENT_GAS_PRICE_GWEI"); gwei != "" {
		if n, err := strconv.ParseInt(gwei, 10, 64); err == nil && n >= 0 {
			s.GasPriceGwei = n
		}
	}
	s.PriceScale = getScale("PRICE_SCALE", s.PriceScale)
	s.QuantityScale = getScale("QUANTITY_SCALE", s.QuantityScale)

	if path := os.Getenv("NETWORKS_FILE"); path != "" {
		if err := mergeNetworksFile(s.Networks, path); err != nil {
			return cfg, err
		}
	}
	applyNetworkEnv(s.Networks)

	tokens, err := parsePairs(os.Getenv("TOKEN_ADDRESSES"))
	if err != nil {
		return cfg, fmt.Errorf("TOKEN_ADDRESSES: %w", err)
	}
	for sym, addr := range tokens {
		s.Tokens[strings.ToUpper(sym)] = addr
	}
	keys, err := parsePairs(os.Getenv("DEMO_KEYS"))
	if err != nil {
		return cfg, fmt.Errorf("DEMO_KEYS: %w", err)
	}
	s.DemoKeys = keys

	return cfg, nil
}

func mergeNetworksFile(into map[string]Network, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("networks file: %w", err)
	}
	var file map[string]Network
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("networks file %s: %w", path, err)
	}
	for name, n := range file {
		name = strings.ToLower(name)
		cur := into[name]
		if n.RPCURL != "" {
			cur.RPCURL = n.RPCURL
		}
		if n.ChainID != 0 {
			cur.ChainID = n.ChainID
		}
		if n.Contract != "" {
			cur.Contract = n.Contract
		}
		into[name] = cur
	}
	return nil
}

// applyNetworkEnv applies WEB3_PROVIDER_<NET>, WEB3_CHAIN_ID_<NET> and
// TRADE_SETTLE_CONTRACT_ADDRESS[_<NET>] to every known network.
func applyNetworkEnv(nets map[string]Network) {
	fallback := getEnv("TRADE_SETTLE_CONTRACT_ADDRESS", DefaultContract)
	for name, n := range nets {
		suffix := strings.ToUpper(name)
		n.RPCURL = getEnv("WEB3_PROVIDER_"+suffix, n.RPCURL)
		if id := os.Getenv("WEB3_CHAIN_ID_" + suffix); id != "" {
			if v, err := strconv.ParseInt(id, 10, 64); err == nil {
				n.ChainID = v
			}
		}
		n.Contract = getEnv("TRADE_SETTLE_CONTRACT_ADDRESS_"+suffix, n.Contract)
		if n.Contract == "" {
			n.Contract = fallback
		}
		nets[name] = n
	}
}

// SettlementConfig validates the network and token tables and converts
// them for the coordinator.
func (s Settlement) SettlementConfig() (settlement.Config, error) {
	cfg := settlement.DefaultConfig()
	cfg.PriceScale = s.PriceScale
	cfg.QuantityScale = s.QuantityScale
	cfg.FallbackGasLimit = s.FallbackGas
	cfg.ReceiptTimeout = s.ReceiptTimeout
	cfg.FailFast = s.FailFast
	cfg.Networks = make(map[string]chain.Network, len(s.Networks))
	cfg.Tokens = make(map[string]common.Address, len(s.Tokens))

	for name, n := range s.Networks {
		if n.ChainID <= 0 {
			return cfg, fmt.Errorf("network %s: chain id must be positive", name)
		}
		if !common.IsHexAddress(n.Contract) {
			return cfg, fmt.Errorf("network %s: invalid contract address %q", name, n.Contract)
		}
		cfg.Networks[name] = chain.Network{
			Name:     name,
			RPCURL:   n.RPCURL,
			ChainID:  big.NewInt(n.ChainID),
			Contract: common.HexToAddress(n.Contract),
		}
	}
	for sym, addr := range s.Tokens {
		if !common.IsHexAddress(addr) {
			return cfg, fmt.Errorf("token %s: invalid address %q", sym, addr)
		}
		cfg.Tokens[sym] = common.HexToAddress(addr)
	}
	return cfg, nil
}

// Keyring builds the demo-mode signing keyring. Raw key references are
// only honoured when client signatures are not required.
func (s Settlement) Keyring() (*crypto.Keyring, error) {
	k := crypto.NewKeyring()
	k.AllowRawKeys = !s.RequireClientSignatures
	refs := make([]string, 0, len(s.DemoKeys))
	for ref := range s.DemoKeys {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		if err := k.Add(ref, s.DemoKeys[ref]); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// GasPrice returns the fallback gas price in wei, or nil.
func (s Settlement) GasPrice() *big.Int {
	if s.GasPriceGwei <= 0 {
		return nil
	}
	return new(big.Int).Mul(big.NewInt(s.GasPriceGwei), big.NewInt(1_000_000_000))
}

// Enabled reports whether an engine key is configured.
func (s Settlement) Enabled() bool { return s.EnginePrivateKey != "" }

// parsePairs reads "a=b,c=d". Empty input yields an empty map.
func parsePairs(v string) (map[string]string, error) {
	out := map[string]string{}
	for _, item := range splitList(v) {
		k, val, ok := strings.Cut(item, "=")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if !ok || k == "" || val == "" {
			return nil, fmt.Errorf("malformed entry %q, want key=value", item)
		}
		if _, dup := out[k]; dup {
			return nil, errors.New("duplicate key " + k)
		}
		out[k] = val
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getScale(key string, def int32) int32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n <= 0 {
		return def
	}
	return int32(n)
}
