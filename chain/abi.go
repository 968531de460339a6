package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const aggregatorABIJSON = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],"outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}
	]}
]`

const erc4626ABIJSON = `[
	{"type":"function","name":"asset","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"convertToAssets","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const metaMorphoFactoryABIJSON = `[
	{"type":"function","name":"isMetaMorpho","stateMutability":"view","inputs":[{"name":"target","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

const oracleFactoryABIJSON = `[
	{"type":"function","name":"createMorphoChainlinkOracleV2","stateMutability":"nonpayable","inputs":[
		{"name":"baseVault","type":"address"},
		{"name":"baseVaultConversionSample","type":"uint256"},
		{"name":"baseFeed1","type":"address"},
		{"name":"baseFeed2","type":"address"},
		{"name":"baseTokenDecimals","type":"uint256"},
		{"name":"quoteVault","type":"address"},
		{"name":"quoteVaultConversionSample","type":"uint256"},
		{"name":"quoteFeed1","type":"address"},
		{"name":"quoteFeed2","type":"address"},
		{"name":"quoteTokenDecimals","type":"uint256"},
		{"name":"salt","type":"bytes32"}
	],"outputs":[{"name":"oracle","type":"address"}]},
	{"type":"event","name":"CreateMorphoChainlinkOracleV2","anonymous":false,"inputs":[
		{"name":"caller","type":"address","indexed":false},
		{"name":"oracle","type":"address","indexed":false}
	]}
]`

const oracleABIJSON = `[
	{"type":"function","name":"BASE_VAULT","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"BASE_VAULT_CONVERSION_SAMPLE","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"BASE_FEED_1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"BASE_FEED_2","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"QUOTE_VAULT","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"QUOTE_VAULT_CONVERSION_SAMPLE","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"QUOTE_FEED_1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"QUOTE_FEED_2","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"SCALE_FACTOR","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"price","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

// Parsed contract interfaces used by the adapters.
var (
	AggregatorABI        = mustParseABI(aggregatorABIJSON)
	ERC4626ABI           = mustParseABI(erc4626ABIJSON)
	MetaMorphoFactoryABI = mustParseABI(metaMorphoFactoryABIJSON)
	OracleFactoryABI     = mustParseABI(oracleFactoryABIJSON)
	OracleABI            = mustParseABI(oracleABIJSON)
)

// Names of the oracle factory entry points.
const (
	CreateOracleMethod = "createMorphoChainlinkOracleV2"
	CreateOracleEvent  = "CreateMorphoChainlinkOracleV2"
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
