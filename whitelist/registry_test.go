package whitelist

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"oraclecheck/oracle"
)

func TestLoadEmbeddedTables(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)
	require.Greater(t, reg.Len(), 10)
	require.Equal(t, []uint64{ChainMainnet, ChainBase}, reg.Chains())

	// Chainlink entries are keyed by proxy address when one is published.
	ethUSD, ok := reg.Lookup(common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"), ChainMainnet)
	require.True(t, ok)
	require.Equal(t, SourceChainlink, ethUSD.Source)
	require.Equal(t, oracle.Pair{Base: "WETH", Quote: "USD"}, ethUSD.Pair)
	require.Equal(t, "ETH / USD (0.5%)", ethUSD.Description)

	_, ok = reg.Lookup(common.HexToAddress("0xE62B71cf983019BFf55bC83B48601ce8419650CC"), ChainMainnet)
	require.False(t, ok, "aggregator address must not be registered when a proxy exists")

	// Same address on another chain is a different key.
	_, ok = reg.Lookup(common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"), ChainBase)
	require.False(t, ok)
}

func TestChainlinkPairCascade(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)

	btc, ok := reg.Lookup(common.HexToAddress("0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c"), ChainMainnet)
	require.True(t, ok)
	require.Equal(t, oracle.Pair{Base: "BTC", Quote: "USD"}, btc.Pair)

	wbtc, ok := reg.Lookup(common.HexToAddress("0xfdFD9C85aD200c506Cf9e21F1FD8dd01932FBB23"), ChainMainnet)
	require.True(t, ok)
	require.Equal(t, oracle.Pair{Base: "WBTC", Quote: "BTC"}, wbtc.Pair)

	reserves, ok := reg.Lookup(common.HexToAddress("0x1111111111111111111111111111111111111111"), ChainMainnet)
	require.True(t, ok)
	require.True(t, reserves.Pair.IsUnknown())
}

func TestRedstoneDescription(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)
	feed, ok := reg.Lookup(common.HexToAddress("0x8751F736E94F6Cd167e8C5B97E245680FbD9CC36"), ChainMainnet)
	require.True(t, ok)
	require.Equal(t, "weETH / ETH (0.5%)", feed.Description)
	require.Equal(t, oracle.Pair{Base: "weETH", Quote: "WETH"}, feed.Pair)
	require.Equal(t, "Redstone", feed.Vendor)
}

func TestCuratedOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "curated.toml")
	contents := `
[[feeds]]
chain_id = 1
address = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
vendor = "Custom"
description = "override"
pair = ["ETH", "USDC"]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	reg, err := Load(WithCuratedFile(path))
	require.NoError(t, err)
	feed, ok := reg.Lookup(common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"), ChainMainnet)
	require.True(t, ok)
	require.Equal(t, SourceCurated, feed.Source)
	require.Equal(t, oracle.Pair{Base: "WETH", Quote: "USDC"}, feed.Pair)

	// The embedded curated list is replaced, not merged.
	_, ok = reg.Lookup(common.HexToAddress("0x905b7dAbCD3Ce6B792D874e303D336424Cdb1421"), ChainMainnet)
	require.False(t, ok)
}

func TestCuratedRequiresChainID(t *testing.T) {
	_, err := loadCurated([]byte("[[feeds]]\naddress = \"0x01\"\n"), "inline")
	require.Error(t, err)
}

func TestCuratedDropsZeroAddress(t *testing.T) {
	reg, err := Load()
	require.NoError(t, err)
	_, ok := reg.Lookup(common.Address{}, ChainMainnet)
	require.False(t, ok)
}

func TestNormalizeSymbol(t *testing.T) {
	require.Equal(t, "WETH", NormalizeSymbol(" eth "))
	require.Equal(t, "WETH", NormalizeSymbol("ＥＴＨ"))
	require.Equal(t, "wstETH", NormalizeSymbol("wstETH"))
}

func TestWithFeedsTakesPrecedence(t *testing.T) {
	addr := common.HexToAddress("0x8751F736E94F6Cd167e8C5B97E245680FbD9CC36")
	reg, err := Load(WithFeeds(FeedDescriptor{
		Address: addr,
		ChainID: ChainMainnet,
		Source:  SourceVault,
		Pair:    oracle.Pair{Base: "A", Quote: "B"},
	}))
	require.NoError(t, err)
	feed, ok := reg.Lookup(addr, ChainMainnet)
	require.True(t, ok)
	require.Equal(t, SourceVault, feed.Source)
}

func TestAllIsOrderedCopy(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	feeds := reg.All(ChainBase)
	require.NotEmpty(t, feeds)
	for i := 1; i < len(feeds); i++ {
		require.Negative(t, bytes.Compare(feeds[i-1].Address[:], feeds[i].Address[:]))
	}
	feeds[0].Vendor = "mutated"
	require.NotEqual(t, "mutated", reg.All(ChainBase)[0].Vendor)
}
