package route

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"oraclecheck/oracle"
	"oraclecheck/whitelist"
)

var (
	addrEthUSD   = common.HexToAddress("0x01")
	addrUSDCUSD  = common.HexToAddress("0x02")
	addrWstStEth = common.HexToAddress("0x03")
	addrStEthEth = common.HexToAddress("0x04")
	addrVault    = common.HexToAddress("0x05")
	addrUSDC     = common.HexToAddress("0x06")
	addrMissing  = common.HexToAddress("0x07")
)

const chainID = 1

func registry(feeds ...whitelist.FeedDescriptor) *whitelist.Registry {
	return whitelist.New(feeds...)
}

func feed(addr common.Address, base, quote string) whitelist.FeedDescriptor {
	return whitelist.FeedDescriptor{
		Address:     addr,
		ChainID:     chainID,
		Vendor:      "Chainlink",
		Source:      whitelist.SourceChainlink,
		Description: base + " / " + quote,
		Pair:        oracle.Pair{Base: whitelist.NormalizeSymbol(base), Quote: whitelist.NormalizeSymbol(quote)},
	}
}

func standardRegistry() *whitelist.Registry {
	return registry(
		feed(addrEthUSD, "ETH", "USD"),
		feed(addrUSDCUSD, "USDC", "USD"),
		feed(addrWstStEth, "wstETH", "stETH"),
		feed(addrStEthEth, "stETH", "ETH"),
	)
}

func sym(s string) oracle.Asset { return oracle.Asset{Symbol: s} }

func TestResolveWETHUSDC(t *testing.T) {
	cfg := oracle.Configuration{
		BaseFeed1:  oracle.FeedAt(addrEthUSD),
		QuoteFeed1: oracle.FeedAt(addrUSDCUSD),
	}
	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry()})
	res := Resolve(c, sym("WETH"), sym("USDC"))
	require.True(t, res.Valid)
	require.Empty(t, res.Errors)
	require.Len(t, res.Feeds, 2)
	require.Equal(t, oracle.PositionBase1, res.Feeds[0].Position)
	require.Equal(t, oracle.PositionQuote1, res.Feeds[1].Position)
	require.Equal(t, [2]string{"WETH", "USD"}, res.Feeds[0].Pair)
	require.Equal(t, oracle.Verified, res.Verdict())
}

func TestResolveWrongLoanAsset(t *testing.T) {
	cfg := oracle.Configuration{
		BaseFeed1:  oracle.FeedAt(addrEthUSD),
		QuoteFeed1: oracle.FeedAt(addrUSDCUSD),
	}
	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry()})
	res := Resolve(c, sym("WETH"), sym("USDT"))
	require.False(t, res.Valid)
	require.Equal(t, []oracle.ErrorKind{oracle.ErrInvalidLoanFeed}, res.Errors)
}

func TestResolveBothSidesWrong(t *testing.T) {
	cfg := oracle.Configuration{
		BaseFeed1:  oracle.FeedAt(addrEthUSD),
		QuoteFeed1: oracle.FeedAt(addrUSDCUSD),
	}
	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry()})
	res := Resolve(c, sym("WBTC"), sym("DAI"))
	require.Equal(t, []oracle.ErrorKind{oracle.ErrInvalidCollateralFeed, oracle.ErrInvalidLoanFeed}, res.Errors)
}

func TestResolveTwoBaseFeedsEitherOrder(t *testing.T) {
	// wstETH -> stETH -> ETH -> USD <- USDC. Slot order is reversed on purpose.
	cfg := oracle.Configuration{
		BaseFeed1:  oracle.FeedAt(addrStEthEth),
		BaseFeed2:  oracle.FeedAt(addrWstStEth),
		QuoteFeed1: oracle.FeedAt(addrEthUSD),
	}
	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry()})
	require.False(t, Connected(c.Routes[0]))
	require.True(t, Connected(c.Routes[2]))
	res := Resolve(c, sym("wstETH"), sym("USD"))
	require.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestResolveNoValidPath(t *testing.T) {
	cfg := oracle.Configuration{
		BaseFeed1:  oracle.FeedAt(addrWstStEth),
		QuoteFeed1: oracle.FeedAt(addrUSDCUSD),
	}
	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry()})
	res := Resolve(c, sym("wstETH"), sym("USDC"))
	require.False(t, res.Valid)
	require.Equal(t, []oracle.ErrorKind{oracle.ErrNoValidPath}, res.Errors)
	require.Len(t, res.Feeds, 2, "metadata is returned even when invalid")
}

func TestUnknownLegNeverMatches(t *testing.T) {
	cfg := oracle.Configuration{
		BaseFeed1:  oracle.FeedAt(addrEthUSD),
		BaseFeed2:  oracle.FeedAt(addrMissing),
		QuoteFeed1: oracle.FeedAt(addrUSDCUSD),
	}
	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry()})
	res := Resolve(c, sym("WETH"), sym("USDC"))
	require.False(t, res.Valid)
	require.Equal(t, []oracle.ErrorKind{oracle.ErrNoValidPath}, res.Errors)
	require.Equal(t, FeedMetadata{
		Position:    oracle.PositionBase2,
		Address:     addrMissing,
		Vendor:      oracle.Unknown,
		Description: oracle.Unknown,
		Pair:        [2]string{oracle.Unknown, oracle.Unknown},
	}, res.Feeds[1])
}

func TestSingleUnknownLegIsResolvableButUnmatched(t *testing.T) {
	cfg := oracle.Configuration{BaseFeed1: oracle.FeedAt(addrMissing)}
	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry()})
	res := Resolve(c, sym(oracle.Unknown), sym(oracle.Unknown))
	require.False(t, res.Valid)
	require.Equal(t, []oracle.ErrorKind{oracle.ErrInvalidCollateralFeed, oracle.ErrInvalidLoanFeed}, res.Errors)
}

func TestHardcodedConfiguration(t *testing.T) {
	c := Build(Input{Config: oracle.Configuration{}, ChainID: chainID, Feeds: standardRegistry()})
	for _, r := range c.Routes {
		require.True(t, r.Hardcoded)
		require.Empty(t, r.Edges)
	}
	res := Resolve(c, sym("WETH"), sym("USDC"))
	require.True(t, res.Hardcoded)
	require.False(t, res.Valid)
	require.Equal(t, []oracle.ErrorKind{oracle.ErrHardcodedOracle}, res.Errors)
	require.Equal(t, oracle.Inconclusive, res.Verdict(), "hardcoded is a warning")
	require.NotNil(t, res.Feeds)
	require.Empty(t, res.Feeds)
}

func TestVaultSlotFallsBackToWhitelist(t *testing.T) {
	listed := whitelist.FeedDescriptor{
		Address: addrVault,
		ChainID: chainID,
		Vendor:  "Curated",
		Source:  whitelist.SourceCurated,
		Pair:    oracle.Pair{Base: "wstETH", Quote: "stETH"},
	}
	cfg := oracle.Configuration{
		BaseVault:  oracle.FeedAt(addrVault),
		BaseFeed1:  oracle.FeedAt(addrStEthEth),
		BaseFeed2:  oracle.FeedAt(addrEthUSD),
		QuoteFeed1: oracle.FeedAt(addrUSDCUSD),
	}
	feeds := registry(listed,
		feed(addrStEthEth, "stETH", "ETH"),
		feed(addrEthUSD, "ETH", "USD"),
		feed(addrUSDCUSD, "USDC", "USD"))

	res := Resolve(Build(Input{Config: cfg, ChainID: chainID, Feeds: feeds, Vaults: Feeds{}}), sym("wstETH"), sym("USDC"))
	require.True(t, res.Valid, "errors: %v", res.Errors)
	require.Equal(t, "Curated", res.Feeds[0].Vendor)

	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: feeds})
	require.Equal(t, SourceVault, c.Routes[0].Edges[0].Source)
	require.Equal(t, "wstETH", c.Routes[0].Edges[0].From.Symbol)
	require.Equal(t, "stETH", c.Routes[0].Edges[0].To.Symbol)
}

func TestVaultEdges(t *testing.T) {
	// MetaMorpho USDC vault as collateral priced in USDC: share -> USDC.
	vault := whitelist.FeedDescriptor{
		Address:      addrVault,
		ChainID:      chainID,
		Vendor:       "Morpho",
		Source:       whitelist.SourceVault,
		Description:  "mUSDC / USDC MetaMorpho vault exchange rate",
		Pair:         oracle.Pair{Base: "mUSDC", Quote: "USDC"},
		BaseAddress:  addrVault,
		QuoteAddress: addrUSDC,
	}
	cfg := oracle.Configuration{
		BaseVault:  oracle.FeedAt(addrVault),
		BaseFeed1:  feedLeg(addrUSDCUSD),
		QuoteFeed1: feedLeg(addrUSDCUSD),
	}
	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry(), Vaults: Feeds{vault}})
	first := c.Routes[0].Edges[0]
	require.Equal(t, SourceVault, first.Source)
	require.Equal(t, "mUSDC", first.From.Symbol)
	require.Equal(t, addrUSDC, first.To.Address)

	res := Resolve(c, sym("mUSDC"), sym("USDC"))
	require.True(t, res.Valid, "errors: %v", res.Errors)
	require.Equal(t, "Morpho", res.Feeds[0].Vendor)

	// The underlying also matches the collateral side of the first edge.
	res = Resolve(c, oracle.Asset{Symbol: "usdc"}, sym("USDC"))
	require.True(t, res.Valid)
}

func TestQuoteVaultIsTraversedIntoShares(t *testing.T) {
	vault := whitelist.FeedDescriptor{
		Address: addrVault,
		ChainID: chainID,
		Source:  whitelist.SourceVault,
		Pair:    oracle.Pair{Base: "mWETH", Quote: "WETH"},
	}
	cfg := oracle.Configuration{
		BaseFeed1:  oracle.FeedAt(addrUSDCUSD),
		QuoteFeed1: oracle.FeedAt(addrEthUSD),
		QuoteVault: oracle.FeedAt(addrVault),
	}
	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry(), Vaults: Feeds{vault}})
	edges := c.Routes[0].Edges
	require.Len(t, edges, 3)
	require.Equal(t, "WETH", edges[2].From.Symbol)
	require.Equal(t, "mWETH", edges[2].To.Symbol)
	res := Resolve(c, sym("USDC"), sym("mWETH"))
	require.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestVaultSlotIgnoresWhitelist(t *testing.T) {
	cfg := oracle.Configuration{BaseVault: oracle.FeedAt(addrEthUSD)}
	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry()})
	require.Equal(t, SourceUnknown, c.Routes[0].Edges[0].Source)
}

func TestOtherChainFeedsAreIgnored(t *testing.T) {
	cfg := oracle.Configuration{
		BaseFeed1:  oracle.FeedAt(addrEthUSD),
		QuoteFeed1: oracle.FeedAt(addrUSDCUSD),
	}
	c := Build(Input{Config: cfg, ChainID: 8453, Feeds: standardRegistry()})
	res := Resolve(c, sym("WETH"), sym("USDC"))
	require.Equal(t, []oracle.ErrorKind{oracle.ErrNoValidPath}, res.Errors)
}

func TestAddressMatchWinsOverSymbol(t *testing.T) {
	vault := whitelist.FeedDescriptor{
		Address:      addrVault,
		ChainID:      chainID,
		Source:       whitelist.SourceVault,
		Pair:         oracle.Pair{Base: "mUSDC", Quote: "USDC.e"},
		BaseAddress:  addrVault,
		QuoteAddress: addrUSDC,
	}
	cfg := oracle.Configuration{BaseVault: oracle.FeedAt(addrVault)}
	c := Build(Input{Config: cfg, ChainID: chainID, Vaults: Feeds{vault}})
	res := Resolve(c, sym("mUSDC"), oracle.Asset{Symbol: "USDC", Address: addrUSDC})
	require.True(t, res.Valid, "errors: %v", res.Errors)
}

func feedLeg(addr common.Address) oracle.Leg { return oracle.FeedAt(addr) }

func TestETHAndWETHAreInterchangeable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		collateral := rapid.SampledFrom([]string{"ETH", "WETH", "eth", "weth", "Weth"}).Draw(t, "collateral")
		pairBase := rapid.SampledFrom([]string{"ETH", "WETH"}).Draw(t, "pairBase")
		reg := registry(
			feed(addrEthUSD, pairBase, "USD"),
			feed(addrUSDCUSD, "USDC", "USD"),
		)
		cfg := oracle.Configuration{
			BaseFeed1:  oracle.FeedAt(addrEthUSD),
			QuoteFeed1: oracle.FeedAt(addrUSDCUSD),
		}
		res := Resolve(Build(Input{Config: cfg, ChainID: chainID, Feeds: reg}), sym(collateral), sym("usdc"))
		if !res.Valid {
			t.Fatalf("collateral %q against pair base %q rejected: %v", collateral, pairBase, res.Errors)
		}
	})
}

func TestResolveIsDeterministic(t *testing.T) {
	symbols := []string{"ETH", "WETH", "USD", "USDC", "wstETH", "stETH", "DAI"}
	addrs := []common.Address{addrEthUSD, addrUSDCUSD, addrWstStEth, addrStEthEth, addrMissing}
	rapid.Check(t, func(t *rapid.T) {
		pick := func(label string) oracle.Leg {
			if rapid.Bool().Draw(t, label+"_absent") {
				return oracle.Absent()
			}
			return oracle.FeedAt(rapid.SampledFrom(addrs).Draw(t, label))
		}
		cfg := oracle.Configuration{
			BaseFeed1:  pick("b1"),
			BaseFeed2:  pick("b2"),
			QuoteFeed1: pick("q1"),
			QuoteFeed2: pick("q2"),
		}
		collateral := sym(rapid.SampledFrom(symbols).Draw(t, "collateral"))
		loan := sym(rapid.SampledFrom(symbols).Draw(t, "loan"))
		in := Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry()}
		first := Resolve(Build(in), collateral, loan)
		second := Resolve(Build(in), collateral, loan)
		if first.Valid != second.Valid || len(first.Errors) != len(second.Errors) || len(first.Feeds) != len(second.Feeds) {
			t.Fatalf("non-deterministic result: %+v vs %+v", first, second)
		}
		if first.Valid && len(first.Errors) != 0 {
			t.Fatalf("valid result carries errors: %v", first.Errors)
		}
		if !first.Valid && len(first.Errors) == 0 {
			t.Fatalf("invalid result without a reason")
		}
		if len(first.Feeds) != len(cfg.ConfiguredLegs()) {
			t.Fatalf("metadata has %d entries for %d legs", len(first.Feeds), len(cfg.ConfiguredLegs()))
		}
		for i, leg := range cfg.ConfiguredLegs() {
			if first.Feeds[i].Position != leg.Position {
				t.Fatalf("metadata out of order at %d: %s", i, first.Feeds[i].Position)
			}
		}
	})
}

func TestEdgeDirections(t *testing.T) {
	cfg := oracle.Configuration{
		BaseFeed1:  oracle.FeedAt(addrEthUSD),
		QuoteFeed1: oracle.FeedAt(addrUSDCUSD),
	}
	c := Build(Input{Config: cfg, ChainID: chainID, Feeds: standardRegistry()})
	var parts []string
	for _, e := range c.Routes[0].Edges {
		parts = append(parts, e.From.Symbol+">"+e.To.Symbol)
	}
	require.Equal(t, "WETH>USD,USD>USDC", strings.Join(parts, ","))
}
