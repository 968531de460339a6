package checks

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"oraclecheck/directory"
	"oraclecheck/oracle"
)

var listing = []directory.Asset{
	{Address: common.HexToAddress("0x01"), Symbol: "WETH", Decimals: 18},
	{Address: common.HexToAddress("0x02"), Symbol: "USDC", Decimals: 6},
}

func TestDecimalsMatch(t *testing.T) {
	cfg := oracle.Configuration{BaseTokenDecimals: 18, QuoteTokenDecimals: 6}
	res := Decimals(cfg, listing, oracle.Asset{Symbol: "WETH"}, oracle.Asset{Symbol: "USDC"})
	if !res.Verified || res.Verdict != oracle.Verified {
		t.Fatalf("expected verified, got %+v", res)
	}
	if *res.BaseDecimalsExpected != 18 || *res.QuoteDecimalsExpected != 6 {
		t.Fatalf("unexpected expected decimals: %+v", res)
	}
}

func TestDecimalsMismatch(t *testing.T) {
	cfg := oracle.Configuration{BaseTokenDecimals: 18, QuoteTokenDecimals: 18}
	res := Decimals(cfg, listing, oracle.Asset{Symbol: "WETH"}, oracle.Asset{Address: common.HexToAddress("0x02")})
	if res.Verified || res.Verdict != oracle.NotVerified {
		t.Fatalf("expected not verified, got %+v", res)
	}
}

func TestDecimalsUnlistedAsset(t *testing.T) {
	cfg := oracle.Configuration{BaseTokenDecimals: 18, QuoteTokenDecimals: 6}
	res := Decimals(cfg, listing, oracle.Asset{Symbol: "weth"}, oracle.Asset{Symbol: "USDC"})
	if res.Verdict != oracle.Inconclusive {
		t.Fatalf("expected inconclusive, got %s", res.Verdict)
	}
	if len(res.Errors) != 1 || res.Errors[0] != oracle.ErrAssetNotFound {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if res.BaseDecimalsExpected != nil {
		t.Fatalf("symbol lookup is exact")
	}
}

func TestWarningsDeduplicatesCritical(t *testing.T) {
	market := func(coll, loan string, ws ...directory.Warning) directory.Market {
		return directory.Market{
			CollateralAsset: directory.MarketAsset{Symbol: coll},
			LoanAsset:       directory.MarketAsset{Symbol: loan},
			Warnings:        ws,
		}
	}
	red := directory.Warning{Level: "RED", Type: "hardcoded_oracle"}
	yellow := directory.Warning{Level: "YELLOW", Type: "hardcoded_oracle"}
	noise := directory.Warning{Level: "YELLOW", Type: "low_liquidity"}
	markets := []directory.Market{
		market("WETH", "USDC", red, noise),
		market("WETH", "USDC", red, yellow),
		market("wstETH", "USDC", directory.Warning{Level: "RED", Type: "unrecognized_oracle"}),
	}

	res := Warnings(markets, "WETH", "USDC")
	if res.Verified || res.Markets != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Warnings) != 2 || res.Warnings[0] != red || res.Warnings[1] != yellow {
		t.Fatalf("unexpected warnings %+v", res.Warnings)
	}

	clean := Warnings(markets, "WBTC", "USDC")
	if !clean.Verified || clean.Verdict != oracle.Verified || clean.Warnings == nil {
		t.Fatalf("expected clean verified result, got %+v", clean)
	}
}
