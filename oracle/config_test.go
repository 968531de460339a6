package oracle

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestLegFromAddressFoldsZeroAddress(t *testing.T) {
	if leg := LegFromAddress(common.Address{}); !leg.IsAbsent() {
		t.Fatalf("expected zero address to be absent")
	}
	addr := common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")
	leg := FeedAt(addr)
	got, ok := leg.Address()
	if !ok || got != addr {
		t.Fatalf("unexpected leg address: %v %v", got, ok)
	}
	if leg.Raw() != addr {
		t.Fatalf("unexpected raw address %s", leg.Raw().Hex())
	}
}

func TestLegFromHex(t *testing.T) {
	leg, err := LegFromHex("")
	if err != nil || !leg.IsAbsent() {
		t.Fatalf("expected empty input to be absent, got %v %v", leg, err)
	}
	leg, err = LegFromHex("0x0000000000000000000000000000000000000000")
	if err != nil || !leg.IsAbsent() {
		t.Fatalf("expected zero address to be absent, got %v %v", leg, err)
	}
	if _, err := LegFromHex("not-an-address"); err == nil {
		t.Fatalf("expected invalid address error")
	}
}

func TestConfigurationHardcoded(t *testing.T) {
	cfg := Configuration{}
	if !cfg.IsHardcoded() {
		t.Fatalf("expected empty configuration to be hardcoded")
	}
	cfg.QuoteFeed2 = FeedAt(common.HexToAddress("0x01"))
	if cfg.IsHardcoded() {
		t.Fatalf("expected configuration with a quote feed not to be hardcoded")
	}
	legs := cfg.ConfiguredLegs()
	if len(legs) != 1 || legs[0].Position != PositionQuote2 {
		t.Fatalf("unexpected configured legs: %+v", legs)
	}
}

func TestConfigurationValidate(t *testing.T) {
	cfg := Configuration{BaseVaultConversionSample: uint256.NewInt(1e18)}
	errs := cfg.Validate()
	if len(errs) != 1 || !errors.Is(errs[0], ErrInvalidConfiguration) {
		t.Fatalf("expected one configuration error, got %v", errs)
	}
	cfg.BaseVault = FeedAt(common.HexToAddress("0x02"))
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("expected vault with sample to validate, got %v", errs)
	}
	cfg.QuoteVault = FeedAt(common.HexToAddress("0x03"))
	cfg.QuoteVaultConversionSample = uint256.NewInt(0)
	if errs := cfg.Validate(); len(errs) != 1 {
		t.Fatalf("expected zero quote sample to be rejected, got %v", errs)
	}
}

func TestConfigurationValidateExponentUnderflow(t *testing.T) {
	cfg := Configuration{BaseTokenDecimals: 40}
	errs := cfg.Validate()
	if len(errs) != 1 || !errors.Is(errs[0], ErrInvalidConfiguration) {
		t.Fatalf("expected exponent underflow, got %v", errs)
	}
	cfg.QuoteFeed1 = FeedAt(common.HexToAddress("0x04"))
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("quote feed decimals may lift the exponent, got %v", errs)
	}
	if errs := (Configuration{BaseTokenDecimals: 36}).Validate(); len(errs) != 0 {
		t.Fatalf("exponent zero is valid, got %v", errs)
	}
}

func TestSameDeploymentIgnoresSalt(t *testing.T) {
	feed := FeedAt(common.HexToAddress("0x04"))
	a := Configuration{BaseFeed1: feed, BaseTokenDecimals: 18, QuoteTokenDecimals: 6, Salt: common.HexToHash("0x01")}
	b := a
	b.Salt = common.HexToHash("0x02")
	b.BaseVaultConversionSample = uint256.NewInt(1)
	if !a.SameDeployment(b) {
		t.Fatalf("expected salt and defaulted samples to be ignored")
	}
	b.QuoteTokenDecimals = 18
	if a.SameDeployment(b) {
		t.Fatalf("expected decimals difference to be detected")
	}
}

func TestSymbolsMatch(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"WETH", "eth", true},
		{"ETH", "WETH", true},
		{"usdc", "USDC", true},
		{"wstETH", "stETH", false},
		{Unknown, Unknown, false},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := SymbolsMatch(tc.a, tc.b); got != tc.want {
			t.Fatalf("SymbolsMatch(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
