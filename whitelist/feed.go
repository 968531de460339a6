package whitelist

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/text/unicode/norm"

	"oraclecheck/oracle"
)

// Source identifies the vendor list a descriptor was loaded from.
type Source string

const (
	SourceRedstone  Source = "redstone"
	SourceChainlink Source = "chainlink"
	SourceCurated   Source = "curated"
	SourceVault     Source = "vault"
)

// FeedDescriptor is an immutable whitelist entry. BaseAddress and QuoteAddress
// are only known for resolved vaults.
type FeedDescriptor struct {
	Address      common.Address `json:"address"`
	ChainID      uint64         `json:"chainId"`
	Vendor       string         `json:"vendor"`
	Source       Source         `json:"source"`
	Description  string         `json:"description"`
	Pair         oracle.Pair    `json:"pair"`
	Threshold    string         `json:"threshold,omitempty"`
	BaseAddress  common.Address `json:"-"`
	QuoteAddress common.Address `json:"-"`
}

// NormalizeSymbol canonicalises a symbol read from an external list: trimmed,
// NFKC-normalised and with ETH folded into WETH.
func NormalizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(norm.NFKC.String(symbol))
	if strings.EqualFold(symbol, "ETH") {
		return "WETH"
	}
	return symbol
}

func normalizePair(base, quote string) oracle.Pair {
	base = NormalizeSymbol(base)
	quote = NormalizeSymbol(quote)
	if base == "" || quote == "" {
		return oracle.Pair{}
	}
	return oracle.Pair{Base: base, Quote: quote}
}
