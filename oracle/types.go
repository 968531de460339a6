package oracle

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Unknown is the placeholder symbol used for legs that could not be matched
// against the whitelist or a resolved vault.
const Unknown = "Unknown"

// Asset identifies one side of a market. Either field may be empty.
type Asset struct {
	Symbol  string         `json:"symbol"`
	Address common.Address `json:"address"`
}

// HasAddress reports whether the asset carries a non-zero address.
func (a Asset) HasAddress() bool {
	return a.Address != (common.Address{})
}

// IsUnknown reports whether the asset is the Unknown placeholder.
func (a Asset) IsUnknown() bool {
	return strings.EqualFold(strings.TrimSpace(a.Symbol), Unknown)
}

// Matches compares two assets. Addresses win when both sides carry one;
// otherwise symbols are compared with SymbolsMatch.
func (a Asset) Matches(other Asset) bool {
	if a.HasAddress() && other.HasAddress() && a.Address == other.Address {
		return true
	}
	return SymbolsMatch(a.Symbol, other.Symbol)
}

// SymbolsMatch treats two symbols as equal when they are identical ignoring
// case, or when both belong to the ETH/WETH alias set. Unknown never matches,
// not even itself.
func SymbolsMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if a == strings.ToLower(Unknown) || b == strings.ToLower(Unknown) {
		return false
	}
	if a == b {
		return true
	}
	return isETHAlias(a) && isETHAlias(b)
}

func isETHAlias(symbol string) bool {
	return symbol == "eth" || symbol == "weth"
}

// Pair is a declared (base, quote) conversion. The zero value is unknown.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// IsUnknown reports whether the pair could not be determined.
func (p Pair) IsUnknown() bool {
	return strings.TrimSpace(p.Base) == "" || strings.TrimSpace(p.Quote) == ""
}

// Strings renders the pair for metadata, substituting Unknown for missing sides.
func (p Pair) Strings() [2]string {
	if p.IsUnknown() {
		return [2]string{Unknown, Unknown}
	}
	return [2]string{p.Base, p.Quote}
}

// Role tags an edge as belonging to the collateral (base) or loan (quote) side.
type Role string

const (
	RoleBase  Role = "Base"
	RoleQuote Role = "Quote"
)

// Position is the fixed slot a leg occupies in the oracle configuration.
type Position string

const (
	PositionBaseVault  Position = "Base Vault"
	PositionBase1      Position = "Base 1"
	PositionBase2      Position = "Base 2"
	PositionQuote1     Position = "Quote 1"
	PositionQuote2     Position = "Quote 2"
	PositionQuoteVault Position = "Quote Vault"
)

// Positions lists every slot in configuration order.
var Positions = [6]Position{
	PositionBaseVault,
	PositionBase1,
	PositionBase2,
	PositionQuote1,
	PositionQuote2,
	PositionQuoteVault,
}

// Role returns the side the position belongs to.
func (p Position) Role() Role {
	switch p {
	case PositionQuote1, PositionQuote2, PositionQuoteVault:
		return RoleQuote
	default:
		return RoleBase
	}
}

// IsVault reports whether the position holds an ERC-4626 vault.
func (p Position) IsVault() bool {
	return p == PositionBaseVault || p == PositionQuoteVault
}
