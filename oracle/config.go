package oracle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Leg is either absent or a configured contract address. The zero address is
// folded into Absent at ingress so no caller ever compares against it.
type Leg struct {
	addr common.Address
	set  bool
}

// Absent returns an unconfigured leg.
func Absent() Leg { return Leg{} }

// FeedAt returns a configured leg for addr. A zero address yields Absent.
func FeedAt(addr common.Address) Leg {
	return LegFromAddress(addr)
}

// LegFromAddress converts a raw on-chain address into a Leg.
func LegFromAddress(addr common.Address) Leg {
	if addr == (common.Address{}) {
		return Leg{}
	}
	return Leg{addr: addr, set: true}
}

// LegFromHex parses a hex address. Empty input yields Absent.
func LegFromHex(raw string) (Leg, error) {
	if raw == "" {
		return Leg{}, nil
	}
	if !common.IsHexAddress(raw) {
		return Leg{}, fmt.Errorf("invalid address %q", raw)
	}
	return LegFromAddress(common.HexToAddress(raw)), nil
}

// IsAbsent reports whether the leg is unconfigured.
func (l Leg) IsAbsent() bool { return !l.set }

// Address returns the configured address and whether the leg is present.
func (l Leg) Address() (common.Address, bool) {
	return l.addr, l.set
}

// Raw returns the on-chain representation, the zero address when absent.
func (l Leg) Raw() common.Address {
	return l.addr
}

func (l Leg) String() string {
	if !l.set {
		return "absent"
	}
	return l.addr.Hex()
}

// Configuration mirrors the constructor arguments of a MorphoChainlinkOracleV2.
type Configuration struct {
	BaseVault                  Leg
	BaseVaultConversionSample  *uint256.Int
	BaseFeed1                  Leg
	BaseFeed2                  Leg
	BaseTokenDecimals          uint8
	QuoteVault                 Leg
	QuoteVaultConversionSample *uint256.Int
	QuoteFeed1                 Leg
	QuoteFeed2                 Leg
	QuoteTokenDecimals         uint8
	Salt                       common.Hash
}

// PositionedLeg pairs a leg with its slot.
type PositionedLeg struct {
	Position Position
	Leg      Leg
}

// Legs returns all six slots in configuration order, absent ones included.
func (c Configuration) Legs() [6]PositionedLeg {
	return [6]PositionedLeg{
		{Position: PositionBaseVault, Leg: c.BaseVault},
		{Position: PositionBase1, Leg: c.BaseFeed1},
		{Position: PositionBase2, Leg: c.BaseFeed2},
		{Position: PositionQuote1, Leg: c.QuoteFeed1},
		{Position: PositionQuote2, Leg: c.QuoteFeed2},
		{Position: PositionQuoteVault, Leg: c.QuoteVault},
	}
}

// ConfiguredLegs returns the present legs in configuration order.
func (c Configuration) ConfiguredLegs() []PositionedLeg {
	all := c.Legs()
	out := make([]PositionedLeg, 0, len(all))
	for _, leg := range all {
		if !leg.Leg.IsAbsent() {
			out = append(out, leg)
		}
	}
	return out
}

// IsHardcoded reports whether no leg is configured, i.e. the oracle reports a
// constant price.
func (c Configuration) IsHardcoded() bool {
	return len(c.ConfiguredLegs()) == 0
}

// BaseSample returns the base vault conversion sample, defaulting to one.
func (c Configuration) BaseSample() *uint256.Int {
	return sampleOrOne(c.BaseVaultConversionSample)
}

// QuoteSample returns the quote vault conversion sample, defaulting to one.
func (c Configuration) QuoteSample() *uint256.Int {
	return sampleOrOne(c.QuoteVaultConversionSample)
}

func sampleOrOne(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(1)
	}
	return new(uint256.Int).Set(v)
}

// Validate reports constructor-level problems the factory would reject. The
// result is advisory: verification still runs and reports partial metadata.
func (c Configuration) Validate() []error {
	var errs []error
	if c.BaseVault.IsAbsent() && !c.BaseSample().Eq(uint256.NewInt(1)) {
		errs = append(errs, fmt.Errorf("%w: base vault conversion sample must be 1 without a base vault", ErrInvalidConfiguration))
	}
	if c.QuoteVault.IsAbsent() && !c.QuoteSample().Eq(uint256.NewInt(1)) {
		errs = append(errs, fmt.Errorf("%w: quote vault conversion sample must be 1 without a quote vault", ErrInvalidConfiguration))
	}
	if c.BaseSample().IsZero() {
		errs = append(errs, fmt.Errorf("%w: base vault conversion sample is zero", ErrInvalidConfiguration))
	}
	if c.QuoteSample().IsZero() {
		errs = append(errs, fmt.Errorf("%w: quote vault conversion sample is zero", ErrInvalidConfiguration))
	}
	// Quote feeds can only raise the exponent and base feeds only lower it,
	// so without quote feeds the token decimals alone bound it from above.
	if c.QuoteFeed1.IsAbsent() && c.QuoteFeed2.IsAbsent() {
		if exp := ScaleExponentBase + int(c.QuoteTokenDecimals) - int(c.BaseTokenDecimals); exp < 0 {
			errs = append(errs, fmt.Errorf("%w: decimals exponent %d underflows", ErrInvalidConfiguration, exp))
		}
	}
	return errs
}

// ScaleExponentBase is the constant term of the scale factor exponent.
const ScaleExponentBase = 36

// SameDeployment reports whether two configurations would produce an
// identically behaving oracle. The salt is ignored.
func (c Configuration) SameDeployment(other Configuration) bool {
	return c.BaseVault == other.BaseVault &&
		c.BaseSample().Eq(other.BaseSample()) &&
		c.BaseFeed1 == other.BaseFeed1 &&
		c.BaseFeed2 == other.BaseFeed2 &&
		c.BaseTokenDecimals == other.BaseTokenDecimals &&
		c.QuoteVault == other.QuoteVault &&
		c.QuoteSample().Eq(other.QuoteSample()) &&
		c.QuoteFeed1 == other.QuoteFeed1 &&
		c.QuoteFeed2 == other.QuoteFeed2 &&
		c.QuoteTokenDecimals == other.QuoteTokenDecimals
}
