package pricing

import (
	"errors"
	"fmt"
	stdmath "math"
	"math/big"
	"strconv"
	"strings"

	"cosmossdk.io/math"
)

// ErrInvalidUSDPrice is returned for prices that cannot enter the fixed-point domain.
var ErrInvalidUSDPrice = errors.New("invalid usd price")

// USDToWad converts a directory USD price into 18-decimal fixed point. It is
// the only place a float enters the price check: the value is rounded to the
// nearest 1e-18 and never touched as a float again.
func USDToWad(v float64) (math.LegacyDec, error) {
	if stdmath.IsNaN(v) || stdmath.IsInf(v, 0) {
		return math.LegacyDec{}, fmt.Errorf("%w: %v", ErrInvalidUSDPrice, v)
	}
	if v < 0 {
		return math.LegacyDec{}, fmt.Errorf("%w: negative %v", ErrInvalidUSDPrice, v)
	}
	dec, err := math.LegacyNewDecFromStr(strconv.FormatFloat(v, 'f', math.LegacyPrecision, 64))
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("%w: %w", ErrInvalidUSDPrice, err)
	}
	return dec, nil
}

// wadDec views an integer scaled by 1e18 as a decimal.
func wadDec(i *big.Int) *math.LegacyDec {
	if i == nil {
		return nil
	}
	dec := math.LegacyNewDecFromBigIntWithPrec(i, math.LegacyPrecision)
	return &dec
}

// FormatUnits renders v with the given number of decimals, trimming trailing
// zeros the way token amounts are usually displayed.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	digits := new(big.Int).Abs(v).String()
	if decimals <= 0 {
		if decimals < 0 {
			digits += strings.Repeat("0", -decimals)
		}
		if neg {
			return "-" + digits
		}
		return digits
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if frac == "" {
		frac = "0"
	}
	out := whole + "." + frac
	if neg {
		return "-" + out
	}
	return out
}
