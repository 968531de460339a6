package pricing

import (
	stdmath "math"
	"math/big"
	"testing"

	"cosmossdk.io/math"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"oraclecheck/oracle"
)

func pow10(exp int64) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(exp)))
}

func usd(t *testing.T, v float64) math.LegacyDec {
	t.Helper()
	dec, err := USDToWad(v)
	require.NoError(t, err)
	return dec
}

func TestEvaluateWithinThreshold(t *testing.T) {
	// WETH/USDC at 3000: price = 3000e24.
	price := new(uint256.Int).Mul(uint256.NewInt(3000), pow10(24))
	res := Evaluate(Assessment{
		Price:              price,
		CollateralDecimals: 18,
		LoanDecimals:       6,
		CollateralPriceUSD: usd(t, 3000),
		LoanPriceUSD:       usd(t, 1),
	})
	require.True(t, res.Verified)
	require.Equal(t, oracle.Verified, res.Verdict)
	require.Empty(t, res.Errors)
	require.Equal(t, "3000.000000000000000000", res.OraclePriceEquivalent.String())
	require.Equal(t, "3000.000000000000000001", res.USDRatio.String())
	require.Equal(t, "0.000000000000000000", res.PercentageDeviation.String())
	require.Equal(t, "3000.0", res.PriceInCollateralDecimals)
}

func TestEvaluateSmallNegativeDeviation(t *testing.T) {
	// Collateral 100 USD, loan 1 USD, oracle says 98.
	res := Evaluate(Assessment{
		Price:              new(uint256.Int).Mul(uint256.NewInt(98), pow10(36)),
		CollateralDecimals: 18,
		LoanDecimals:       18,
		CollateralPriceUSD: usd(t, 100),
		LoanPriceUSD:       usd(t, 1),
	})
	require.Equal(t, "-2.000000000000000000", res.PercentageDeviation.String())
	require.True(t, res.Verified)
	require.Equal(t, oracle.Verified, res.Verdict)
}

func TestEvaluateLargeNegativeDeviation(t *testing.T) {
	res := Evaluate(Assessment{
		Price:              new(uint256.Int).Mul(uint256.NewInt(85), pow10(36)),
		CollateralDecimals: 18,
		LoanDecimals:       18,
		CollateralPriceUSD: usd(t, 100),
		LoanPriceUSD:       usd(t, 1),
	})
	require.Equal(t, "-15.000000000000000000", res.PercentageDeviation.String())
	require.False(t, res.Verified)
	require.Equal(t, oracle.NotVerified, res.Verdict)
}

func TestEvaluateThresholdIsInclusiveAndConfigurable(t *testing.T) {
	in := Assessment{
		Price:              new(uint256.Int).Mul(uint256.NewInt(85), pow10(36)),
		CollateralDecimals: 18,
		LoanDecimals:       18,
		CollateralPriceUSD: usd(t, 100),
		LoanPriceUSD:       usd(t, 1),
	}
	threshold := math.LegacyNewDec(15)
	in.ThresholdPercent = &threshold
	require.True(t, Evaluate(in).Verified)

	tight := math.LegacyMustNewDecFromStr("14.999999999999999999")
	in.ThresholdPercent = &tight
	require.False(t, Evaluate(in).Verified)
}

func TestEvaluateLoanZeroPrice(t *testing.T) {
	res := Evaluate(Assessment{
		Price:              pow10(36),
		CollateralDecimals: 18,
		LoanDecimals:       18,
		CollateralPriceUSD: usd(t, 100),
		LoanPriceUSD:       usd(t, 0),
	})
	require.Equal(t, []oracle.ErrorKind{oracle.ErrLoanAssetZeroPrice}, res.Errors)
	require.Equal(t, oracle.Inconclusive, res.Verdict)
	require.False(t, res.Verified)
	require.Nil(t, res.USDRatio)
	require.Nil(t, res.OraclePriceEquivalent)
	require.Nil(t, res.PercentageDeviation)
	require.Equal(t, "100.000000000000000000", res.CollateralPriceUSD.String())
}

func TestEvaluateCollateralZeroPrice(t *testing.T) {
	res := Evaluate(Assessment{
		Price:              pow10(36),
		CollateralDecimals: 18,
		LoanDecimals:       18,
		CollateralPriceUSD: math.LegacyDec{},
		LoanPriceUSD:       usd(t, 1),
	})
	require.Equal(t, []oracle.ErrorKind{oracle.ErrCollateralAssetZeroPrice}, res.Errors)
	require.Equal(t, oracle.Inconclusive, res.Verdict)
}

func TestOraclePriceEquivalentNegativeExponent(t *testing.T) {
	// 36 + 0 - 40 = -4: the price is multiplied rather than divided.
	got := OraclePriceEquivalent(big.NewInt(7), 40, 0)
	require.Equal(t, "70000000000000000000000", got.String())
}

func TestUSDRatioRoundsHalfUp(t *testing.T) {
	// 2 / 3 = 0.666...; the 19th digit rounds up, then one wei is added.
	got := USDRatio(big.NewInt(2), big.NewInt(3))
	require.Equal(t, "666666666666666668", got.String())
}

func TestPercentageDeviationTruncatesTowardZero(t *testing.T) {
	got := PercentageDeviation(big.NewInt(0), big.NewInt(3))
	require.Equal(t, "-100000000000000000000", got.String())
	got = PercentageDeviation(big.NewInt(1), big.NewInt(3))
	// (1-3)*100e18/3 = -66.666...e18 truncated toward zero.
	require.Equal(t, "-66666666666666666666", got.String())
}

func TestUSDToWad(t *testing.T) {
	dec, err := USDToWad(2.5)
	require.NoError(t, err)
	require.Equal(t, "2.500000000000000000", dec.String())

	_, err = USDToWad(stdmath.NaN())
	require.ErrorIs(t, err, ErrInvalidUSDPrice)
	_, err = USDToWad(stdmath.Inf(1))
	require.ErrorIs(t, err, ErrInvalidUSDPrice)
	_, err = USDToWad(-1)
	require.ErrorIs(t, err, ErrInvalidUSDPrice)
}

func TestFormatUnits(t *testing.T) {
	require.Equal(t, "1.5", FormatUnits(big.NewInt(15), 1))
	require.Equal(t, "0.001", FormatUnits(big.NewInt(1), 3))
	require.Equal(t, "42", FormatUnits(big.NewInt(42), 0))
	require.Equal(t, "-0.25", FormatUnits(big.NewInt(-25), 2))
	require.Equal(t, "1200", FormatUnits(big.NewInt(12), -2))
}
