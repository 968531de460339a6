package pricing

import (
	"math/big"

	"cosmossdk.io/math"
	"github.com/holiman/uint256"

	"oraclecheck/oracle"
)

// DefaultThresholdPercent is the accepted absolute deviation when none is configured.
const DefaultThresholdPercent = 10

// DefaultTokenDecimals applies when the directory does not report decimals.
const DefaultTokenDecimals uint8 = 18

var (
	wad     = big.NewInt(1e18)
	hundred = big.NewInt(100)
	ten     = big.NewInt(10)
)

// Assessment is the input to Evaluate.
type Assessment struct {
	ScaleFactor        *uint256.Int
	Price              *uint256.Int
	CollateralDecimals uint8
	LoanDecimals       uint8
	CollateralPriceUSD math.LegacyDec
	LoanPriceUSD       math.LegacyDec
	// ThresholdPercent bounds |deviation|; nil or non-positive means DefaultThresholdPercent.
	ThresholdPercent *math.LegacyDec
}

// CheckResult is the outcome of the price check. USD-derived fields are nil
// when the check is inconclusive.
type CheckResult struct {
	ScaleFactor               *uint256.Int       `json:"scaleFactor"`
	Price                     *uint256.Int       `json:"price"`
	PriceInCollateralDecimals string             `json:"priceUnscaledInCollateralTokenDecimals"`
	CollateralPriceUSD        *math.LegacyDec    `json:"collateralPriceUsd"`
	LoanPriceUSD              *math.LegacyDec    `json:"loanPriceUsd"`
	USDRatio                  *math.LegacyDec    `json:"ratioUsdPrice"`
	OraclePriceEquivalent     *math.LegacyDec    `json:"oraclePriceEquivalent"`
	PercentageDeviation       *math.LegacyDec    `json:"percentageDifference"`
	Verified                  bool               `json:"isVerified"`
	Verdict                   oracle.Verdict     `json:"verdict"`
	Errors                    []oracle.ErrorKind `json:"errors,omitempty"`
}

// Evaluate compares the oracle price against the ratio of independent USD
// prices. All arithmetic after ingress is integer arithmetic at 1e18.
func Evaluate(in Assessment) CheckResult {
	result := CheckResult{
		ScaleFactor: in.ScaleFactor,
		Price:       in.Price,
		Verdict:     oracle.Inconclusive,
	}
	price := new(big.Int)
	if in.Price != nil {
		price = in.Price.ToBig()
	}
	result.PriceInCollateralDecimals = FormatUnits(price, 36-int(in.CollateralDecimals)+int(in.LoanDecimals))

	coll := nonNegativeWad(in.CollateralPriceUSD)
	loan := nonNegativeWad(in.LoanPriceUSD)
	result.CollateralPriceUSD = wadDec(coll)
	result.LoanPriceUSD = wadDec(loan)

	if loan.Sign() == 0 {
		result.Errors = append(result.Errors, oracle.ErrLoanAssetZeroPrice)
	}
	if coll.Sign() == 0 {
		result.Errors = append(result.Errors, oracle.ErrCollateralAssetZeroPrice)
	}
	if len(result.Errors) > 0 {
		return result
	}

	ratio := USDRatio(coll, loan)
	ope := OraclePriceEquivalent(price, in.CollateralDecimals, in.LoanDecimals)
	deviation := PercentageDeviation(ope, ratio)

	result.USDRatio = wadDec(ratio)
	result.OraclePriceEquivalent = wadDec(ope)
	result.PercentageDeviation = wadDec(deviation)

	threshold := thresholdWad(in.ThresholdPercent)
	result.Verified = new(big.Int).Abs(deviation).Cmp(threshold) <= 0
	if result.Verified {
		result.Verdict = oracle.Verified
	} else {
		result.Verdict = oracle.NotVerified
	}
	return result
}

// USDRatio returns coll/loan at 1e18 rounded half up, plus one wei so the
// ratio is never zero.
func USDRatio(coll, loan *big.Int) *big.Int {
	num := new(big.Int).Mul(coll, wad)
	num.Add(num, new(big.Int).Rsh(loan, 1))
	out := num.Quo(num, loan)
	return out.Add(out, big.NewInt(1))
}

// OraclePriceEquivalent rescales the oracle price to a 1e18 collateral/loan
// ratio: price * 1e18 / 10^(36 + loanDecimals - collateralDecimals).
func OraclePriceEquivalent(price *big.Int, collateralDecimals, loanDecimals uint8) *big.Int {
	exp := 36 + int64(loanDecimals) - int64(collateralDecimals)
	out := new(big.Int).Mul(price, wad)
	if exp >= 0 {
		return out.Quo(out, new(big.Int).Exp(ten, big.NewInt(exp), nil))
	}
	return out.Mul(out, new(big.Int).Exp(ten, big.NewInt(-exp), nil))
}

// PercentageDeviation returns (ope - ratio) * 100 / ratio at 1e18, truncated
// toward zero.
func PercentageDeviation(ope, ratio *big.Int) *big.Int {
	diff := new(big.Int).Sub(ope, ratio)
	diff.Mul(diff, hundred)
	diff.Mul(diff, wad)
	return diff.Quo(diff, ratio)
}

func nonNegativeWad(d math.LegacyDec) *big.Int {
	if d.IsNil() || !d.IsPositive() {
		return new(big.Int)
	}
	return d.BigInt()
}

func thresholdWad(threshold *math.LegacyDec) *big.Int {
	if threshold == nil || threshold.IsNil() || !threshold.IsPositive() {
		return new(big.Int).Mul(big.NewInt(DefaultThresholdPercent), wad)
	}
	return threshold.BigInt()
}
