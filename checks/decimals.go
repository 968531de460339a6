// Package checks holds the directory-backed verification checks that sit next
// to the route and price checks.
package checks

import (
	"oraclecheck/directory"
	"oraclecheck/oracle"
)

// DecimalsResult compares the configured token decimals with the listed ones.
type DecimalsResult struct {
	Verified              bool               `json:"isVerified"`
	Verdict               oracle.Verdict     `json:"verdict"`
	BaseDecimalsProvided  uint8              `json:"baseTokenDecimalsProvided"`
	BaseDecimalsExpected  *int               `json:"baseTokenDecimalsExpected"`
	QuoteDecimalsProvided uint8              `json:"quoteTokenDecimalsProvided"`
	QuoteDecimalsExpected *int               `json:"quoteTokenDecimalsExpected"`
	Errors                []oracle.ErrorKind `json:"errors,omitempty"`
}

// Decimals checks cfg's token decimals against the directory listing of the
// collateral and loan assets. An unlisted asset makes the check inconclusive.
func Decimals(cfg oracle.Configuration, assets []directory.Asset, collateral, loan oracle.Asset) DecimalsResult {
	res := DecimalsResult{
		BaseDecimalsProvided:  cfg.BaseTokenDecimals,
		QuoteDecimalsProvided: cfg.QuoteTokenDecimals,
	}
	if a, ok := FindAsset(assets, collateral); ok {
		d := a.Decimals
		res.BaseDecimalsExpected = &d
	}
	if a, ok := FindAsset(assets, loan); ok {
		d := a.Decimals
		res.QuoteDecimalsExpected = &d
	}
	if res.BaseDecimalsExpected == nil || res.QuoteDecimalsExpected == nil {
		res.Errors = []oracle.ErrorKind{oracle.ErrAssetNotFound}
		res.Verdict = oracle.Inconclusive
		return res
	}
	res.Verified = *res.BaseDecimalsExpected == int(cfg.BaseTokenDecimals) &&
		*res.QuoteDecimalsExpected == int(cfg.QuoteTokenDecimals)
	res.Verdict = oracle.NotVerified
	if res.Verified {
		res.Verdict = oracle.Verified
	}
	return res
}

// FindAsset locates want in the listing, by address when it carries one and
// by exact symbol otherwise.
func FindAsset(assets []directory.Asset, want oracle.Asset) (directory.Asset, bool) {
	if want.HasAddress() {
		for _, a := range assets {
			if a.Address == want.Address {
				return a, true
			}
		}
		return directory.Asset{}, false
	}
	for _, a := range assets {
		if a.Symbol == want.Symbol {
			return a, true
		}
	}
	return directory.Asset{}, false
}
