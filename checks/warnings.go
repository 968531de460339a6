package checks

import (
	"oraclecheck/directory"
	"oraclecheck/oracle"
)

// CriticalWarnings are the market warning types that fail the check.
var CriticalWarnings = map[string]struct{}{
	"unrecognized_oracle":                {},
	"unrecognized_oracle_feed":           {},
	"hardcoded_oracle_feed":              {},
	"hardcoded_oracle":                   {},
	"incompatible_oracle_feeds":          {},
	"incorrect_collateral_exchange_rate": {},
	"incorrect_loan_exchange_rate":       {},
}

// WarningsResult lists the distinct critical warnings raised on the markets
// that pair the requested assets.
type WarningsResult struct {
	Verified bool                `json:"isVerified"`
	Verdict  oracle.Verdict      `json:"verdict"`
	Markets  int                 `json:"markets"`
	Warnings []directory.Warning `json:"warnings"`
}

// Warnings filters markets to those matching collateral and loan by symbol
// and collects each critical level:type once, in first-seen order.
func Warnings(markets []directory.Market, collateral, loan string) WarningsResult {
	res := WarningsResult{Warnings: []directory.Warning{}}
	seen := make(map[directory.Warning]struct{})
	for _, m := range markets {
		if m.CollateralAsset.Symbol != collateral || m.LoanAsset.Symbol != loan {
			continue
		}
		res.Markets++
		for _, w := range m.Warnings {
			if _, critical := CriticalWarnings[w.Type]; !critical {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			res.Warnings = append(res.Warnings, w)
		}
	}
	res.Verified = len(res.Warnings) == 0
	res.Verdict = oracle.NotVerified
	if res.Verified {
		res.Verdict = oracle.Verified
	}
	return res
}
