package route

import (
	"oraclecheck/oracle"
)

// Result is the verdict of the route check.
type Result struct {
	Valid     bool               `json:"isValid"`
	Hardcoded bool               `json:"hardcoded"`
	Feeds     []FeedMetadata     `json:"feedsMetadata"`
	Errors    []oracle.ErrorKind `json:"errors,omitempty"`
}

// Verdict maps the result onto the shared tri-state verdict. A hardcoded
// oracle is a warning, not an invalid route.
func (r Result) Verdict() oracle.Verdict {
	switch {
	case r.Valid:
		return oracle.Verified
	case r.Hardcoded:
		return oracle.Inconclusive
	default:
		return oracle.NotVerified
	}
}

// Connected reports whether every edge's To matches the next edge's From.
// Routes with zero or one edge are trivially connected.
func Connected(r Route) bool {
	for i := 1; i < len(r.Edges); i++ {
		if !r.Edges[i-1].To.Matches(r.Edges[i].From) {
			return false
		}
	}
	return true
}

// MatchesCollateral reports whether asset matches either end of the route's
// first edge.
func MatchesCollateral(r Route, asset oracle.Asset) bool {
	if len(r.Edges) == 0 {
		return false
	}
	first := r.Edges[0]
	return asset.Matches(first.From) || asset.Matches(first.To)
}

// MatchesLoan reports whether asset matches either end of the route's last edge.
func MatchesLoan(r Route, asset oracle.Asset) bool {
	if len(r.Edges) == 0 {
		return false
	}
	last := r.Edges[len(r.Edges)-1]
	return asset.Matches(last.To) || asset.Matches(last.From)
}

// Resolve checks whether any candidate route links collateral to loan. It is
// pure and deterministic. Metadata is returned whatever the verdict.
func Resolve(c Candidates, collateral, loan oracle.Asset) Result {
	result := Result{Feeds: c.Legs}
	if result.Feeds == nil {
		result.Feeds = []FeedMetadata{}
	}
	if isHardcoded(c) {
		result.Hardcoded = true
		result.Errors = []oracle.ErrorKind{oracle.ErrHardcodedOracle}
		return result
	}

	var resolvable []Route
	for _, r := range c.Routes {
		if len(r.Edges) > 0 && Connected(r) {
			resolvable = append(resolvable, r)
		}
	}
	if len(resolvable) == 0 {
		result.Errors = []oracle.ErrorKind{oracle.ErrNoValidPath}
		return result
	}

	var collateralOK, loanOK bool
	for _, r := range resolvable {
		coll := MatchesCollateral(r, collateral)
		ln := MatchesLoan(r, loan)
		collateralOK = collateralOK || coll
		loanOK = loanOK || ln
		if coll && ln {
			result.Valid = true
		}
	}
	if result.Valid {
		return result
	}
	switch {
	case !collateralOK && !loanOK:
		result.Errors = append(result.Errors, oracle.ErrInvalidCollateralFeed, oracle.ErrInvalidLoanFeed)
	case !collateralOK:
		result.Errors = append(result.Errors, oracle.ErrInvalidCollateralFeed)
	default:
		// Either the loan never matches, or it only matches routes the
		// collateral does not start.
		result.Errors = append(result.Errors, oracle.ErrInvalidLoanFeed)
	}
	return result
}

func isHardcoded(c Candidates) bool {
	for _, r := range c.Routes {
		if !r.Hardcoded {
			return false
		}
	}
	return true
}
