package oracle

import "errors"

// ErrInvalidConfiguration marks configuration values the oracle factory would reject.
var ErrInvalidConfiguration = errors.New("invalid oracle configuration")

// ErrorKind is a user-visible reason attached to a check result.
type ErrorKind string

const (
	ErrNoValidPath              ErrorKind = "NO_VALID_PATH"
	ErrInvalidCollateralFeed    ErrorKind = "INVALID_COLLATERAL_FEED"
	ErrInvalidLoanFeed          ErrorKind = "INVALID_LOAN_FEED"
	ErrHardcodedOracle          ErrorKind = "HARDCODED_ORACLE"
	ErrInvalidConfigurationKind ErrorKind = "INVALID_CONFIGURATION"
	ErrFetchPrice               ErrorKind = "FETCH_PRICE_ERROR"
	ErrLoanAssetZeroPrice       ErrorKind = "LOAN_ASSET_ZERO_PRICE"
	ErrCollateralAssetZeroPrice ErrorKind = "COLLATERAL_ASSET_ZERO_PRICE"
	ErrAssetNotFound            ErrorKind = "ASSET_NOT_FOUND"
	ErrOracleAPIFetch           ErrorKind = "ORACLE_API_FETCH_ERROR"
	ErrMissingTransactionHash   ErrorKind = "MISSING_TRANSACTION_HASH"
	ErrDecoding                 ErrorKind = "DECODING_ERROR"
	ErrFetch                    ErrorKind = "FETCH_ERROR"
	ErrInternal                 ErrorKind = "INTERNAL_ERROR"
)

var errorMessages = map[ErrorKind]string{
	ErrNoValidPath:              "No connected route through the configured feeds.",
	ErrInvalidCollateralFeed:    "The base side of the oracle does not price the collateral asset.",
	ErrInvalidLoanFeed:          "The quote side of the oracle does not price the loan asset.",
	ErrHardcodedOracle:          "No feed or vault is configured; the oracle reports a constant price.",
	ErrInvalidConfigurationKind: "The configuration would be rejected by the oracle factory.",
	ErrFetchPrice:               "Error fetching live feed or vault data.",
	ErrLoanAssetZeroPrice:       "The loan asset has no USD price; the price check is inconclusive.",
	ErrCollateralAssetZeroPrice: "The collateral asset has no USD price; the price check is inconclusive.",
	ErrAssetNotFound:            "The asset is not listed in the market directory.",
	ErrOracleAPIFetch:           "Error fetching deployed oracles.",
	ErrMissingTransactionHash:   "Failed to get transaction hash for the oracle.",
	ErrDecoding:                 "Failed to decode oracle data.",
	ErrFetch:                    "Error fetching data.",
	ErrInternal:                 "Internal error while running the check.",
}

// Message returns the human readable description of the kind.
func (k ErrorKind) Message() string {
	if msg, ok := errorMessages[k]; ok {
		return msg
	}
	return string(k)
}

// LoadingState tracks the progress of one check for the presentation layer.
type LoadingState string

const (
	NotStarted LoadingState = "not_started"
	Loading    LoadingState = "loading"
	Completed  LoadingState = "completed"
)

// Verdict is the tri-state outcome of a check.
type Verdict string

const (
	Verified     Verdict = "verified"
	NotVerified  Verdict = "not_verified"
	Inconclusive Verdict = "inconclusive"
)
