package verify

import (
	"context"
	"errors"
	"log/slog"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"oraclecheck/checks"
	"oraclecheck/deployments"
	"oraclecheck/directory"
	"oraclecheck/oracle"
	"oraclecheck/pricing"
	"oraclecheck/route"
)

// DuplicateResult reports whether an equivalent oracle is already deployed.
type DuplicateResult struct {
	Duplicate bool            `json:"isDuplicate"`
	Oracle    *common.Address `json:"oracle,omitempty"`
	TxHash    *common.Hash    `json:"txHash,omitempty"`
}

// PriceResult bundles the reconstructed price with its assessment.
type PriceResult struct {
	Reconstruction pricing.PriceResult `json:"reconstruction"`
	Assessment     pricing.CheckResult `json:"assessment"`
}

func completed(verdict oracle.Verdict, errs []oracle.ErrorKind, result any) CheckState {
	return CheckState{State: oracle.Completed, Verdict: verdict, Errors: errs, Result: result}
}

func failed(kinds ...oracle.ErrorKind) CheckState {
	return CheckState{State: oracle.Completed, Verdict: oracle.Inconclusive, Failed: true, Errors: kinds}
}

func (s *Service) routeCheck(ctx context.Context, req Request) CheckState {
	var vaults route.Feeds
	if s.deps.NewVaults != nil {
		if resolver := s.deps.NewVaults(); resolver != nil {
			vaults = resolver.Feeds(ctx, req.ChainID, req.Config)
		}
	}
	candidates := route.Build(route.Input{
		Config:  req.Config,
		ChainID: req.ChainID,
		Feeds:   s.deps.Whitelist,
		Vaults:  vaults,
	})
	result := route.Resolve(candidates, req.Collateral, req.Loan)
	errs := append([]oracle.ErrorKind(nil), result.Errors...)
	if problems := req.Config.Validate(); len(problems) > 0 {
		errs = append(errs, oracle.ErrInvalidConfigurationKind)
	}
	return completed(result.Verdict(), errs, result)
}

func (s *Service) priceCheck(ctx context.Context, req Request) CheckState {
	reconstruction, err := pricing.Reconstruct(ctx, req.ChainID, req.Config, s.deps.Reader)
	if errors.Is(err, oracle.ErrInvalidConfiguration) {
		return completed(oracle.NotVerified, []oracle.ErrorKind{oracle.ErrInvalidConfigurationKind}, nil)
	}
	if err != nil {
		s.logger.Debug("price reconstruction failed", slog.Uint64("chain_id", req.ChainID), slog.Any("error", err))
		return failed(oracle.ErrFetchPrice)
	}
	if s.deps.Directory == nil {
		return failed(oracle.ErrFetch)
	}
	prices, err := s.deps.Directory.AssetPrices(ctx, req.ChainID, req.Collateral.Symbol, req.Loan.Symbol)
	if err != nil {
		s.logger.Debug("usd price lookup failed", slog.Uint64("chain_id", req.ChainID), slog.Any("error", err))
		return failed(oracle.ErrFetch)
	}
	coll, collFound := priceFor(prices, req.Collateral.Symbol)
	loan, loanFound := priceFor(prices, req.Loan.Symbol)

	assessment := pricing.Assessment{
		ScaleFactor:        reconstruction.ScaleFactor,
		Price:              reconstruction.Price,
		CollateralDecimals: tokenDecimals(coll, collFound, req.Config.BaseTokenDecimals),
		LoanDecimals:       tokenDecimals(loan, loanFound, req.Config.QuoteTokenDecimals),
		CollateralPriceUSD: usdPrice(coll, collFound),
		LoanPriceUSD:       usdPrice(loan, loanFound),
		ThresholdPercent:   s.threshold,
	}
	if req.ThresholdPercent != nil {
		assessment.ThresholdPercent = req.ThresholdPercent
	}
	check := pricing.Evaluate(assessment)
	return completed(check.Verdict, check.Errors, PriceResult{Reconstruction: reconstruction, Assessment: check})
}

// priceFor looks a symbol up exactly and then through the ETH/WETH alias.
func priceFor(prices map[string]directory.MarketAsset, symbol string) (directory.MarketAsset, bool) {
	if asset, ok := prices[symbol]; ok {
		return asset, true
	}
	for listed, asset := range prices {
		if oracle.SymbolsMatch(listed, symbol) {
			return asset, true
		}
	}
	return directory.MarketAsset{}, false
}

// tokenDecimals prefers the directory listing over the configured decimals.
func tokenDecimals(asset directory.MarketAsset, found bool, configured uint8) uint8 {
	if found && asset.Decimals > 0 && asset.Decimals <= 255 {
		return uint8(asset.Decimals)
	}
	return configured
}

// usdPrice returns zero for missing or unusable prices; Evaluate turns a
// zero into the matching inconclusive reason.
func usdPrice(asset directory.MarketAsset, found bool) math.LegacyDec {
	if !found || asset.PriceUSD == nil {
		return math.LegacyZeroDec()
	}
	dec, err := pricing.USDToWad(*asset.PriceUSD)
	if err != nil {
		return math.LegacyZeroDec()
	}
	return dec
}

func (s *Service) decimalsCheck(ctx context.Context, req Request) CheckState {
	if s.deps.Directory == nil {
		return failed(oracle.ErrFetch)
	}
	assets, err := s.deps.Directory.Assets(ctx, req.ChainID)
	if err != nil {
		s.logger.Debug("asset listing failed", slog.Uint64("chain_id", req.ChainID), slog.Any("error", err))
		return failed(oracle.ErrFetch)
	}
	result := checks.Decimals(req.Config, assets, req.Collateral, req.Loan)
	return completed(result.Verdict, result.Errors, result)
}

func (s *Service) duplicateCheck(ctx context.Context, req Request) CheckState {
	if s.deps.Duplicates == nil {
		return failed(oracle.ErrOracleAPIFetch)
	}
	existing, found, err := s.deps.Duplicates.FindDuplicate(ctx, req.ChainID, req.Config)
	if err != nil {
		if !errors.Is(err, deployments.ErrNotIndexed) {
			s.logger.Debug("duplicate lookup failed", slog.Uint64("chain_id", req.ChainID), slog.Any("error", err))
		}
		return failed(oracle.ErrOracleAPIFetch)
	}
	if !found {
		return completed(oracle.Verified, nil, DuplicateResult{})
	}
	return completed(oracle.NotVerified, nil, DuplicateResult{
		Duplicate: true,
		Oracle:    &existing.Oracle,
		TxHash:    &existing.TxHash,
	})
}
