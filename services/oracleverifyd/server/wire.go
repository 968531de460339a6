package server

import (
	"errors"
	"fmt"
	"strings"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"oraclecheck/chain"
	"oraclecheck/oracle"
)

var errBadRequest = errors.New("bad request")

// configurationJSON is the wire form of an oracle configuration. Addresses
// are hex strings where "" and the zero address both mean "not configured".
type configurationJSON struct {
	BaseVault                  string `json:"baseVault"`
	BaseVaultConversionSample  string `json:"baseVaultConversionSample"`
	BaseFeed1                  string `json:"baseFeed1"`
	BaseFeed2                  string `json:"baseFeed2"`
	BaseTokenDecimals          uint8  `json:"baseTokenDecimals"`
	QuoteVault                 string `json:"quoteVault"`
	QuoteVaultConversionSample string `json:"quoteVaultConversionSample"`
	QuoteFeed1                 string `json:"quoteFeed1"`
	QuoteFeed2                 string `json:"quoteFeed2"`
	QuoteTokenDecimals         uint8  `json:"quoteTokenDecimals"`
	Salt                       string `json:"salt"`
}

func configurationFrom(cfg oracle.Configuration) configurationJSON {
	leg := func(l oracle.Leg) string {
		if l.IsAbsent() {
			return ""
		}
		return l.String()
	}
	return configurationJSON{
		BaseVault:                  leg(cfg.BaseVault),
		BaseVaultConversionSample:  cfg.BaseSample().Dec(),
		BaseFeed1:                  leg(cfg.BaseFeed1),
		BaseFeed2:                  leg(cfg.BaseFeed2),
		BaseTokenDecimals:          cfg.BaseTokenDecimals,
		QuoteVault:                 leg(cfg.QuoteVault),
		QuoteVaultConversionSample: cfg.QuoteSample().Dec(),
		QuoteFeed1:                 leg(cfg.QuoteFeed1),
		QuoteFeed2:                 leg(cfg.QuoteFeed2),
		QuoteTokenDecimals:         cfg.QuoteTokenDecimals,
		Salt:                       cfg.Salt.Hex(),
	}
}

// onChainJSON is the oracle's own view of its parameters. Price is empty
// when price() reverted.
type onChainJSON struct {
	BaseVault                  string `json:"baseVault"`
	BaseVaultConversionSample  string `json:"baseVaultConversionSample"`
	BaseFeed1                  string `json:"baseFeed1"`
	BaseFeed2                  string `json:"baseFeed2"`
	QuoteVault                 string `json:"quoteVault"`
	QuoteVaultConversionSample string `json:"quoteVaultConversionSample"`
	QuoteFeed1                 string `json:"quoteFeed1"`
	QuoteFeed2                 string `json:"quoteFeed2"`
	ScaleFactor                string `json:"scaleFactor"`
	Price                      string `json:"price,omitempty"`
}

type configurationsResponse struct {
	Creation       chain.Creation      `json:"creation"`
	Configurations []configurationJSON `json:"configurations"`
	OnChain        *onChainJSON        `json:"onChain,omitempty"`
}

func onChainFrom(state *chain.OracleState) *onChainJSON {
	if state == nil {
		return nil
	}
	dec := func(v *uint256.Int) string {
		if v == nil {
			return ""
		}
		return v.Dec()
	}
	return &onChainJSON{
		BaseVault:                  state.BaseVault.Hex(),
		BaseVaultConversionSample:  dec(state.BaseVaultConversionSample),
		BaseFeed1:                  state.BaseFeed1.Hex(),
		BaseFeed2:                  state.BaseFeed2.Hex(),
		QuoteVault:                 state.QuoteVault.Hex(),
		QuoteVaultConversionSample: dec(state.QuoteVaultConversionSample),
		QuoteFeed1:                 state.QuoteFeed1.Hex(),
		QuoteFeed2:                 state.QuoteFeed2.Hex(),
		ScaleFactor:                dec(state.ScaleFactor),
		Price:                      dec(state.Price),
	}
}

func (c configurationJSON) toConfiguration() (oracle.Configuration, error) {
	var (
		cfg  oracle.Configuration
		errs []error
	)
	parseLeg := func(field, raw string) oracle.Leg {
		leg, err := oracle.LegFromHex(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return leg
	}
	parseSample := func(field, raw string) *uint256.Int {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return uint256.NewInt(1)
		}
		v, err := uint256.FromDecimal(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return nil
		}
		return v
	}
	cfg.BaseVault = parseLeg("baseVault", c.BaseVault)
	cfg.BaseVaultConversionSample = parseSample("baseVaultConversionSample", c.BaseVaultConversionSample)
	cfg.BaseFeed1 = parseLeg("baseFeed1", c.BaseFeed1)
	cfg.BaseFeed2 = parseLeg("baseFeed2", c.BaseFeed2)
	cfg.BaseTokenDecimals = c.BaseTokenDecimals
	cfg.QuoteVault = parseLeg("quoteVault", c.QuoteVault)
	cfg.QuoteVaultConversionSample = parseSample("quoteVaultConversionSample", c.QuoteVaultConversionSample)
	cfg.QuoteFeed1 = parseLeg("quoteFeed1", c.QuoteFeed1)
	cfg.QuoteFeed2 = parseLeg("quoteFeed2", c.QuoteFeed2)
	cfg.QuoteTokenDecimals = c.QuoteTokenDecimals
	if salt := strings.TrimSpace(c.Salt); salt != "" {
		if !isHex(salt) || len(strings.TrimPrefix(salt, "0x")) > 64 {
			errs = append(errs, fmt.Errorf("salt: invalid bytes32 %q", salt))
		} else {
			cfg.Salt = common.HexToHash(salt)
		}
	}
	if len(errs) > 0 {
		return oracle.Configuration{}, fmt.Errorf("%w: %w", errBadRequest, errors.Join(errs...))
	}
	return cfg, nil
}

func isHex(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

type assetJSON struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

func (a assetJSON) toAsset(field string) (oracle.Asset, error) {
	asset := oracle.Asset{Symbol: strings.TrimSpace(a.Symbol)}
	if raw := strings.TrimSpace(a.Address); raw != "" {
		if !common.IsHexAddress(raw) {
			return oracle.Asset{}, fmt.Errorf("%w: %s.address invalid", errBadRequest, field)
		}
		asset.Address = common.HexToAddress(raw)
	}
	if asset.Symbol == "" && !asset.HasAddress() {
		return oracle.Asset{}, fmt.Errorf("%w: %s requires a symbol or an address", errBadRequest, field)
	}
	return asset, nil
}

type verificationRequest struct {
	Session          string            `json:"session"`
	ChainID          uint64            `json:"chainId"`
	Collateral       assetJSON         `json:"collateral"`
	Loan             assetJSON         `json:"loan"`
	ThresholdPercent string            `json:"thresholdPercent"`
	Configuration    configurationJSON `json:"configuration"`
}

func (v verificationRequest) threshold() (*math.LegacyDec, error) {
	raw := strings.TrimSpace(v.ThresholdPercent)
	if raw == "" {
		return nil, nil
	}
	dec, err := math.LegacyNewDecFromStr(raw)
	if err != nil || !dec.IsPositive() {
		return nil, fmt.Errorf("%w: thresholdPercent must be a positive decimal", errBadRequest)
	}
	return &dec, nil
}

type payloadRequest struct {
	ChainID       uint64            `json:"chainId"`
	Safe          string            `json:"safe"`
	Configuration configurationJSON `json:"configuration"`
}

type errorBody struct {
	Error string             `json:"error"`
	Kinds []oracle.ErrorKind `json:"kinds,omitempty"`
}
