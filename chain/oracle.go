package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"oraclecheck/oracle"
)

var oracleAddressGetters = []string{
	"BASE_VAULT", "BASE_FEED_1", "BASE_FEED_2",
	"QUOTE_VAULT", "QUOTE_FEED_1", "QUOTE_FEED_2",
}

var oracleUintGetters = []string{
	"BASE_VAULT_CONVERSION_SAMPLE", "QUOTE_VAULT_CONVERSION_SAMPLE", "SCALE_FACTOR", "price",
}

// OracleState is what a deployed oracle reports through its immutable
// getters. Price is nil when price() reverts, which happens for feeds that
// are stale or negative.
type OracleState struct {
	BaseVault                  common.Address `json:"baseVault"`
	BaseFeed1                  common.Address `json:"baseFeed1"`
	BaseFeed2                  common.Address `json:"baseFeed2"`
	QuoteVault                 common.Address `json:"quoteVault"`
	QuoteFeed1                 common.Address `json:"quoteFeed1"`
	QuoteFeed2                 common.Address `json:"quoteFeed2"`
	BaseVaultConversionSample  *uint256.Int   `json:"baseVaultConversionSample"`
	QuoteVaultConversionSample *uint256.Int   `json:"quoteVaultConversionSample"`
	ScaleFactor                *uint256.Int   `json:"scaleFactor"`
	Price                      *uint256.Int   `json:"price,omitempty"`
}

// OracleState reads every getter of the oracle at addr in one batch.
func (r *Reader) OracleState(ctx context.Context, chainID uint64, addr common.Address) (OracleState, error) {
	if r == nil || r.caller == nil {
		return OracleState{}, fmt.Errorf("chain reader not initialised")
	}
	methods := append(append([]string(nil), oracleAddressGetters...), oracleUintGetters...)
	calls := make([]Call, 0, len(methods))
	for _, method := range methods {
		call, err := NewCall(OracleABI, addr, method)
		if err != nil {
			return OracleState{}, err
		}
		calls = append(calls, call)
	}
	results, err := r.caller.BatchCall(ctx, chainID, calls)
	if err != nil {
		return OracleState{}, err
	}
	if len(results) != len(calls) {
		return OracleState{}, fmt.Errorf("batch returned %d results for %d calls", len(results), len(calls))
	}

	addrs := make(map[string]common.Address, len(oracleAddressGetters))
	for i, method := range oracleAddressGetters {
		values, err := results[i].Unpack(OracleABI, method)
		if err != nil {
			return OracleState{}, fmt.Errorf("oracle %s %s: %w", addr.Hex(), method, err)
		}
		value, ok := values[0].(common.Address)
		if !ok {
			return OracleState{}, fmt.Errorf("oracle %s %s: unexpected type %T", addr.Hex(), method, values[0])
		}
		addrs[method] = value
	}
	uints := make(map[string]*uint256.Int, len(oracleUintGetters))
	offset := len(oracleAddressGetters)
	for i, method := range oracleUintGetters {
		values, err := results[offset+i].Unpack(OracleABI, method)
		if err != nil {
			if method == "price" {
				continue
			}
			return OracleState{}, fmt.Errorf("oracle %s %s: %w", addr.Hex(), method, err)
		}
		value, ok := values[0].(*big.Int)
		if !ok {
			return OracleState{}, fmt.Errorf("oracle %s %s: unexpected type %T", addr.Hex(), method, values[0])
		}
		converted, overflow := uint256.FromBig(value)
		if overflow {
			return OracleState{}, fmt.Errorf("oracle %s %s: value overflows 256 bits", addr.Hex(), method)
		}
		uints[method] = converted
	}

	return OracleState{
		BaseVault:                  addrs["BASE_VAULT"],
		BaseFeed1:                  addrs["BASE_FEED_1"],
		BaseFeed2:                  addrs["BASE_FEED_2"],
		QuoteVault:                 addrs["QUOTE_VAULT"],
		QuoteFeed1:                 addrs["QUOTE_FEED_1"],
		QuoteFeed2:                 addrs["QUOTE_FEED_2"],
		BaseVaultConversionSample:  uints["BASE_VAULT_CONVERSION_SAMPLE"],
		QuoteVaultConversionSample: uints["QUOTE_VAULT_CONVERSION_SAMPLE"],
		ScaleFactor:                uints["SCALE_FACTOR"],
		Price:                      uints["price"],
	}, nil
}

// Matches reports whether cfg could have produced this oracle. Token
// decimals are only visible through the scale factor and are not compared.
func (s OracleState) Matches(cfg oracle.Configuration) bool {
	return s.BaseVault == cfg.BaseVault.Raw() &&
		s.BaseFeed1 == cfg.BaseFeed1.Raw() &&
		s.BaseFeed2 == cfg.BaseFeed2.Raw() &&
		s.QuoteVault == cfg.QuoteVault.Raw() &&
		s.QuoteFeed1 == cfg.QuoteFeed1.Raw() &&
		s.QuoteFeed2 == cfg.QuoteFeed2.Raw() &&
		sampleEq(s.BaseVaultConversionSample, cfg.BaseSample()) &&
		sampleEq(s.QuoteVaultConversionSample, cfg.QuoteSample())
}

func sampleEq(onChain, configured *uint256.Int) bool {
	if onChain == nil {
		return true
	}
	return onChain.Eq(configured)
}
