package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"oraclecheck/pricing"
)

// Reader reads live feed and vault state through a BatchCaller.
type Reader struct {
	caller BatchCaller
}

// NewReader constructs a Reader.
func NewReader(caller BatchCaller) *Reader {
	return &Reader{caller: caller}
}

// Snapshot implements pricing.LiveReader. Every feed contributes decimals()
// and latestRoundData(), every vault convertToAssets(shares); all of them go
// out in a single batch.
func (r *Reader) Snapshot(ctx context.Context, chainID uint64, feeds []common.Address, vaults []pricing.VaultQuery) (pricing.Snapshot, error) {
	if r == nil || r.caller == nil {
		return pricing.Snapshot{}, fmt.Errorf("chain reader not initialised")
	}
	calls := make([]Call, 0, 2*len(feeds)+len(vaults))
	for _, feed := range feeds {
		decimals, err := NewCall(AggregatorABI, feed, "decimals")
		if err != nil {
			return pricing.Snapshot{}, err
		}
		round, err := NewCall(AggregatorABI, feed, "latestRoundData")
		if err != nil {
			return pricing.Snapshot{}, err
		}
		calls = append(calls, decimals, round)
	}
	for _, query := range vaults {
		shares := big.NewInt(1)
		if query.Shares != nil {
			shares = query.Shares.ToBig()
		}
		convert, err := NewCall(ERC4626ABI, query.Vault, "convertToAssets", shares)
		if err != nil {
			return pricing.Snapshot{}, err
		}
		calls = append(calls, convert)
	}
	if len(calls) == 0 {
		return pricing.Snapshot{}, nil
	}

	results, err := r.caller.BatchCall(ctx, chainID, calls)
	if err != nil {
		return pricing.Snapshot{}, err
	}
	if len(results) != len(calls) {
		return pricing.Snapshot{}, fmt.Errorf("batch returned %d results for %d calls", len(results), len(calls))
	}

	snapshot := pricing.Snapshot{
		Feeds:  make([]pricing.FeedReading, len(feeds)),
		Assets: make([]*uint256.Int, len(vaults)),
	}
	for i, feed := range feeds {
		decimals, err := results[2*i].Unpack(AggregatorABI, "decimals")
		if err != nil {
			return pricing.Snapshot{}, fmt.Errorf("feed %s decimals: %w", feed.Hex(), err)
		}
		round, err := results[2*i+1].Unpack(AggregatorABI, "latestRoundData")
		if err != nil {
			return pricing.Snapshot{}, fmt.Errorf("feed %s latestRoundData: %w", feed.Hex(), err)
		}
		dec, ok := decimals[0].(uint8)
		if !ok {
			return pricing.Snapshot{}, fmt.Errorf("feed %s decimals: unexpected type %T", feed.Hex(), decimals[0])
		}
		if len(round) < 2 {
			return pricing.Snapshot{}, fmt.Errorf("feed %s latestRoundData: short result", feed.Hex())
		}
		answer, ok := round[1].(*big.Int)
		if !ok {
			return pricing.Snapshot{}, fmt.Errorf("feed %s answer: unexpected type %T", feed.Hex(), round[1])
		}
		snapshot.Feeds[i] = pricing.FeedReading{Decimals: dec, Answer: answer}
	}
	offset := 2 * len(feeds)
	for i, query := range vaults {
		values, err := results[offset+i].Unpack(ERC4626ABI, "convertToAssets")
		if err != nil {
			return pricing.Snapshot{}, fmt.Errorf("vault %s convertToAssets: %w", query.Vault.Hex(), err)
		}
		assets, ok := values[0].(*big.Int)
		if !ok {
			return pricing.Snapshot{}, fmt.Errorf("vault %s convertToAssets: unexpected type %T", query.Vault.Hex(), values[0])
		}
		converted, overflow := uint256.FromBig(assets)
		if overflow {
			return pricing.Snapshot{}, fmt.Errorf("vault %s convertToAssets: value overflows 256 bits", query.Vault.Hex())
		}
		snapshot.Assets[i] = converted
	}
	return snapshot, nil
}
