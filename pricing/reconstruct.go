package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"oraclecheck/oracle"
)

var (
	ErrScaleFactor    = errors.New("scale factor out of range")
	ErrPriceOverflow  = errors.New("price overflows 256 bits")
	ErrDivisionByZero = errors.New("division by zero")
	ErrNegativeAnswer = errors.New("negative feed answer")
	ErrPriceFetch     = errors.New("fetch price inputs")

	// ErrExponentUnderflow marks a scale exponent below zero. It is a
	// configuration error rather than a read failure.
	ErrExponentUnderflow = fmt.Errorf("%w: decimals exponent underflow", oracle.ErrInvalidConfiguration)
)

// maxScaleExponent is the largest power of ten that fits in 256 bits.
const maxScaleExponent = 77

// FeedReading is the live state of one aggregator feed.
type FeedReading struct {
	Decimals uint8
	Answer   *big.Int
}

// VaultQuery asks for convertToAssets(Shares) on Vault.
type VaultQuery struct {
	Vault  common.Address
	Shares *uint256.Int
}

// Snapshot is the reader's answer; Feeds and Assets are aligned with the
// requested feeds and vault queries.
type Snapshot struct {
	Feeds  []FeedReading
	Assets []*uint256.Int
}

// LiveReader reads feed and vault state in one batched round-trip.
type LiveReader interface {
	Snapshot(ctx context.Context, chainID uint64, feeds []common.Address, vaults []VaultQuery) (Snapshot, error)
}

// FeedValue records the value a configured feed contributed.
type FeedValue struct {
	Position oracle.Position `json:"position"`
	Address  common.Address  `json:"address"`
	Decimals uint8           `json:"decimals"`
	Answer   *uint256.Int    `json:"answer"`
}

// VaultValue records the value a configured vault contributed.
type VaultValue struct {
	Position oracle.Position `json:"position"`
	Address  common.Address  `json:"address"`
	Sample   *uint256.Int    `json:"sample"`
	Assets   *uint256.Int    `json:"assets"`
}

// PriceResult is the reconstructed oracle output.
type PriceResult struct {
	ScaleFactor *uint256.Int `json:"scaleFactor"`
	Price       *uint256.Int `json:"price"`
	Feeds       []FeedValue  `json:"feeds"`
	Vaults      []VaultValue `json:"vaults"`
}

var feedPositions = [4]oracle.Position{
	oracle.PositionBase1,
	oracle.PositionBase2,
	oracle.PositionQuote1,
	oracle.PositionQuote2,
}

func legAt(cfg oracle.Configuration, pos oracle.Position) oracle.Leg {
	switch pos {
	case oracle.PositionBase1:
		return cfg.BaseFeed1
	case oracle.PositionBase2:
		return cfg.BaseFeed2
	case oracle.PositionQuote1:
		return cfg.QuoteFeed1
	case oracle.PositionQuote2:
		return cfg.QuoteFeed2
	case oracle.PositionBaseVault:
		return cfg.BaseVault
	case oracle.PositionQuoteVault:
		return cfg.QuoteVault
	}
	return oracle.Absent()
}

// Reconstruct reads live state for cfg and recomputes the price the deployed
// oracle would report. A read failure yields ErrPriceFetch and no result.
func Reconstruct(ctx context.Context, chainID uint64, cfg oracle.Configuration, reader LiveReader) (PriceResult, error) {
	if reader == nil {
		return PriceResult{}, fmt.Errorf("%w: no reader", ErrPriceFetch)
	}
	var (
		feedAddrs []common.Address
		feedPos   []oracle.Position
		queries   []VaultQuery
		vaultPos  []oracle.Position
	)
	for _, pos := range feedPositions {
		if addr, ok := legAt(cfg, pos).Address(); ok {
			feedAddrs = append(feedAddrs, addr)
			feedPos = append(feedPos, pos)
		}
	}
	if addr, ok := cfg.BaseVault.Address(); ok {
		queries = append(queries, VaultQuery{Vault: addr, Shares: cfg.BaseSample()})
		vaultPos = append(vaultPos, oracle.PositionBaseVault)
	}
	if addr, ok := cfg.QuoteVault.Address(); ok {
		queries = append(queries, VaultQuery{Vault: addr, Shares: cfg.QuoteSample()})
		vaultPos = append(vaultPos, oracle.PositionQuoteVault)
	}

	feeds := make(map[oracle.Position]FeedReading, len(feedPos))
	assets := make(map[oracle.Position]*uint256.Int, len(vaultPos))
	if len(feedAddrs) > 0 || len(queries) > 0 {
		snapshot, err := reader.Snapshot(ctx, chainID, feedAddrs, queries)
		if err != nil {
			return PriceResult{}, fmt.Errorf("%w: %w", ErrPriceFetch, err)
		}
		if len(snapshot.Feeds) != len(feedAddrs) || len(snapshot.Assets) != len(queries) {
			return PriceResult{}, fmt.Errorf("%w: incomplete snapshot", ErrPriceFetch)
		}
		for i, pos := range feedPos {
			feeds[pos] = snapshot.Feeds[i]
		}
		for i, pos := range vaultPos {
			assets[pos] = snapshot.Assets[i]
		}
	}
	return Compute(cfg, feeds, assets)
}

// Compute derives the scale factor and price from already-read values. feeds
// must hold a reading for every configured feed and assets for every
// configured vault.
func Compute(cfg oracle.Configuration, feeds map[oracle.Position]FeedReading, assets map[oracle.Position]*uint256.Int) (PriceResult, error) {
	result := PriceResult{}
	decimals := make(map[oracle.Position]uint8, len(feedPositions))
	answers := make(map[oracle.Position]*uint256.Int, len(feedPositions))
	for _, pos := range feedPositions {
		addr, ok := legAt(cfg, pos).Address()
		if !ok {
			answers[pos] = uint256.NewInt(1)
			continue
		}
		reading, ok := feeds[pos]
		if !ok || reading.Answer == nil {
			return PriceResult{}, fmt.Errorf("%w: missing reading for %s", ErrPriceFetch, pos)
		}
		if reading.Answer.Sign() < 0 {
			return PriceResult{}, fmt.Errorf("%w: %s answered %s", ErrNegativeAnswer, pos, reading.Answer)
		}
		answer, overflow := uint256.FromBig(reading.Answer)
		if overflow {
			return PriceResult{}, fmt.Errorf("%w: %s answer", ErrPriceOverflow, pos)
		}
		decimals[pos] = reading.Decimals
		answers[pos] = answer
		result.Feeds = append(result.Feeds, FeedValue{Position: pos, Address: addr, Decimals: reading.Decimals, Answer: answer})
	}

	baseAssets, err := vaultAssets(cfg, oracle.PositionBaseVault, cfg.BaseSample(), assets, &result)
	if err != nil {
		return PriceResult{}, err
	}
	quoteAssets, err := vaultAssets(cfg, oracle.PositionQuoteVault, cfg.QuoteSample(), assets, &result)
	if err != nil {
		return PriceResult{}, err
	}

	scale, err := ScaleFactor(cfg, decimals)
	if err != nil {
		return PriceResult{}, err
	}
	price, err := Price(scale,
		[3]*uint256.Int{baseAssets, answers[oracle.PositionBase1], answers[oracle.PositionBase2]},
		[3]*uint256.Int{quoteAssets, answers[oracle.PositionQuote1], answers[oracle.PositionQuote2]},
	)
	if err != nil {
		return PriceResult{}, err
	}
	result.ScaleFactor = scale
	result.Price = price
	return result, nil
}

func vaultAssets(cfg oracle.Configuration, pos oracle.Position, sample *uint256.Int, assets map[oracle.Position]*uint256.Int, result *PriceResult) (*uint256.Int, error) {
	addr, ok := legAt(cfg, pos).Address()
	if !ok {
		return sample, nil
	}
	value, ok := assets[pos]
	if !ok || value == nil {
		return nil, fmt.Errorf("%w: missing assets for %s", ErrPriceFetch, pos)
	}
	result.Vaults = append(result.Vaults, VaultValue{Position: pos, Address: addr, Sample: sample, Assets: value})
	return value, nil
}

// ScaleFactor computes 10^(36 + qd + qf1d + qf2d - bd - bf1d - bf2d) *
// quoteSample / baseSample. The multiplication happens before the truncating
// division. decimals holds the decimals of configured feeds; absent feeds
// count as zero.
func ScaleFactor(cfg oracle.Configuration, decimals map[oracle.Position]uint8) (*uint256.Int, error) {
	exp := oracle.ScaleExponentBase +
		int(cfg.QuoteTokenDecimals) +
		int(decimals[oracle.PositionQuote1]) +
		int(decimals[oracle.PositionQuote2]) -
		int(cfg.BaseTokenDecimals) -
		int(decimals[oracle.PositionBase1]) -
		int(decimals[oracle.PositionBase2])
	if exp < 0 {
		return nil, fmt.Errorf("%w: %w: exponent %d", ErrScaleFactor, ErrExponentUnderflow, exp)
	}
	if exp > maxScaleExponent {
		return nil, fmt.Errorf("%w: exponent %d", ErrScaleFactor, exp)
	}
	baseSample := cfg.BaseSample()
	if baseSample.IsZero() {
		return nil, fmt.Errorf("%w: %w: base vault conversion sample", ErrScaleFactor, ErrDivisionByZero)
	}
	pow := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(exp)))
	scaled, overflow := new(uint256.Int).MulOverflow(pow, cfg.QuoteSample())
	if overflow {
		return nil, fmt.Errorf("%w: 10^%d * quote sample overflows", ErrScaleFactor, exp)
	}
	return scaled.Div(scaled, baseSample), nil
}

// Price computes scale * (base[0]*base[1]*base[2]) / (quote[0]*quote[1]*quote[2])
// rounding down, with a 512-bit intermediate for the final mul-div. The
// partial products are checked like the on-chain multiplication is.
func Price(scale *uint256.Int, base, quote [3]*uint256.Int) (*uint256.Int, error) {
	numerator, err := checkedProduct(base)
	if err != nil {
		return nil, fmt.Errorf("numerator: %w", err)
	}
	denominator, err := checkedProduct(quote)
	if err != nil {
		return nil, fmt.Errorf("denominator: %w", err)
	}
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	price, overflow := new(uint256.Int).MulDivOverflow(scale, numerator, denominator)
	if overflow {
		return nil, ErrPriceOverflow
	}
	return price, nil
}

func checkedProduct(values [3]*uint256.Int) (*uint256.Int, error) {
	out := uint256.NewInt(1)
	for _, v := range values {
		if v == nil {
			continue
		}
		var overflow bool
		out, overflow = new(uint256.Int).MulOverflow(out, v)
		if overflow {
			return nil, ErrPriceOverflow
		}
	}
	return out, nil
}
