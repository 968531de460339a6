// Package decoder extracts oracle configurations from the calldata of the
// transaction that created them.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"oraclecheck/chain"
	"oraclecheck/oracle"
)

var (
	// ErrNoConfiguration is returned when the input carries no decodable
	// createMorphoChainlinkOracleV2 call.
	ErrNoConfiguration = errors.New("no oracle configuration in calldata")
	// ErrMalformed marks a call that matched the selector but could not be decoded.
	ErrMalformed = errors.New("malformed oracle calldata")
)

const (
	wordSize  = 32
	argWords  = 11
	argsBytes = argWords * wordSize
	// Length of the ABI-encoded call: selector plus eleven static words.
	callLength = 4 + argsBytes
)

// Selector is the 4-byte id of createMorphoChainlinkOracleV2.
var Selector = [4]byte{0xb3, 0x2c, 0xdd, 0xf4}

// relayMarker precedes the selector when the call is nested in a Safe
// execTransaction or multiSend payload: the low bytes of the 0x164 length word.
var relayMarker = []byte{0x01, 0x64}

// Decode returns every configuration found in input. A direct factory call
// yields exactly one; relayed calls may yield several. Segments that match
// the selector but fail validation are skipped.
func Decode(input []byte) ([]oracle.Configuration, error) {
	if bytes.HasPrefix(input, Selector[:]) {
		cfg, err := decodeArgs(input[4:])
		if err != nil {
			return nil, err
		}
		return []oracle.Configuration{cfg}, nil
	}

	var (
		out     []oracle.Configuration
		lastErr error
	)
	for _, segment := range relayedSegments(input) {
		cfg, err := decodeArgs(segment)
		if err != nil {
			lastErr = err
			continue
		}
		out = append(out, cfg)
	}
	if len(out) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoConfiguration, lastErr)
		}
		return nil, ErrNoConfiguration
	}
	return out, nil
}

func relayedSegments(input []byte) [][]byte {
	var segments [][]byte
	for offset := 0; offset < len(input); {
		idx := bytes.Index(input[offset:], Selector[:])
		if idx < 0 {
			break
		}
		start := offset + idx
		offset = start + 1
		if start < len(relayMarker) || !bytes.Equal(input[start-len(relayMarker):start], relayMarker) {
			continue
		}
		if start+callLength > len(input) {
			continue
		}
		segments = append(segments, input[start+4:start+callLength])
	}
	return segments
}

func decodeArgs(data []byte) (oracle.Configuration, error) {
	if len(data) < argsBytes {
		return oracle.Configuration{}, fmt.Errorf("%w: %d bytes of arguments, want %d", ErrMalformed, len(data), argsBytes)
	}
	data = data[:argsBytes]
	for _, idx := range []int{0, 2, 3, 5, 7, 8} {
		word := data[idx*wordSize : (idx+1)*wordSize]
		if !allZero(word[:12]) {
			return oracle.Configuration{}, fmt.Errorf("%w: argument %d is not an address", ErrMalformed, idx)
		}
	}

	method := chain.OracleFactoryABI.Methods[chain.CreateOracleMethod]
	values, err := method.Inputs.Unpack(data)
	if err != nil {
		return oracle.Configuration{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(values) != argWords {
		return oracle.Configuration{}, fmt.Errorf("%w: %d arguments", ErrMalformed, len(values))
	}

	var (
		cfg  oracle.Configuration
		errs []error
	)
	addr := func(i int) oracle.Leg {
		a, ok := values[i].(common.Address)
		if !ok {
			errs = append(errs, fmt.Errorf("argument %d: unexpected type %T", i, values[i]))
		}
		return oracle.LegFromAddress(a)
	}
	sample := func(i int) *uint256.Int {
		v, ok := values[i].(*big.Int)
		if !ok {
			errs = append(errs, fmt.Errorf("argument %d: unexpected type %T", i, values[i]))
			return nil
		}
		out, _ := uint256.FromBig(v)
		return out
	}
	decimals := func(i int) uint8 {
		v, ok := values[i].(*big.Int)
		if !ok || !v.IsUint64() || v.Uint64() > 255 {
			errs = append(errs, fmt.Errorf("argument %d: token decimals out of range", i))
			return 0
		}
		return uint8(v.Uint64())
	}

	cfg.BaseVault = addr(0)
	cfg.BaseVaultConversionSample = sample(1)
	cfg.BaseFeed1 = addr(2)
	cfg.BaseFeed2 = addr(3)
	cfg.BaseTokenDecimals = decimals(4)
	cfg.QuoteVault = addr(5)
	cfg.QuoteVaultConversionSample = sample(6)
	cfg.QuoteFeed1 = addr(7)
	cfg.QuoteFeed2 = addr(8)
	cfg.QuoteTokenDecimals = decimals(9)
	salt, ok := values[10].([32]byte)
	if !ok {
		errs = append(errs, fmt.Errorf("argument 10: unexpected type %T", values[10]))
	}
	cfg.Salt = common.Hash(salt)
	if len(errs) > 0 {
		return oracle.Configuration{}, fmt.Errorf("%w: %w", ErrMalformed, errors.Join(errs...))
	}
	return cfg, nil
}

// Encode packs cfg as a createMorphoChainlinkOracleV2 call.
func Encode(cfg oracle.Configuration) ([]byte, error) {
	return chain.OracleFactoryABI.Pack(chain.CreateOracleMethod,
		cfg.BaseVault.Raw(),
		cfg.BaseSample().ToBig(),
		cfg.BaseFeed1.Raw(),
		cfg.BaseFeed2.Raw(),
		new(big.Int).SetUint64(uint64(cfg.BaseTokenDecimals)),
		cfg.QuoteVault.Raw(),
		cfg.QuoteSample().ToBig(),
		cfg.QuoteFeed1.Raw(),
		cfg.QuoteFeed2.Raw(),
		new(big.Int).SetUint64(uint64(cfg.QuoteTokenDecimals)),
		[32]byte(cfg.Salt),
	)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
