// Package payload builds Safe Transaction Builder batches that deploy an
// oracle through the factory.
package payload

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"oraclecheck/chain"
	"oraclecheck/decoder"
	"oraclecheck/oracle"
)

// TxBuilderVersion is the Safe Transaction Builder version stamped on batches.
const TxBuilderVersion = "1.16.3"

// ErrInvalidSafe is returned when the Safe address is missing.
var ErrInvalidSafe = errors.New("safe address required")

// Batch is the JSON document imported by the Safe Transaction Builder.
type Batch struct {
	Version      string        `json:"version"`
	ChainID      string        `json:"chainId"`
	CreatedAt    int64         `json:"createdAt"`
	Meta         Meta          `json:"meta"`
	Transactions []Transaction `json:"transactions"`
}

// Meta describes the batch.
type Meta struct {
	Name                   string `json:"name"`
	Description            string `json:"description"`
	TxBuilderVersion       string `json:"txBuilderVersion"`
	CreatedFromSafeAddress string `json:"createdFromSafeAddress"`
}

// Transaction is a single call in the batch.
type Transaction struct {
	To    string        `json:"to"`
	Value string        `json:"value"`
	Data  hexutil.Bytes `json:"data"`
}

// Option customises SafeBatch.
type Option func(*options)

type options struct {
	now  func() time.Time
	name string
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithName sets the batch name.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// SafeBatch encodes cfg as a createMorphoChainlinkOracleV2 call on the
// chain's oracle factory, wrapped for execution by safe.
func SafeBatch(cfg oracle.Configuration, chainID uint64, safe common.Address, opts ...Option) (Batch, error) {
	o := options{now: time.Now, name: "Transactions Batch"}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if safe == (common.Address{}) {
		return Batch{}, ErrInvalidSafe
	}
	network, err := chain.LookupNetwork(chainID)
	if err != nil {
		return Batch{}, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return Batch{}, errors.Join(errs...)
	}
	data, err := decoder.Encode(cfg)
	if err != nil {
		return Batch{}, fmt.Errorf("encode factory call: %w", err)
	}
	return Batch{
		Version:   "1.0",
		ChainID:   strconv.FormatUint(chainID, 10),
		CreatedAt: o.now().UnixMilli(),
		Meta: Meta{
			Name:                   o.name,
			TxBuilderVersion:       TxBuilderVersion,
			CreatedFromSafeAddress: safe.Hex(),
		},
		Transactions: []Transaction{{
			To:    network.OracleFactory.Hex(),
			Value: "0",
			Data:  data,
		}},
	}, nil
}
