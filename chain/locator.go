package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ErrCreationNotFound is returned when no factory event names the oracle.
var ErrCreationNotFound = errors.New("oracle creation transaction not found")

// DefaultLogChunk bounds the block range of a single eth_getLogs request.
const DefaultLogChunk uint64 = 50_000

// LogClient is the subset of ethclient.Client used to locate creations.
type LogClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
}

// Creation is one CreateMorphoChainlinkOracleV2 event.
type Creation struct {
	ChainID     uint64         `json:"chainId"`
	Oracle      common.Address `json:"oracle"`
	Caller      common.Address `json:"caller"`
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
}

// LocatorOption customises a Locator.
type LocatorOption func(*Locator)

// WithLogChunk overrides the eth_getLogs block window.
func WithLogChunk(blocks uint64) LocatorOption {
	return func(l *Locator) {
		if blocks > 0 {
			l.chunk = blocks
		}
	}
}

// WithLocatorLogger sets the logger.
func WithLocatorLogger(logger *slog.Logger) LocatorOption {
	return func(l *Locator) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Locator finds oracle creation transactions from factory events.
type Locator struct {
	clients map[uint64]LogClient
	chunk   uint64
	logger  *slog.Logger
}

// NewLocator constructs a Locator over per-chain log clients.
func NewLocator(clients map[uint64]LogClient, opts ...LocatorOption) *Locator {
	l := &Locator{
		clients: make(map[uint64]LogClient, len(clients)),
		chunk:   DefaultLogChunk,
		logger:  slog.Default(),
	}
	for id, client := range clients {
		l.clients[id] = client
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *Locator) client(chainID uint64) (LogClient, error) {
	client, ok := l.clients[chainID]
	if !ok || client == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoClient, chainID)
	}
	return client, nil
}

// Head returns the latest block number on chainID.
func (l *Locator) Head(ctx context.Context, chainID uint64) (uint64, error) {
	client, err := l.client(chainID)
	if err != nil {
		return 0, err
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return head, nil
}

// Scan returns every creation event in [from, to], in chain order.
func (l *Locator) Scan(ctx context.Context, chainID, from, to uint64) ([]Creation, error) {
	var out []Creation
	err := l.scan(ctx, chainID, from, to, func(c Creation) bool {
		out = append(out, c)
		return true
	})
	return out, err
}

// CreationTx returns the creation event of oracle, scanning from the
// factory's deployment block to the current head.
func (l *Locator) CreationTx(ctx context.Context, chainID uint64, oracle common.Address) (Creation, error) {
	network, err := LookupNetwork(chainID)
	if err != nil {
		return Creation{}, err
	}
	head, err := l.Head(ctx, chainID)
	if err != nil {
		return Creation{}, err
	}
	var found *Creation
	err = l.scan(ctx, chainID, network.StartBlock, head, func(c Creation) bool {
		if c.Oracle == oracle {
			found = &c
			return false
		}
		return true
	})
	if err != nil {
		return Creation{}, err
	}
	if found == nil {
		return Creation{}, fmt.Errorf("%w: %s", ErrCreationNotFound, oracle.Hex())
	}
	return *found, nil
}

// TransactionInput returns the calldata of hash.
func (l *Locator) TransactionInput(ctx context.Context, chainID uint64, hash common.Hash) ([]byte, error) {
	client, err := l.client(chainID)
	if err != nil {
		return nil, err
	}
	tx, _, err := client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("transaction %s not found", hash.Hex())
		}
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s missing", hash.Hex())
	}
	return tx.Data(), nil
}

func (l *Locator) scan(ctx context.Context, chainID, from, to uint64, visit func(Creation) bool) error {
	network, err := LookupNetwork(chainID)
	if err != nil {
		return err
	}
	client, err := l.client(chainID)
	if err != nil {
		return err
	}
	event, ok := OracleFactoryABI.Events[CreateOracleEvent]
	if !ok {
		return fmt.Errorf("factory abi missing %s", CreateOracleEvent)
	}
	for start := from; start <= to; start += l.chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + l.chunk - 1
		if end > to || end < start {
			end = to
		}
		logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{network.OracleFactory},
			Topics:    [][]common.Hash{{event.ID}},
		})
		if err != nil {
			return fmt.Errorf("filter logs %d-%d: %w", start, end, err)
		}
		for _, entry := range logs {
			creation, err := decodeCreation(chainID, entry)
			if err != nil {
				l.logger.Warn("skip undecodable factory log",
					slog.Uint64("chain_id", chainID),
					slog.String("tx", entry.TxHash.Hex()),
					slog.Any("error", err))
				continue
			}
			if !visit(creation) {
				return nil
			}
		}
		if end == to {
			break
		}
	}
	return nil
}

func decodeCreation(chainID uint64, entry gethtypes.Log) (Creation, error) {
	values, err := OracleFactoryABI.Unpack(CreateOracleEvent, entry.Data)
	if err != nil {
		return Creation{}, err
	}
	if len(values) != 2 {
		return Creation{}, fmt.Errorf("unexpected field count %d", len(values))
	}
	caller, ok := values[0].(common.Address)
	if !ok {
		return Creation{}, fmt.Errorf("caller: unexpected type %T", values[0])
	}
	oracle, ok := values[1].(common.Address)
	if !ok {
		return Creation{}, fmt.Errorf("oracle: unexpected type %T", values[1])
	}
	return Creation{
		ChainID:     chainID,
		Oracle:      oracle,
		Caller:      caller,
		TxHash:      entry.TxHash,
		BlockNumber: entry.BlockNumber,
	}, nil
}
