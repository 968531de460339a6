package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"oraclecheck/observability"
)

// ErrNoClient is returned when no RPC endpoint is configured for a chain.
var ErrNoClient = errors.New("no rpc client for chain")

// Call is a single read-only contract call.
type Call struct {
	To   common.Address
	Data []byte
}

// NewCall packs method and args against contract into a Call.
func NewCall(contract abi.ABI, to common.Address, method string, args ...any) (Call, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return Call{To: to, Data: data}, nil
}

// CallResult holds the outcome of one call in a batch. Err is set when the
// node rejected or reverted that call; the rest of the batch is unaffected.
type CallResult struct {
	Data []byte
	Err  error
}

// Unpack decodes the result of method. It fails when the call itself failed or
// returned no data.
func (r CallResult) Unpack(contract abi.ABI, method string) ([]any, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if len(r.Data) == 0 {
		return nil, fmt.Errorf("%s: empty return data", method)
	}
	values, err := contract.Unpack(method, r.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// BatchCaller executes a set of eth_calls in one round-trip.
type BatchCaller interface {
	BatchCall(ctx context.Context, chainID uint64, calls []Call) ([]CallResult, error)
}

// BatchClient is the subset of the go-ethereum RPC client used for batching.
type BatchClient interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// RPCCaller implements BatchCaller over JSON-RPC batch requests.
type RPCCaller struct {
	clients map[uint64]BatchClient
	logger  *slog.Logger
}

// NewRPCCaller wraps per-chain batch clients.
func NewRPCCaller(clients map[uint64]BatchClient, logger *slog.Logger) *RPCCaller {
	if logger == nil {
		logger = slog.Default()
	}
	copied := make(map[uint64]BatchClient, len(clients))
	for id, client := range clients {
		copied[id] = client
	}
	return &RPCCaller{clients: copied, logger: logger}
}

// BatchCall issues calls against the latest block. The returned slice is
// aligned with calls.
func (c *RPCCaller) BatchCall(ctx context.Context, chainID uint64, calls []Call) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	client, ok := c.clients[chainID]
	if !ok || client == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoClient, chainID)
	}
	outputs := make([]hexutil.Bytes, len(calls))
	elems := make([]rpc.BatchElem, len(calls))
	for i, call := range calls {
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []any{
				map[string]any{
					"to":   call.To,
					"data": hexutil.Bytes(call.Data),
				},
				"latest",
			},
			Result: &outputs[i],
		}
	}
	err := client.BatchCallContext(ctx, elems)
	observability.Verifier().RecordRPCBatch(chainID, len(calls), err)
	if err != nil {
		return nil, fmt.Errorf("eth_call batch: %w", err)
	}
	results := make([]CallResult, len(calls))
	for i := range elems {
		if elems[i].Error != nil {
			results[i] = CallResult{Err: elems[i].Error}
			continue
		}
		results[i] = CallResult{Data: outputs[i]}
	}
	c.logger.Debug("eth_call batch completed", slog.Uint64("chain_id", chainID), slog.Int("calls", len(calls)))
	return results, nil
}

// Clients owns the dialed RPC connections per chain.
type Clients struct {
	rpc map[uint64]*rpc.Client
	eth map[uint64]*ethclient.Client
}

// Dial connects to every endpoint. Blank endpoints are skipped.
func Dial(ctx context.Context, endpoints map[uint64]string) (*Clients, error) {
	clients := &Clients{
		rpc: make(map[uint64]*rpc.Client, len(endpoints)),
		eth: make(map[uint64]*ethclient.Client, len(endpoints)),
	}
	for chainID, endpoint := range endpoints {
		trimmed := strings.TrimSpace(endpoint)
		if trimmed == "" {
			continue
		}
		rc, err := rpc.DialContext(ctx, trimmed)
		if err != nil {
			clients.Close()
			return nil, fmt.Errorf("dial chain %d: %w", chainID, err)
		}
		clients.rpc[chainID] = rc
		clients.eth[chainID] = ethclient.NewClient(rc)
	}
	return clients, nil
}

// Caller returns a batch caller over every dialed chain.
func (c *Clients) Caller(logger *slog.Logger) *RPCCaller {
	batch := make(map[uint64]BatchClient, len(c.rpc))
	for id, client := range c.rpc {
		batch[id] = client
	}
	return NewRPCCaller(batch, logger)
}

// LogClients returns the log and transaction clients keyed by chain.
func (c *Clients) LogClients() map[uint64]LogClient {
	out := make(map[uint64]LogClient, len(c.eth))
	for id, client := range c.eth {
		out[id] = client
	}
	return out
}

// Chains reports the dialed chain ids.
func (c *Clients) Chains() []uint64 {
	out := make([]uint64, 0, len(c.rpc))
	for id := range c.rpc {
		out = append(out, id)
	}
	return out
}

// Close releases every connection.
func (c *Clients) Close() {
	if c == nil {
		return
	}
	for _, client := range c.rpc {
		client.Close()
	}
}
