// Package deployments tracks every oracle created by the factory so new
// configurations can be checked for an existing, identical deployment.
package deployments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"

	"oraclecheck/chain"
	"oraclecheck/decoder"
	"oraclecheck/oracle"
)

// ErrNotIndexed is returned by lookups against a chain that has never been
// synced.
var ErrNotIndexed = errors.New("deployments not indexed")

// ErrConfigurationMismatch is returned when no decoded configuration agrees
// with the getters of the deployed oracle.
var ErrConfigurationMismatch = errors.New("decoded configuration does not match deployed oracle")

// Fingerprint identifies a configuration independent of its salt.
type Fingerprint [32]byte

// Hex renders the fingerprint.
func (f Fingerprint) Hex() string { return common.Bytes2Hex(f[:]) }

// FingerprintOf hashes the behaviour-relevant fields of cfg.
func FingerprintOf(cfg oracle.Configuration) Fingerprint {
	buf := make([]byte, 0, 6*common.AddressLength+2*32+2)
	buf = append(buf, cfg.BaseVault.Raw().Bytes()...)
	sample := cfg.BaseSample().Bytes32()
	buf = append(buf, sample[:]...)
	buf = append(buf, cfg.BaseFeed1.Raw().Bytes()...)
	buf = append(buf, cfg.BaseFeed2.Raw().Bytes()...)
	buf = append(buf, cfg.BaseTokenDecimals)
	buf = append(buf, cfg.QuoteVault.Raw().Bytes()...)
	sample = cfg.QuoteSample().Bytes32()
	buf = append(buf, sample[:]...)
	buf = append(buf, cfg.QuoteFeed1.Raw().Bytes()...)
	buf = append(buf, cfg.QuoteFeed2.Raw().Bytes()...)
	buf = append(buf, cfg.QuoteTokenDecimals)
	return Fingerprint(blake3.Sum256(buf))
}

// Deployment is one decoded factory deployment.
type Deployment struct {
	ChainID     uint64               `json:"chainId"`
	Oracle      common.Address       `json:"oracle"`
	Caller      common.Address       `json:"caller"`
	TxHash      common.Hash          `json:"txHash"`
	BlockNumber uint64               `json:"blockNumber"`
	Config      oracle.Configuration `json:"-"`
	Fingerprint Fingerprint          `json:"-"`
}

// Store persists deployments and the per-chain scan cursor.
type Store interface {
	SaveDeployments(ctx context.Context, chainID uint64, deployments []Deployment, cursor uint64) error
	Deployments(ctx context.Context, chainID uint64) ([]Deployment, error)
	DeploymentsByFingerprint(ctx context.Context, chainID uint64, fp Fingerprint) ([]Deployment, error)
	Cursor(ctx context.Context, chainID uint64) (uint64, bool, error)
}

// Scanner is the subset of chain.Locator the registry needs.
type Scanner interface {
	Head(ctx context.Context, chainID uint64) (uint64, error)
	Scan(ctx context.Context, chainID, from, to uint64) ([]chain.Creation, error)
	CreationTx(ctx context.Context, chainID uint64, oracle common.Address) (chain.Creation, error)
	TransactionInput(ctx context.Context, chainID uint64, hash common.Hash) ([]byte, error)
}

// OracleStateReader reads a deployed oracle's immutable parameters.
type OracleStateReader interface {
	OracleState(ctx context.Context, chainID uint64, addr common.Address) (chain.OracleState, error)
}

// Option customises a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOracleReader confirms recovered configurations against the deployed
// oracle.
func WithOracleReader(reader OracleStateReader) Option {
	return func(r *Registry) {
		r.oracles = reader
	}
}

// Registry indexes factory deployments incrementally.
type Registry struct {
	scanner Scanner
	store   Store
	oracles OracleStateReader
	logger  *slog.Logger

	// one sync per chain at a time
	mu    sync.Mutex
	syncs map[uint64]*sync.Mutex
}

// NewRegistry constructs a registry.
func NewRegistry(scanner Scanner, store Store, opts ...Option) *Registry {
	r := &Registry{
		scanner: scanner,
		store:   store,
		logger:  slog.Default(),
		syncs:   make(map[uint64]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Registry) chainLock(chainID uint64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.syncs[chainID]
	if !ok {
		lock = &sync.Mutex{}
		r.syncs[chainID] = lock
	}
	return lock
}

// Sync scans factory events from the stored cursor to the chain head and
// persists every decodable deployment. It returns the number added.
func (r *Registry) Sync(ctx context.Context, chainID uint64) (int, error) {
	lock := r.chainLock(chainID)
	lock.Lock()
	defer lock.Unlock()

	network, err := chain.LookupNetwork(chainID)
	if err != nil {
		return 0, err
	}
	from := network.StartBlock
	cursor, ok, err := r.store.Cursor(ctx, chainID)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if ok {
		from = cursor
	}
	head, err := r.scanner.Head(ctx, chainID)
	if err != nil {
		return 0, err
	}
	if head < from {
		return 0, nil
	}
	creations, err := r.scanner.Scan(ctx, chainID, from, head)
	if err != nil {
		return 0, err
	}

	var found []Deployment
	for _, group := range groupByTx(creations) {
		deployments, err := r.decodeGroup(ctx, chainID, group)
		if err != nil {
			r.logger.Warn("skip undecodable deployment",
				slog.Uint64("chain_id", chainID),
				slog.String("tx", group[0].TxHash.Hex()),
				slog.Any("error", err))
			continue
		}
		found = append(found, deployments...)
	}
	if err := r.store.SaveDeployments(ctx, chainID, found, head+1); err != nil {
		return 0, fmt.Errorf("save deployments: %w", err)
	}
	r.logger.Info("deployment index synced",
		slog.Uint64("chain_id", chainID),
		slog.Uint64("from", from),
		slog.Uint64("head", head),
		slog.Int("added", len(found)))
	return len(found), nil
}

// decodeGroup pairs the creations of one transaction with the
// configurations decoded from its calldata, in order.
func (r *Registry) decodeGroup(ctx context.Context, chainID uint64, group []chain.Creation) ([]Deployment, error) {
	input, err := r.scanner.TransactionInput(ctx, chainID, group[0].TxHash)
	if err != nil {
		return nil, err
	}
	configs, err := decoder.Decode(input)
	if err != nil {
		return nil, err
	}
	if len(configs) != len(group) {
		return nil, fmt.Errorf("decoded %d configurations for %d creations", len(configs), len(group))
	}
	out := make([]Deployment, len(group))
	for i, creation := range group {
		out[i] = Deployment{
			ChainID:     chainID,
			Oracle:      creation.Oracle,
			Caller:      creation.Caller,
			TxHash:      creation.TxHash,
			BlockNumber: creation.BlockNumber,
			Config:      configs[i],
			Fingerprint: FingerprintOf(configs[i]),
		}
	}
	return out, nil
}

func groupByTx(creations []chain.Creation) [][]chain.Creation {
	var (
		groups [][]chain.Creation
		index  = make(map[common.Hash]int)
	)
	for _, c := range creations {
		if i, ok := index[c.TxHash]; ok {
			groups[i] = append(groups[i], c)
			continue
		}
		index[c.TxHash] = len(groups)
		groups = append(groups, []chain.Creation{c})
	}
	return groups
}

// Deployed lists the indexed deployments of chainID.
func (r *Registry) Deployed(ctx context.Context, chainID uint64) ([]Deployment, error) {
	if _, ok, err := r.store.Cursor(ctx, chainID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: chain %d", ErrNotIndexed, chainID)
	}
	return r.store.Deployments(ctx, chainID)
}

// FindDuplicate returns an existing deployment that behaves exactly like cfg.
func (r *Registry) FindDuplicate(ctx context.Context, chainID uint64, cfg oracle.Configuration) (Deployment, bool, error) {
	if _, ok, err := r.store.Cursor(ctx, chainID); err != nil {
		return Deployment{}, false, err
	} else if !ok {
		return Deployment{}, false, fmt.Errorf("%w: chain %d", ErrNotIndexed, chainID)
	}
	candidates, err := r.store.DeploymentsByFingerprint(ctx, chainID, FingerprintOf(cfg))
	if err != nil {
		return Deployment{}, false, err
	}
	for _, d := range candidates {
		if d.Config.SameDeployment(cfg) {
			return d, true, nil
		}
	}
	return Deployment{}, false, nil
}

// Recovered is what Configurations found for one deployed oracle.
type Recovered struct {
	Creation       chain.Creation
	Configurations []oracle.Configuration
	// OnChain is the oracle's own view of its parameters, nil when no
	// reader is configured or the read failed.
	OnChain *chain.OracleState
}

// Configurations recovers the configuration that created oracleAddr.
// Indexed deployments are served from the store; otherwise the creation
// transaction is decoded. A relayed transaction creating several oracles is
// narrowed to the one requested by creation order and, when an oracle reader
// is set, by comparing against the deployed oracle's getters.
func (r *Registry) Configurations(ctx context.Context, chainID uint64, oracleAddr common.Address) (Recovered, error) {
	if indexed, err := r.store.Deployments(ctx, chainID); err == nil {
		for _, d := range indexed {
			if d.Oracle == oracleAddr {
				creation := chain.Creation{
					ChainID:     d.ChainID,
					Oracle:      d.Oracle,
					Caller:      d.Caller,
					TxHash:      d.TxHash,
					BlockNumber: d.BlockNumber,
				}
				return r.confirm(ctx, chainID, creation, []oracle.Configuration{d.Config})
			}
		}
	}
	creation, err := r.scanner.CreationTx(ctx, chainID, oracleAddr)
	if err != nil {
		return Recovered{}, err
	}
	input, err := r.scanner.TransactionInput(ctx, chainID, creation.TxHash)
	if err != nil {
		return Recovered{Creation: creation}, err
	}
	configs, err := decoder.Decode(input)
	if err != nil {
		return Recovered{Creation: creation}, err
	}
	if len(configs) > 1 {
		configs = r.pairByOrder(ctx, chainID, creation, configs)
	}
	return r.confirm(ctx, chainID, creation, configs)
}

// pairByOrder picks the configuration at the position of creation among the
// creations of its transaction. The input is returned unchanged when the
// counts disagree.
func (r *Registry) pairByOrder(ctx context.Context, chainID uint64, creation chain.Creation, configs []oracle.Configuration) []oracle.Configuration {
	inBlock, err := r.scanner.Scan(ctx, chainID, creation.BlockNumber, creation.BlockNumber)
	if err != nil {
		r.logger.Debug("scan creation block failed",
			slog.Uint64("chain_id", chainID),
			slog.String("tx", creation.TxHash.Hex()),
			slog.Any("error", err))
		return configs
	}
	var siblings []chain.Creation
	for _, group := range groupByTx(inBlock) {
		if group[0].TxHash == creation.TxHash {
			siblings = group
			break
		}
	}
	if len(siblings) != len(configs) {
		return configs
	}
	for i, c := range siblings {
		if c.Oracle == creation.Oracle {
			return configs[i : i+1]
		}
	}
	return configs
}

// confirm keeps the candidates that match the deployed oracle. A failed read
// leaves the candidates as decoded.
func (r *Registry) confirm(ctx context.Context, chainID uint64, creation chain.Creation, candidates []oracle.Configuration) (Recovered, error) {
	out := Recovered{Creation: creation, Configurations: candidates}
	if r.oracles == nil {
		return out, nil
	}
	state, err := r.oracles.OracleState(ctx, chainID, creation.Oracle)
	if err != nil {
		r.logger.Warn("read oracle state failed",
			slog.Uint64("chain_id", chainID),
			slog.String("oracle", creation.Oracle.Hex()),
			slog.Any("error", err))
		return out, nil
	}
	out.OnChain = &state
	var matched []oracle.Configuration
	for _, cfg := range candidates {
		if state.Matches(cfg) {
			matched = append(matched, cfg)
		}
	}
	if len(matched) == 0 {
		return out, fmt.Errorf("%w: oracle %s, %d candidates", ErrConfigurationMismatch, creation.Oracle.Hex(), len(candidates))
	}
	out.Configurations = matched
	return out, nil
}
