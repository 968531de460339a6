package vault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"oraclecheck/chain"
	"oraclecheck/oracle"
	"oraclecheck/whitelist"
)

// Descriptor is a resolved ERC-4626 vault.
type Descriptor struct {
	Address            common.Address `json:"address"`
	ChainID            uint64         `json:"chainId"`
	Name               string         `json:"name,omitempty"`
	ShareSymbol        string         `json:"shareSymbol"`
	UnderlyingAddress  common.Address `json:"underlyingAddress"`
	UnderlyingSymbol   string         `json:"underlyingSymbol"`
	UnderlyingDecimals uint8          `json:"underlyingDecimals"`
	MetaMorpho         bool           `json:"metaMorpho"`
}

// Feed renders the vault as a whitelist-shaped descriptor so the graph
// builder can treat it like any other edge: share -> underlying.
func (d Descriptor) Feed() whitelist.FeedDescriptor {
	kind := "ERC-4626"
	if d.MetaMorpho {
		kind = "MetaMorpho"
	}
	underlying := whitelist.NormalizeSymbol(d.UnderlyingSymbol)
	return whitelist.FeedDescriptor{
		Address:      d.Address,
		ChainID:      d.ChainID,
		Vendor:       "Morpho",
		Source:       whitelist.SourceVault,
		Description:  fmt.Sprintf("%s / %s %s vault exchange rate", d.ShareSymbol, underlying, kind),
		Pair:         oracle.Pair{Base: d.ShareSymbol, Quote: underlying},
		BaseAddress:  d.Address,
		QuoteAddress: d.UnderlyingAddress,
	}
}

type cacheKey struct {
	chainID uint64
	addr    common.Address
}

type cacheEntry struct {
	desc Descriptor
	ok   bool
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Resolver identifies vaults through two batched round-trips. A Resolver is
// meant to live for one verification run; its cache is never shared.
type Resolver struct {
	caller chain.BatchCaller
	logger *slog.Logger

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// NewResolver constructs a per-run resolver.
func NewResolver(caller chain.BatchCaller, opts ...Option) *Resolver {
	r := &Resolver{
		caller: caller,
		logger: slog.Default(),
		cache:  make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the vault at addr. Any read failure yields false; the
// failure is logged and cached for the lifetime of the resolver.
func (r *Resolver) Resolve(ctx context.Context, addr common.Address, chainID uint64) (Descriptor, bool) {
	key := cacheKey{chainID: chainID, addr: addr}
	r.mu.Lock()
	if entry, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return entry.desc, entry.ok
	}
	r.mu.Unlock()

	desc, err := r.fetch(ctx, addr, chainID)
	if err != nil {
		r.logger.Debug("vault resolution failed",
			slog.String("vault", addr.Hex()),
			slog.Uint64("chain_id", chainID),
			slog.Any("error", err))
	}
	entry := cacheEntry{desc: desc, ok: err == nil}
	// A cancelled run must not poison the cache with a transient miss.
	if ctx.Err() == nil {
		r.mu.Lock()
		r.cache[key] = entry
		r.mu.Unlock()
	}
	return entry.desc, entry.ok
}

// Feeds resolves every configured vault leg of cfg and returns the hits as a
// route lookup source.
func (r *Resolver) Feeds(ctx context.Context, chainID uint64, cfg oracle.Configuration) []whitelist.FeedDescriptor {
	var out []whitelist.FeedDescriptor
	for _, leg := range []oracle.Leg{cfg.BaseVault, cfg.QuoteVault} {
		addr, ok := leg.Address()
		if !ok {
			continue
		}
		if desc, found := r.Resolve(ctx, addr, chainID); found {
			out = append(out, desc.Feed())
		}
	}
	return out
}

func (r *Resolver) fetch(ctx context.Context, addr common.Address, chainID uint64) (Descriptor, error) {
	if r.caller == nil {
		return Descriptor{}, chain.ErrNoClient
	}
	network, err := chain.LookupNetwork(chainID)
	if err != nil {
		return Descriptor{}, err
	}

	isMeta, err := chain.NewCall(chain.MetaMorphoFactoryABI, network.MetaMorphoFactory, "isMetaMorpho", addr)
	if err != nil {
		return Descriptor{}, err
	}
	symbol, err := chain.NewCall(chain.ERC4626ABI, addr, "symbol")
	if err != nil {
		return Descriptor{}, err
	}
	name, err := chain.NewCall(chain.ERC4626ABI, addr, "name")
	if err != nil {
		return Descriptor{}, err
	}
	asset, err := chain.NewCall(chain.ERC4626ABI, addr, "asset")
	if err != nil {
		return Descriptor{}, err
	}
	first, err := r.caller.BatchCall(ctx, chainID, []chain.Call{isMeta, symbol, name, asset})
	if err != nil {
		return Descriptor{}, err
	}
	if len(first) != 4 {
		return Descriptor{}, fmt.Errorf("vault batch returned %d results", len(first))
	}

	desc := Descriptor{Address: addr, ChainID: chainID}
	if values, err := first[0].Unpack(chain.MetaMorphoFactoryABI, "isMetaMorpho"); err == nil {
		desc.MetaMorpho, _ = values[0].(bool)
	}
	if desc.ShareSymbol, err = unpackString(first[1], "symbol"); err != nil {
		return Descriptor{}, err
	}
	// name() is informational only.
	desc.Name, _ = unpackString(first[2], "name")
	values, err := first[3].Unpack(chain.ERC4626ABI, "asset")
	if err != nil {
		return Descriptor{}, fmt.Errorf("asset: %w", err)
	}
	underlying, ok := values[0].(common.Address)
	if !ok || underlying == (common.Address{}) {
		return Descriptor{}, fmt.Errorf("asset: no underlying token")
	}
	desc.UnderlyingAddress = underlying

	assetSymbol, err := chain.NewCall(chain.ERC4626ABI, underlying, "symbol")
	if err != nil {
		return Descriptor{}, err
	}
	assetDecimals, err := chain.NewCall(chain.ERC4626ABI, underlying, "decimals")
	if err != nil {
		return Descriptor{}, err
	}
	second, err := r.caller.BatchCall(ctx, chainID, []chain.Call{assetSymbol, assetDecimals})
	if err != nil {
		return Descriptor{}, err
	}
	if len(second) != 2 {
		return Descriptor{}, fmt.Errorf("underlying batch returned %d results", len(second))
	}
	if desc.UnderlyingSymbol, err = unpackString(second[0], "symbol"); err != nil {
		return Descriptor{}, fmt.Errorf("underlying %w", err)
	}
	decimals, err := second[1].Unpack(chain.ERC4626ABI, "decimals")
	if err != nil {
		return Descriptor{}, fmt.Errorf("underlying decimals: %w", err)
	}
	if desc.UnderlyingDecimals, ok = decimals[0].(uint8); !ok {
		return Descriptor{}, fmt.Errorf("underlying decimals: unexpected type %T", decimals[0])
	}
	return desc, nil
}

func unpackString(result chain.CallResult, method string) (string, error) {
	values, err := result.Unpack(chain.ERC4626ABI, method)
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected type %T", method, values[0])
	}
	return s, nil
}
