package whitelist

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type key struct {
	chainID uint64
	address common.Address
}

// Registry is the read-only set of whitelisted feeds. It is safe for
// concurrent use once constructed.
type Registry struct {
	feeds   map[key]FeedDescriptor
	byChain map[uint64][]FeedDescriptor
}

// Option customises registry loading.
type Option func(*loadOptions)

type loadOptions struct {
	curatedPath string
	extra       []FeedDescriptor
}

// WithCuratedFile replaces the embedded curated list with the TOML file at path.
func WithCuratedFile(path string) Option {
	return func(o *loadOptions) {
		o.curatedPath = path
	}
}

// WithFeeds adds descriptors on top of the loaded tables. They take precedence
// over vendor and curated entries for the same chain and address.
func WithFeeds(feeds ...FeedDescriptor) Option {
	return func(o *loadOptions) {
		o.extra = append(o.extra, feeds...)
	}
}

// Load builds a registry from the embedded vendor tables and the curated list.
// Curated entries override vendor entries on the same chain and address.
func Load(opts ...Option) (*Registry, error) {
	var options loadOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	var all []FeedDescriptor
	for _, table := range vendorTables {
		feeds, err := loadVendorTable(table)
		if err != nil {
			return nil, err
		}
		all = append(all, feeds...)
	}

	var curated []FeedDescriptor
	var err error
	if options.curatedPath != "" {
		curated, err = readCuratedOverride(options.curatedPath)
	} else {
		var raw []byte
		raw, err = embedded.ReadFile("data/curated.toml")
		if err == nil {
			curated, err = loadCurated(raw, "embedded")
		}
	}
	if err != nil {
		return nil, err
	}
	all = append(all, curated...)
	all = append(all, options.extra...)
	return New(all...), nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the lazily loaded registry built from embedded data only.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = Load()
		if defaultErr != nil {
			defaultErr = fmt.Errorf("load default whitelist: %w", defaultErr)
		}
	})
	return defaultRegistry, defaultErr
}

// New builds a registry from descriptors. Later entries replace earlier ones
// with the same chain and address.
func New(feeds ...FeedDescriptor) *Registry {
	r := &Registry{
		feeds:   make(map[key]FeedDescriptor, len(feeds)),
		byChain: make(map[uint64][]FeedDescriptor),
	}
	for _, feed := range feeds {
		r.feeds[key{chainID: feed.ChainID, address: feed.Address}] = feed
	}
	for _, feed := range r.feeds {
		r.byChain[feed.ChainID] = append(r.byChain[feed.ChainID], feed)
	}
	for chainID := range r.byChain {
		list := r.byChain[chainID]
		sort.Slice(list, func(i, j int) bool {
			return bytes.Compare(list[i].Address[:], list[j].Address[:]) < 0
		})
	}
	return r
}

// Lookup returns the descriptor for addr on chainID.
func (r *Registry) Lookup(addr common.Address, chainID uint64) (FeedDescriptor, bool) {
	if r == nil {
		return FeedDescriptor{}, false
	}
	feed, ok := r.feeds[key{chainID: chainID, address: addr}]
	return feed, ok
}

// All returns a copy of every descriptor registered for chainID, ordered by address.
func (r *Registry) All(chainID uint64) []FeedDescriptor {
	if r == nil {
		return nil
	}
	list := r.byChain[chainID]
	out := make([]FeedDescriptor, len(list))
	copy(out, list)
	return out
}

// Chains returns the chain identifiers with at least one feed.
func (r *Registry) Chains() []uint64 {
	if r == nil {
		return nil
	}
	out := make([]uint64, 0, len(r.byChain))
	for chainID := range r.byChain {
		out = append(out, chainID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len reports the number of descriptors across all chains.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.feeds)
}
