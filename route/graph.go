package route

import (
	"github.com/ethereum/go-ethereum/common"

	"oraclecheck/oracle"
	"oraclecheck/whitelist"
)

// EdgeSource tags where an edge's pair came from.
type EdgeSource string

const (
	SourceFeed    EdgeSource = "feed"
	SourceVault   EdgeSource = "vault"
	SourceUnknown EdgeSource = "unknown"
)

// Edge is one directed conversion contributed by a configured leg.
type Edge struct {
	From     oracle.Asset    `json:"from"`
	To       oracle.Asset    `json:"to"`
	Source   EdgeSource      `json:"source"`
	Role     oracle.Role     `json:"role"`
	Position oracle.Position `json:"position"`
	Address  common.Address  `json:"address"`
}

// Route is one ordering of the configured edges.
type Route struct {
	Edges     []Edge `json:"edges"`
	Hardcoded bool   `json:"hardcoded"`
}

// Terminals returns the first edge's From and the last edge's To.
func (r Route) Terminals() (oracle.Asset, oracle.Asset, bool) {
	if len(r.Edges) == 0 {
		return oracle.Asset{}, oracle.Asset{}, false
	}
	return r.Edges[0].From, r.Edges[len(r.Edges)-1].To, true
}

// FeedMetadata describes one configured leg for presentation.
type FeedMetadata struct {
	Position    oracle.Position `json:"position"`
	Address     common.Address  `json:"address"`
	Vendor      string          `json:"vendor"`
	Description string          `json:"description"`
	Pair        [2]string       `json:"pair"`
	ChainID     *uint64         `json:"chainId"`
}

// Candidates holds the four candidate routes and the per-leg metadata.
type Candidates struct {
	Routes [4]Route       `json:"routes"`
	Legs   []FeedMetadata `json:"legs"`
}

// FeedLookup resolves a configured address to a descriptor.
type FeedLookup interface {
	Lookup(addr common.Address, chainID uint64) (whitelist.FeedDescriptor, bool)
}

// Feeds is a FeedLookup over a fixed set of descriptors, used for resolved
// vaults.
type Feeds []whitelist.FeedDescriptor

// Lookup implements FeedLookup.
func (f Feeds) Lookup(addr common.Address, chainID uint64) (whitelist.FeedDescriptor, bool) {
	for _, feed := range f {
		if feed.Address == addr && feed.ChainID == chainID {
			return feed, true
		}
	}
	return whitelist.FeedDescriptor{}, false
}

// Input is everything Build needs. Vault slots consult Vaults and fall back
// to Feeds, so a whitelisted vault rate resolves without an on-chain read.
type Input struct {
	Config  oracle.Configuration
	ChainID uint64
	Feeds   FeedLookup
	Vaults  FeedLookup
}

// orderings enumerates (B1,B2|B2,B1) x (Q1,Q2|Q2,Q1). Indices point into the
// slot array built from oracle.Positions.
var orderings = [4][6]int{
	{0, 1, 2, 3, 4, 5},
	{0, 1, 2, 4, 3, 5},
	{0, 2, 1, 3, 4, 5},
	{0, 2, 1, 4, 3, 5},
}

// Build derives the candidate routes for a configuration. It performs no I/O.
func Build(in Input) Candidates {
	var (
		c     Candidates
		edges [6]*Edge
	)
	legs := in.Config.Legs()
	hardcoded := in.Config.IsHardcoded()
	for i, leg := range legs {
		addr, ok := leg.Leg.Address()
		if !ok {
			continue
		}
		descriptor, found := lookup(in, leg.Position, addr)
		edge := edgeFor(leg.Position, addr, descriptor, found)
		edges[i] = &edge
		c.Legs = append(c.Legs, metadataFor(leg.Position, addr, descriptor, found))
	}
	for r, order := range orderings {
		route := Route{Hardcoded: hardcoded}
		for _, slot := range order {
			if edge := edges[slot]; edge != nil {
				route.Edges = append(route.Edges, *edge)
			}
		}
		c.Routes[r] = route
	}
	return c
}

// lookup resolves vault slots against the resolved vaults first and then the
// whitelist, feed slots against the whitelist only.
func lookup(in Input, pos oracle.Position, addr common.Address) (whitelist.FeedDescriptor, bool) {
	if pos.IsVault() && in.Vaults != nil {
		if descriptor, ok := in.Vaults.Lookup(addr, in.ChainID); ok {
			return descriptor, true
		}
	}
	if in.Feeds == nil {
		return whitelist.FeedDescriptor{}, false
	}
	return in.Feeds.Lookup(addr, in.ChainID)
}

func edgeFor(pos oracle.Position, addr common.Address, descriptor whitelist.FeedDescriptor, found bool) Edge {
	edge := Edge{Role: pos.Role(), Position: pos, Address: addr}
	if !found || descriptor.Pair.IsUnknown() {
		edge.From = oracle.Asset{Symbol: oracle.Unknown}
		edge.To = oracle.Asset{Symbol: oracle.Unknown}
		edge.Source = SourceUnknown
		return edge
	}
	base := oracle.Asset{Symbol: descriptor.Pair.Base, Address: descriptor.BaseAddress}
	quote := oracle.Asset{Symbol: descriptor.Pair.Quote, Address: descriptor.QuoteAddress}
	edge.Source = SourceFeed
	if pos.IsVault() {
		edge.Source = SourceVault
	}
	// Base side converts base -> quote; quote side is traversed backwards so
	// the route ends in the loan asset. For vaults base is the share and
	// quote the underlying.
	if pos.Role() == oracle.RoleBase {
		edge.From, edge.To = base, quote
	} else {
		edge.From, edge.To = quote, base
	}
	return edge
}

func metadataFor(pos oracle.Position, addr common.Address, descriptor whitelist.FeedDescriptor, found bool) FeedMetadata {
	if !found {
		return FeedMetadata{
			Position:    pos,
			Address:     addr,
			Vendor:      oracle.Unknown,
			Description: oracle.Unknown,
			Pair:        [2]string{oracle.Unknown, oracle.Unknown},
		}
	}
	chainID := descriptor.ChainID
	return FeedMetadata{
		Position:    pos,
		Address:     addr,
		Vendor:      descriptor.Vendor,
		Description: descriptor.Description,
		Pair:        descriptor.Pair.Strings(),
		ChainID:     &chainID,
	}
}
