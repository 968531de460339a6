package chain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Network describes the Morpho deployment on one chain.
type Network struct {
	ChainID           uint64
	Name              string
	OracleFactory     common.Address
	MetaMorphoFactory common.Address
	StartBlock        uint64
}

var networks = map[uint64]Network{
	1: {
		ChainID:           1,
		Name:              "ethereum",
		OracleFactory:     common.HexToAddress("0x3A7bB36Ee3f3eE32A60e9f2b33c1e5f2E83ad766"),
		MetaMorphoFactory: common.HexToAddress("0xA9c3D3a366466Fa809d1Ae982Fb2c46E5fC41101"),
		StartBlock:        18_000_000,
	},
	8453: {
		ChainID:           8453,
		Name:              "base",
		OracleFactory:     common.HexToAddress("0x2DC205F24BCb6B311E5cdf0745B0741648Aebd3d"),
		MetaMorphoFactory: common.HexToAddress("0xA9c3D3a366466Fa809d1Ae982Fb2c46E5fC41101"),
		StartBlock:        13_978_286,
	},
}

// ErrUnsupportedChain is returned for chain ids without a known deployment.
var ErrUnsupportedChain = errors.New("unsupported chain")

// LookupNetwork returns the deployment for chainID.
func LookupNetwork(chainID uint64) (Network, error) {
	network, ok := networks[chainID]
	if !ok {
		return Network{}, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return network, nil
}

// SupportedChains lists every chain id with a known deployment in ascending order.
func SupportedChains() []uint64 {
	out := make([]uint64, 0, len(networks))
	for id := range networks {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
