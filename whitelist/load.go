package whitelist

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"oraclecheck/oracle"
)

//go:embed data/*.json data/curated.toml
var embedded embed.FS

// Chain identifiers with embedded vendor tables.
const (
	ChainMainnet uint64 = 1
	ChainBase    uint64 = 8453
)

type vendorTable struct {
	chainID uint64
	source  Source
	file    string
}

var vendorTables = []vendorTable{
	{chainID: ChainMainnet, source: SourceRedstone, file: "data/redstone-mainnet.json"},
	{chainID: ChainBase, source: SourceRedstone, file: "data/redstone-base.json"},
	{chainID: ChainMainnet, source: SourceChainlink, file: "data/chainlink-mainnet.json"},
	{chainID: ChainBase, source: SourceChainlink, file: "data/chainlink-base.json"},
}

type redstoneEntry struct {
	ContractAddress    string `json:"contractAddress"`
	Symbol             string `json:"symbol"`
	Denomination       string `json:"denomination"`
	DeviationThreshold string `json:"deviationThreshold"`
}

type chainlinkEntry struct {
	ContractAddress string      `json:"contractAddress"`
	ProxyAddress    string      `json:"proxyAddress"`
	Name            string      `json:"name"`
	Threshold       json.Number `json:"threshold"`
	Pair            []string    `json:"pair"`
	Docs            struct {
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"docs"`
}

type curatedFile struct {
	Feeds []curatedEntry `toml:"feeds"`
}

type curatedEntry struct {
	ChainID     uint64   `toml:"chain_id"`
	Address     string   `toml:"address"`
	Vendor      string   `toml:"vendor"`
	Description string   `toml:"description"`
	Pair        []string `toml:"pair"`
}

func loadVendorTable(table vendorTable) ([]FeedDescriptor, error) {
	raw, err := embedded.ReadFile(table.file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table.file, err)
	}
	switch table.source {
	case SourceRedstone:
		return parseRedstone(raw, table.chainID)
	case SourceChainlink:
		return parseChainlink(raw, table.chainID)
	default:
		return nil, fmt.Errorf("unsupported vendor source %q", table.source)
	}
}

func parseRedstone(raw []byte, chainID uint64) ([]FeedDescriptor, error) {
	var entries []redstoneEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode redstone table: %w", err)
	}
	out := make([]FeedDescriptor, 0, len(entries))
	for _, entry := range entries {
		addr, ok := parseAddress(entry.ContractAddress)
		if !ok {
			continue
		}
		pair := normalizePair(entry.Symbol, entry.Denomination)
		out = append(out, FeedDescriptor{
			Address:     addr,
			ChainID:     chainID,
			Vendor:      "Redstone",
			Source:      SourceRedstone,
			Description: fmt.Sprintf("%s / %s (%s)", strings.TrimSpace(entry.Symbol), strings.TrimSpace(entry.Denomination), strings.TrimSpace(entry.DeviationThreshold)),
			Pair:        pair,
			Threshold:   strings.TrimSpace(entry.DeviationThreshold),
		})
	}
	return out, nil
}

func parseChainlink(raw []byte, chainID uint64) ([]FeedDescriptor, error) {
	var entries []chainlinkEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode chainlink table: %w", err)
	}
	out := make([]FeedDescriptor, 0, len(entries))
	for _, entry := range entries {
		addr, ok := parseAddress(entry.ProxyAddress)
		if !ok {
			addr, ok = parseAddress(entry.ContractAddress)
		}
		if !ok {
			continue
		}
		threshold := formatThreshold(entry.Threshold)
		out = append(out, FeedDescriptor{
			Address:     addr,
			ChainID:     chainID,
			Vendor:      "Chainlink",
			Source:      SourceChainlink,
			Description: fmt.Sprintf("%s (%s%%)", strings.TrimSpace(entry.Name), threshold),
			Pair:        chainlinkPair(entry),
			Threshold:   threshold + "%",
		})
	}
	return out, nil
}

// chainlinkPair derives the pair from the explicit pair, then the docs
// assets, then the feed name. Anything else is unknown.
func chainlinkPair(entry chainlinkEntry) oracle.Pair {
	if len(entry.Pair) == 2 {
		if pair := normalizePair(entry.Pair[0], entry.Pair[1]); !pair.IsUnknown() {
			return pair
		}
	}
	if pair := normalizePair(entry.Docs.BaseAsset, entry.Docs.QuoteAsset); !pair.IsUnknown() {
		return pair
	}
	parts := strings.Split(entry.Name, "/")
	if len(parts) == 2 {
		return normalizePair(parts[0], parts[1])
	}
	return oracle.Pair{}
}

func formatThreshold(n json.Number) string {
	if n == "" {
		return "0"
	}
	f, err := n.Float64()
	if err != nil {
		return n.String()
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseAddress(raw string) (common.Address, bool) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

func loadCurated(raw []byte, origin string) ([]FeedDescriptor, error) {
	var file curatedFile
	if _, err := toml.Decode(string(raw), &file); err != nil {
		return nil, fmt.Errorf("decode curated feeds %s: %w", origin, err)
	}
	out := make([]FeedDescriptor, 0, len(file.Feeds))
	for i, entry := range file.Feeds {
		if entry.ChainID == 0 {
			return nil, fmt.Errorf("curated feed %d in %s: chain_id required", i, origin)
		}
		addr, ok := parseAddress(entry.Address)
		if !ok {
			continue
		}
		var pair oracle.Pair
		if len(entry.Pair) == 2 {
			pair = normalizePair(entry.Pair[0], entry.Pair[1])
		}
		vendor := strings.TrimSpace(entry.Vendor)
		if vendor == "" {
			vendor = "Curated"
		}
		out = append(out, FeedDescriptor{
			Address:     addr,
			ChainID:     entry.ChainID,
			Vendor:      vendor,
			Source:      SourceCurated,
			Description: strings.TrimSpace(entry.Description),
			Pair:        pair,
		})
	}
	return out, nil
}

func readCuratedOverride(path string) ([]FeedDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read curated feeds %s: %w", path, err)
	}
	return loadCurated(raw, path)
}
