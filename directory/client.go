// Package directory queries the Morpho market and asset API.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultEndpoint is the public Morpho GraphQL API.
const DefaultEndpoint = "https://blue-api.morpho.org/graphql"

var (
	// ErrNotFound is returned when the API has no record of the requested object.
	ErrNotFound = errors.New("directory: not found")
	// ErrQuery wraps GraphQL level errors reported in the response body.
	ErrQuery = errors.New("directory: query failed")
)

// HTTPDoer is the subset of http.Client used by the directory client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the GraphQL API. Queries are static documents; every
// user-supplied value travels as a variable.
type Client struct {
	http     HTTPDoer
	endpoint string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// NewClient constructs a client. A blank endpoint selects DefaultEndpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = DefaultEndpoint
	}
	c := &Client{
		endpoint: ep,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Asset is a listed token.
type Asset struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals int            `json:"decimals"`
	PriceUSD *float64       `json:"priceUsd"`
	Vault    *AssetVault    `json:"vault,omitempty"`
}

// AssetVault is set when the asset is itself a vault share.
type AssetVault struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
	Asset   struct {
		Address  common.Address `json:"address"`
		Symbol   string         `json:"symbol"`
		Decimals int            `json:"decimals"`
	} `json:"asset"`
}

// MarketAsset is the per-market view of a token.
type MarketAsset struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals int            `json:"decimals"`
	PriceUSD *float64       `json:"priceUsd"`
}

// Warning is a market-level risk flag.
type Warning struct {
	Level string `json:"level"`
	Type  string `json:"type"`
}

// Market is a lending market served by an oracle.
type Market struct {
	UniqueKey       string         `json:"uniqueKey"`
	OracleAddress   common.Address `json:"oracleAddress"`
	LoanAsset       MarketAsset    `json:"loanAsset"`
	CollateralAsset MarketAsset    `json:"collateralAsset"`
	Warnings        []Warning      `json:"warnings"`
}

// BaseFeed is the first base feed as described by the API.
type BaseFeed struct {
	Address     common.Address `json:"address"`
	Description string         `json:"description"`
	Vendor      string         `json:"vendor"`
	Pair        []string       `json:"pair"`
}

// Oracle is a deployed oracle with the markets that use it.
type Oracle struct {
	Address common.Address `json:"address"`
	Type    string         `json:"type"`
	Data    struct {
		BaseFeedOne *BaseFeed `json:"baseFeedOne"`
		Vault       string    `json:"vault,omitempty"`
	} `json:"data"`
	Markets []Market `json:"markets"`
}

const assetsQuery = `query Assets($chainId: Int!) {
  assets(where: { chainId_in: [$chainId] }, first: 1000) {
    items {
      address
      symbol
      decimals
      priceUsd
      vault { address name asset { symbol address decimals } }
    }
  }
}`

const oracleQuery = `query OracleByAddress($address: String!, $chainId: Int!) {
  oracleByAddress(address: $address, chainId: $chainId) {
    address
    type
    markets {
      uniqueKey
      loanAsset { address symbol decimals priceUsd }
      collateralAsset { address symbol decimals priceUsd }
      warnings { level type }
    }
    data {
      ... on MorphoChainlinkOracleData { baseFeedOne { address description vendor pair } vault }
      ... on MorphoChainlinkOracleV2Data { baseFeedOne { address description vendor pair } }
    }
  }
}`

const pricesQuery = `query AssetPrices($chainId: Int!, $collateral: [String!], $loan: [String!]) {
  collateralAssets: assets(where: { symbol_in: $collateral, chainId_in: [$chainId] }) {
    items { address symbol decimals priceUsd }
  }
  loanAssets: assets(where: { symbol_in: $loan, chainId_in: [$chainId] }) {
    items { address symbol decimals priceUsd }
  }
}`

const pairMarketsQuery = `query MarketsForPair($chainId: Int!, $collateral: [String!], $loan: [String!]) {
  markets(where: { chainId_in: [$chainId], collateralAssetAddress_in: $collateral, loanAssetAddress_in: $loan }) {
    items {
      uniqueKey
      oracleAddress
      loanAsset { address symbol decimals priceUsd }
      collateralAsset { address symbol decimals priceUsd }
      warnings { level type }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Assets lists every asset known on chainID.
func (c *Client) Assets(ctx context.Context, chainID uint64) ([]Asset, error) {
	var out struct {
		Assets struct {
			Items []Asset `json:"items"`
		} `json:"assets"`
	}
	if err := c.do(ctx, assetsQuery, map[string]any{"chainId": chainID}, &out); err != nil {
		return nil, err
	}
	return out.Assets.Items, nil
}

// OracleMarkets returns the oracle record with its markets and warnings.
func (c *Client) OracleMarkets(ctx context.Context, oracle common.Address, chainID uint64) (Oracle, error) {
	var out struct {
		Oracle *Oracle `json:"oracleByAddress"`
	}
	vars := map[string]any{"address": oracle.Hex(), "chainId": chainID}
	if err := c.do(ctx, oracleQuery, vars, &out); err != nil {
		return Oracle{}, err
	}
	if out.Oracle == nil {
		return Oracle{}, fmt.Errorf("%w: oracle %s on chain %d", ErrNotFound, oracle.Hex(), chainID)
	}
	return *out.Oracle, nil
}

// AssetPrices returns the first priced listing for each symbol, keyed by the
// symbol as requested. ETH and WETH are queried as aliases of each other.
// Symbols without a price are absent from the result.
func (c *Client) AssetPrices(ctx context.Context, chainID uint64, collateralSymbol, loanSymbol string) (map[string]MarketAsset, error) {
	var out struct {
		Collateral struct {
			Items []MarketAsset `json:"items"`
		} `json:"collateralAssets"`
		Loan struct {
			Items []MarketAsset `json:"items"`
		} `json:"loanAssets"`
	}
	vars := map[string]any{
		"chainId":    chainID,
		"collateral": symbolVariants(collateralSymbol),
		"loan":       symbolVariants(loanSymbol),
	}
	if err := c.do(ctx, pricesQuery, vars, &out); err != nil {
		return nil, err
	}
	prices := make(map[string]MarketAsset, 2)
	if asset, ok := firstPriced(out.Collateral.Items); ok {
		prices[collateralSymbol] = asset
	}
	if asset, ok := firstPriced(out.Loan.Items); ok {
		prices[loanSymbol] = asset
	}
	return prices, nil
}

// MarketsForPair lists existing markets for a collateral/loan pair.
func (c *Client) MarketsForPair(ctx context.Context, chainID uint64, collateral, loan common.Address) ([]Market, error) {
	var out struct {
		Markets struct {
			Items []Market `json:"items"`
		} `json:"markets"`
	}
	vars := map[string]any{
		"chainId":    chainID,
		"collateral": []string{collateral.Hex()},
		"loan":       []string{loan.Hex()},
	}
	if err := c.do(ctx, pairMarketsQuery, vars, &out); err != nil {
		return nil, err
	}
	return out.Markets.Items, nil
}

func symbolVariants(symbol string) []string {
	symbol = strings.TrimSpace(symbol)
	if strings.EqualFold(symbol, "ETH") || strings.EqualFold(symbol, "WETH") {
		return []string{"WETH", "ETH"}
	}
	return []string{symbol}
}

func firstPriced(items []MarketAsset) (MarketAsset, bool) {
	for _, item := range items {
		if item.PriceUSD != nil {
			return item, true
		}
	}
	return MarketAsset{}, false
}

func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var envelope graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("directory: decode: %w", err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("%w: %s", ErrQuery, strings.Join(msgs, "; "))
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%w: empty data", ErrQuery)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("directory: decode data: %w", err)
	}
	return nil
}
