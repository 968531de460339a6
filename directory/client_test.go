package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newServer(t *testing.T, body string, seen *recorded) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, WithHTTPClient(srv.Client()))
}

func TestAssetsSendsVariables(t *testing.T) {
	var seen recorded
	client := newServer(t, `{"data":{"assets":{"items":[
		{"address":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","symbol":"USDC","decimals":6,"priceUsd":1.0,"vault":null},
		{"address":"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2","symbol":"WETH","decimals":18,"priceUsd":null}
	]}}}`, &seen)

	assets, err := client.Assets(context.Background(), 8453)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	require.Equal(t, "USDC", assets[0].Symbol)
	require.Equal(t, 6, assets[0].Decimals)
	require.NotNil(t, assets[0].PriceUSD)
	require.Nil(t, assets[1].PriceUSD)
	require.Nil(t, assets[0].Vault)

	require.Contains(t, seen.Query, "$chainId")
	require.EqualValues(t, 8453, seen.Variables["chainId"])
}

func TestOracleMarkets(t *testing.T) {
	var seen recorded
	client := newServer(t, `{"data":{"oracleByAddress":{
		"address":"0x0000000000000000000000000000000000000abc",
		"type":"ChainlinkOracleV2",
		"markets":[{"uniqueKey":"0x01","loanAsset":{"address":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","symbol":"USDC","decimals":6,"priceUsd":1},
		"collateralAsset":{"address":"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2","symbol":"WETH","decimals":18,"priceUsd":3000},
		"warnings":[{"level":"RED","type":"hardcoded_oracle"}]}],
		"data":{"baseFeedOne":{"address":"0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419","description":"ETH / USD","vendor":"Chainlink","pair":["ETH","USD"]}}
	}}}`, &seen)

	addr := common.HexToAddress("0xabc")
	oracle, err := client.OracleMarkets(context.Background(), addr, 1)
	require.NoError(t, err)
	require.Len(t, oracle.Markets, 1)
	require.Equal(t, []Warning{{Level: "RED", Type: "hardcoded_oracle"}}, oracle.Markets[0].Warnings)
	require.NotNil(t, oracle.Data.BaseFeedOne)
	require.Equal(t, "Chainlink", oracle.Data.BaseFeedOne.Vendor)
	require.Equal(t, addr.Hex(), seen.Variables["address"])
	require.NotContains(t, seen.Query, addr.Hex(), "addresses travel as variables")
}

func TestOracleMarketsNotFound(t *testing.T) {
	client := newServer(t, `{"data":{"oracleByAddress":null}}`, nil)
	_, err := client.OracleMarkets(context.Background(), common.HexToAddress("0x01"), 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAssetPricesSkipsUnpriced(t *testing.T) {
	client := newServer(t, `{"data":{
		"collateralAssets":{"items":[
			{"address":"0x0000000000000000000000000000000000000001","symbol":"wstETH","decimals":18,"priceUsd":null},
			{"address":"0x0000000000000000000000000000000000000002","symbol":"wstETH","decimals":18,"priceUsd":3500.5}
		]},
		"loanAssets":{"items":[{"address":"0x0000000000000000000000000000000000000003","symbol":"USDC","decimals":6,"priceUsd":null}]}
	}}`, nil)

	prices, err := client.AssetPrices(context.Background(), 1, "wstETH", "USDC")
	require.NoError(t, err)
	require.Len(t, prices, 1)
	got := prices["wstETH"]
	require.Equal(t, common.HexToAddress("0x02"), got.Address)
	require.InDelta(t, 3500.5, *got.PriceUSD, 1e-9)
	_, ok := prices["USDC"]
	require.False(t, ok)
}

func TestAssetPricesQueriesEtherAliases(t *testing.T) {
	var seen recorded
	client := newServer(t, `{"data":{
		"collateralAssets":{"items":[{"address":"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2","symbol":"WETH","decimals":18,"priceUsd":3000}]},
		"loanAssets":{"items":[{"address":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","symbol":"USDC","decimals":6,"priceUsd":1}]}
	}}`, &seen)

	prices, err := client.AssetPrices(context.Background(), 1, "ETH", "USDC")
	require.NoError(t, err)
	got, ok := prices["ETH"]
	require.True(t, ok, "WETH listing answers an ETH request")
	require.Equal(t, "WETH", got.Symbol)
	require.ElementsMatch(t, []any{"WETH", "ETH"}, seen.Variables["collateral"])
	require.Equal(t, []any{"USDC"}, seen.Variables["loan"])
}

func TestMarketsForPair(t *testing.T) {
	var seen recorded
	client := newServer(t, `{"data":{"markets":{"items":[{"uniqueKey":"0xaa","oracleAddress":"0x0000000000000000000000000000000000000abc",
		"loanAsset":{"address":"0x0000000000000000000000000000000000000003","symbol":"USDC","decimals":6,"priceUsd":1},
		"collateralAsset":{"address":"0x0000000000000000000000000000000000000002","symbol":"WETH","decimals":18,"priceUsd":3000},
		"warnings":[]}]}}}`, &seen)
	markets, err := client.MarketsForPair(context.Background(), 1, common.HexToAddress("0x02"), common.HexToAddress("0x03"))
	require.NoError(t, err)
	require.Len(t, markets, 1)
	require.Equal(t, common.HexToAddress("0xabc"), markets[0].OracleAddress)
	require.Len(t, seen.Variables["collateral"], 1)
}

func TestGraphQLErrors(t *testing.T) {
	client := newServer(t, `{"errors":[{"message":"rate limited"},{"message":"try later"}]}`, nil)
	_, err := client.Assets(context.Background(), 1)
	require.ErrorIs(t, err, ErrQuery)
	require.Contains(t, err.Error(), "rate limited; try later")
}

func TestHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()
	client := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	_, err := client.Assets(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 502")
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestDefaultEndpoint(t *testing.T) {
	require.Equal(t, DefaultEndpoint, NewClient("  ").endpoint)
}
