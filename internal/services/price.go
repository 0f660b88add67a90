package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnt/farmdash/internal/ledger"
	"github.com/wnt/farmdash/internal/metrics"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/quantity"
	"github.com/wnt/farmdash/internal/utils"
)

// ReservesReader reads the composition of a liquidity pair
type ReservesReader interface {
	Reserves(ctx context.Context, pair position.Token) (ledger.PairReserves, error)
}

// coinsResponse is the body of the DefiLlama coins API
type coinsResponse struct {
	Coins map[string]struct {
		Price      float64 `json:"price"`
		Symbol     string  `json:"symbol"`
		Decimals   int32   `json:"decimals"`
		Confidence float64 `json:"confidence"`
		Timestamp  int64   `json:"timestamp"`
	} `json:"coins"`
}

type cachedPrice struct {
	value     quantity.Value
	fetchedAt time.Time
}

// PriceClient quotes token prices in USD from the DefiLlama coins API.
// Liquidity pair tokens are priced from their reserves.
type PriceClient struct {
	httpClient *utils.HTTPClient
	chain      string
	reserves   ReservesReader
	ttl        time.Duration
	logger     zerolog.Logger

	mutex sync.Mutex
	cache map[string]cachedPrice
}

// NewPriceClient creates a price client for chain (e.g. "avax")
func NewPriceClient(baseURL, chain string, reserves ReservesReader, ttl time.Duration, logger zerolog.Logger) *PriceClient {
	return &PriceClient{
		httpClient: utils.NewHTTPClient(
			utils.WithBaseURL(strings.TrimRight(baseURL, "/")),
			utils.WithTimeout(10*time.Second),
		),
		chain:    chain,
		reserves: reserves,
		ttl:      ttl,
		logger:   logger.With().Str("component", "price_client").Logger(),
		cache:    make(map[string]cachedPrice),
	}
}

func (c *PriceClient) coinKey(address string) string {
	return c.chain + ":" + strings.ToLower(address)
}

func (c *PriceClient) cached(key string) (quantity.Value, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	entry, ok := c.cache[key]
	if !ok || time.Since(entry.fetchedAt) > c.ttl {
		return quantity.Value{}, false
	}
	return entry.value, true
}

func (c *PriceClient) store(key string, v quantity.Value) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[key] = cachedPrice{value: v, fetchedAt: time.Now()}
}

// Price returns the USD price of token. A token the API does not know is an
// unknown value, not an error.
func (c *PriceClient) Price(ctx context.Context, token position.Token) (quantity.Value, error) {
	key := c.coinKey(token.Address)
	if v, ok := c.cached(key); ok {
		return v, nil
	}

	var (
		v   quantity.Value
		err error
	)
	if token.LP && c.reserves != nil {
		v, err = c.pairPrice(ctx, token)
	} else {
		var prices map[string]quantity.Value
		prices, err = c.fetch(ctx, []string{token.Address})
		v = prices[key]
	}
	if err != nil {
		metrics.RecordInputRead("price", "failed")
		return quantity.Unknown(), err
	}

	metrics.RecordInputRead("price", "resolved")
	c.store(key, v)
	return v, nil
}

// pairPrice values one pair token as its share of both reserves
func (c *PriceClient) pairPrice(ctx context.Context, pair position.Token) (quantity.Value, error) {
	res, err := c.reserves.Reserves(ctx, pair)
	if err != nil {
		return quantity.Unknown(), fmt.Errorf("failed to read reserves of %s: %w", pair.Symbol, err)
	}

	prices, err := c.fetch(ctx, []string{res.Token0.Address, res.Token1.Address})
	if err != nil {
		return quantity.Unknown(), err
	}

	side0 := quantity.USDValue(res.Reserve0, prices[c.coinKey(res.Token0.Address)])
	side1 := quantity.USDValue(res.Reserve1, prices[c.coinKey(res.Token1.Address)])
	return side0.Add(side1).Div(quantity.AmountValue(res.TotalSupply)), nil
}

// fetch quotes addresses in one request. Missing coins map to unknown values.
func (c *PriceClient) fetch(ctx context.Context, addresses []string) (map[string]quantity.Value, error) {
	keys := make([]string, len(addresses))
	for i, a := range addresses {
		keys[i] = c.coinKey(a)
	}

	resp, err := c.httpClient.Get(ctx, "/prices/current/"+strings.Join(keys, ","), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}

	var body coinsResponse
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, fmt.Errorf("failed to decode prices: %w", err)
	}

	out := make(map[string]quantity.Value, len(keys))
	for _, k := range keys {
		out[k] = quantity.Unknown()
	}
	for k, coin := range body.Coins {
		k = strings.ToLower(k)
		if coin.Price <= 0 {
			continue
		}
		out[k] = quantity.KnownFloat(coin.Price)
	}

	c.logger.Debug().Strs("coins", keys).Int("quoted", len(body.Coins)).Msg("Fetched prices")
	return out, nil
}
