package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/liamashdown/whalewatch/internal/fault"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/liamashdown/whalewatch/internal/ratelimit"
)

const (
	// DefaultVolatility is used when too few swaps are available
	DefaultVolatility = 2.5
	maxVolatility     = 50.0
	swapSampleSize    = 100
)

// q96 is 2^96, the fixed-point scale of sqrtPriceX96
var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// Client queries a Uniswap v3 subgraph for one pool
type Client struct {
	url        string
	poolID     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewClient creates a new subgraph client for poolID
func NewClient(url, poolID string, rps float64) *Client {
	return &Client{
		url:        url,
		poolID:     strings.ToLower(poolID),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    ratelimit.New(rps),
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type poolData struct {
	Pools []struct {
		FeeTier   string `json:"feeTier"`
		VolumeUSD string `json:"volumeUSD"`
		TxCount   string `json:"txCount"`
	} `json:"pools"`
}

type swapData struct {
	Swaps []struct {
		Timestamp    string `json:"timestamp"`
		AmountUSD    string `json:"amountUSD"`
		SqrtPriceX96 string `json:"sqrtPriceX96"`
	} `json:"swaps"`
}

const poolQuery = `query Pool($id: ID!) {
  pools(first: 1, where: {id: $id}) {
    feeTier
    volumeUSD
    txCount
  }
}`

const swapsQuery = `query Swaps($pool: String!, $first: Int!) {
  swaps(first: $first, orderBy: timestamp, orderDirection: desc, where: {pool: $pool}) {
    timestamp
    amountUSD
    sqrtPriceX96
  }
}`

// Volume returns the pool's cumulative USD volume
func (c *Client) Volume(ctx context.Context) (float64, error) {
	var data poolData
	if err := c.query(ctx, "pool", poolQuery, map[string]interface{}{"id": c.poolID}, &data); err != nil {
		return 0, err
	}
	if len(data.Pools) == 0 {
		return 0, fault.Rejected("pool volume", fmt.Errorf("pool %s not found", c.poolID))
	}

	volume, err := strconv.ParseFloat(data.Pools[0].VolumeUSD, 64)
	if err != nil {
		return 0, fault.Malformed("pool volume", err)
	}
	return volume, nil
}

// Volatility returns the coefficient of variation, in percent, of the pool
// price over the most recent swaps, capped at 50
func (c *Client) Volatility(ctx context.Context) (float64, error) {
	var data swapData
	vars := map[string]interface{}{"pool": c.poolID, "first": swapSampleSize}
	if err := c.query(ctx, "swaps", swapsQuery, vars, &data); err != nil {
		return DefaultVolatility, err
	}

	prices := make([]float64, 0, len(data.Swaps))
	for _, s := range data.Swaps {
		p, err := PriceFromSqrtX96(s.SqrtPriceX96)
		if err != nil || p <= 0 {
			continue
		}
		prices = append(prices, p)
	}

	cv, ok := CoefficientOfVariation(prices)
	if !ok {
		return DefaultVolatility, nil
	}
	return math.Min(cv, maxVolatility), nil
}

// PriceFromSqrtX96 converts a sqrtPriceX96 value to the pool's token1 per
// token0 ratio, (sqrtPriceX96 / 2^96)^2, unadjusted for decimals
func PriceFromSqrtX96(sqrtPriceX96 string) (float64, error) {
	raw, ok := new(big.Int).SetString(sqrtPriceX96, 10)
	if !ok {
		return 0, fmt.Errorf("invalid sqrtPriceX96 %q", sqrtPriceX96)
	}
	root := new(big.Float).Quo(new(big.Float).SetInt(raw), q96)
	ratio, _ := new(big.Float).Mul(root, root).Float64()
	return ratio, nil
}

// CoefficientOfVariation returns the sample standard deviation over the mean
// in percent. It needs at least two values and a non-zero mean.
func CoefficientOfVariation(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0, false
	}

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	stdev := math.Sqrt(sq / float64(len(values)-1))
	return stdev / mean * 100, true
}

func (c *Client) query(ctx context.Context, endpoint, query string, vars map[string]interface{}, out interface{}) error {
	start := time.Now()
	err := c.do(ctx, endpoint, query, vars, out)
	metrics.RecordAPIRequest("subgraph", endpoint, time.Since(start), err)
	return err
}

func (c *Client) do(ctx context.Context, endpoint, query string, vars map[string]interface{}, out interface{}) error {
	// Rate limit
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Transient(endpoint, fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fault.RateLimited(endpoint, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return fault.Transient(endpoint, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fault.Rejected(endpoint, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b)))
	}

	var gqlResp graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return fault.Malformed(endpoint, fmt.Errorf("decode response: %w", err))
	}
	if len(gqlResp.Errors) > 0 {
		return fault.Rejected(endpoint, errors.New(gqlResp.Errors[0].Message))
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fault.Malformed(endpoint, fmt.Errorf("decode data: %w", err))
	}
	return nil
}
