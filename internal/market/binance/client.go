package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/liamashdown/whalewatch/internal/fault"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/liamashdown/whalewatch/internal/ratelimit"
)

// Client handles communication with the Binance spot API
type Client struct {
	baseURL    string
	symbol     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// TickerPrice is the /ticker/price response
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// NewClient creates a new Binance client quoting symbol
func NewClient(baseURL, symbol string, rps float64) *Client {
	return &Client{
		baseURL:    baseURL,
		symbol:     symbol,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    ratelimit.New(rps),
	}
}

// Price fetches the latest spot price of the configured symbol
func (c *Client) Price(ctx context.Context) (float64, error) {
	start := time.Now()
	price, err := c.price(ctx)
	metrics.RecordAPIRequest("binance", "ticker_price", time.Since(start), err)
	return price, err
}

func (c *Client) price(ctx context.Context) (float64, error) {
	// Rate limit
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.baseURL + "/ticker/price")
	if err != nil {
		return 0, fmt.Errorf("parse URL: %w", err)
	}

	q := u.Query()
	q.Set("symbol", c.symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fault.Transient("ticker price", fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	// 418 is Binance's IP ban after ignoring 429s
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
		return 0, fault.RateLimited("ticker price", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return 0, fault.Transient("ticker price", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return 0, fault.Rejected("ticker price", fmt.Errorf("binance error %d: %s", apiErr.Code, apiErr.Msg))
		}
		return 0, fault.Rejected("ticker price", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var ticker TickerPrice
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return 0, fault.Malformed("ticker price", fmt.Errorf("decode response: %w", err))
	}

	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return 0, fault.Malformed("ticker price", fmt.Errorf("parse price %q: %w", ticker.Price, err))
	}
	return price, nil
}
