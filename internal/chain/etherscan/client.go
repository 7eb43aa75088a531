package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/liamashdown/whalewatch/internal/chain"
	"github.com/liamashdown/whalewatch/internal/config"
	"github.com/liamashdown/whalewatch/internal/fault"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/liamashdown/whalewatch/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// Client handles communication with the Etherscan V2 API
type Client struct {
	baseURL    string
	chainID    int
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	log        *logrus.Logger
}

var _ chain.Source = (*Client)(nil)

// NewClient creates a new Etherscan client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		baseURL:    cfg.EtherscanBaseURL,
		chainID:    cfg.ChainID,
		apiKey:     cfg.EtherscanAPIKey,
		httpClient: &http.Client{Timeout: cfg.ChainTimeout},
		limiter:    ratelimit.New(cfg.ChainRPS),
		log:        log,
	}
}

// BlockNumber returns the current chain height
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := c.get(ctx, "eth_blockNumber", url.Values{
		"module": {"proxy"},
		"action": {"eth_blockNumber"},
	})
	if err != nil {
		return 0, err
	}
	return decodeQuantity("eth_blockNumber", raw)
}

// BlockByNumber fetches a block with full transaction bodies
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*chain.Block, error) {
	raw, err := c.get(ctx, "eth_getBlockByNumber", url.Values{
		"module":  {"proxy"},
		"action":  {"eth_getBlockByNumber"},
		"tag":     {hexutil.EncodeUint64(number)},
		"boolean": {"true"},
	})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		// Not yet visible to the explorer
		return nil, fault.Transient("eth_getBlockByNumber", fmt.Errorf("block %d not found", number))
	}

	block, err := chain.DecodeBlock(raw, c.dropRecord("eth_getBlockByNumber"))
	if err != nil {
		return nil, fault.Malformed("eth_getBlockByNumber", err)
	}
	return block, nil
}

// Logs fetches event logs for one contract and first topic over a block range
func (c *Client) Logs(ctx context.Context, q chain.LogQuery) ([]chain.Log, error) {
	raw, err := c.get(ctx, "getLogs", url.Values{
		"module":    {"logs"},
		"action":    {"getLogs"},
		"address":   {q.Address},
		"topic0":    {q.Topic0},
		"fromBlock": {strconv.FormatUint(q.FromBlock, 10)},
		"toBlock":   {strconv.FormatUint(q.ToBlock, 10)},
	})
	if err != nil {
		return nil, err
	}

	logs, err := chain.DecodeLogs(raw, c.dropRecord("getLogs"))
	if err != nil {
		return nil, fault.Malformed("getLogs", err)
	}
	return logs, nil
}

// Balance returns the native balance of address in wei
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	raw, err := c.get(ctx, "balance", url.Values{
		"module":  {"account"},
		"action":  {"balance"},
		"address": {address},
		"tag":     {"latest"},
	})
	if err != nil {
		return nil, err
	}

	// Account module returns a decimal string
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fault.Malformed("balance", err)
	}
	wei, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fault.Malformed("balance", fmt.Errorf("invalid balance %q", s))
	}
	return wei, nil
}

// TransactionCount returns the nonce of address
func (c *Client) TransactionCount(ctx context.Context, address string) (uint64, error) {
	raw, err := c.get(ctx, "eth_getTransactionCount", url.Values{
		"module":  {"proxy"},
		"action":  {"eth_getTransactionCount"},
		"address": {address},
		"tag":     {"latest"},
	})
	if err != nil {
		return 0, err
	}
	return decodeQuantity("eth_getTransactionCount", raw)
}

// Code returns the deployed bytecode at address, "0x" for accounts
func (c *Client) Code(ctx context.Context, address string) (string, error) {
	raw, err := c.get(ctx, "eth_getCode", url.Values{
		"module":  {"proxy"},
		"action":  {"eth_getCode"},
		"address": {address},
		"tag":     {"latest"},
	})
	if err != nil {
		return "", err
	}

	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		return "", fault.Malformed("eth_getCode", err)
	}
	return code, nil
}

// dropRecord counts and logs a record left out of an otherwise valid response
func (c *Client) dropRecord(op string) func(error) {
	return func(err error) {
		metrics.DecodeErrors.Inc()
		c.log.WithError(err).WithField("op", op).Warn("Dropping malformed record")
	}
}

func (c *Client) get(ctx context.Context, op string, params url.Values) (json.RawMessage, error) {
	start := time.Now()
	raw, err := c.do(ctx, op, params)
	metrics.RecordAPIRequest("etherscan", op, time.Since(start), err)
	return raw, err
}

func (c *Client) do(ctx context.Context, op string, params url.Values) (json.RawMessage, error) {
	// Rate limit
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fault.New(fault.KindConfig, op, fmt.Errorf("parse URL: %w", err))
	}

	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	q.Set("chainid", strconv.Itoa(c.chainID))
	q.Set("apikey", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.Transient(op, fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fault.RateLimited(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, fault.Transient(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, fault.Rejected(op, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var env response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fault.Malformed(op, fmt.Errorf("decode response: %w", err))
	}

	return unwrap(op, &env)
}

// unwrap extracts the result from either envelope
func unwrap(op string, env *response) (json.RawMessage, error) {
	if env.JSONRPC != "" {
		if env.Error != nil {
			if isRateLimit(env.Error.Message) {
				return nil, fault.RateLimited(op, errors.New(env.Error.Message))
			}
			return nil, fault.Rejected(op, fmt.Errorf("rpc error %d: %s", env.Error.Code, env.Error.Message))
		}
		// Proxy throttling arrives as a plain string result
		if text := env.resultText(); isRateLimit(text) {
			return nil, fault.RateLimited(op, errors.New(text))
		}
		return env.Result, nil
	}

	if env.Status == "1" {
		return env.Result, nil
	}

	detail := env.resultText()
	switch {
	case isEmptyResult(env.Message) || isEmptyResult(detail):
		return nil, nil
	case isRateLimit(env.Message) || isRateLimit(detail):
		return nil, fault.RateLimited(op, fmt.Errorf("%s: %s", env.Message, detail))
	default:
		return nil, fault.Rejected(op, fmt.Errorf("%s: %s", env.Message, detail))
	}
}

func decodeQuantity(op string, raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fault.Malformed(op, err)
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, fault.Malformed(op, err)
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
