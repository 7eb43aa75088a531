package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/liamashdown/whalewatch/internal/chain"
	"github.com/liamashdown/whalewatch/internal/fault"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/liamashdown/whalewatch/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// Client reads chain data from a JSON-RPC node
type Client struct {
	rpc     *rpc.Client
	timeout time.Duration
	limiter *ratelimit.Limiter
	log     *logrus.Logger
}

var _ chain.Source = (*Client)(nil)

// Dial connects to the node at url
func Dial(ctx context.Context, url string, rps float64, timeout time.Duration, log *logrus.Logger) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{rpc: c, timeout: timeout, limiter: ratelimit.New(rps), log: log}, nil
}

// Close releases the underlying connection
func (c *Client) Close() {
	c.rpc.Close()
}

// BlockNumber returns the current chain height
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.call(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// BlockByNumber fetches a block with full transaction bodies
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*chain.Block, error) {
	var raw json.RawMessage
	if err := c.call(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
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
	filter := map[string]interface{}{
		"address":   q.Address,
		"topics":    []string{q.Topic0},
		"fromBlock": hexutil.EncodeUint64(q.FromBlock),
		"toBlock":   hexutil.EncodeUint64(q.ToBlock),
	}

	var raw json.RawMessage
	if err := c.call(ctx, &raw, "eth_getLogs", filter); err != nil {
		return nil, err
	}

	logs, err := chain.DecodeLogs(raw, c.dropRecord("eth_getLogs"))
	if err != nil {
		return nil, fault.Malformed("eth_getLogs", err)
	}
	return logs, nil
}

// Balance returns the native balance of address in wei
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	var b hexutil.Big
	if err := c.call(ctx, &b, "eth_getBalance", address, "latest"); err != nil {
		return nil, err
	}
	return b.ToInt(), nil
}

// TransactionCount returns the nonce of address
func (c *Client) TransactionCount(ctx context.Context, address string) (uint64, error) {
	var n hexutil.Uint64
	if err := c.call(ctx, &n, "eth_getTransactionCount", address, "latest"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// Code returns the deployed bytecode at address, "0x" for accounts
func (c *Client) Code(ctx context.Context, address string) (string, error) {
	var code hexutil.Bytes
	if err := c.call(ctx, &code, "eth_getCode", address, "latest"); err != nil {
		return "", err
	}
	return code.String(), nil
}

// dropRecord counts and logs a record left out of an otherwise valid response
func (c *Client) dropRecord(method string) func(error) {
	return func(err error) {
		metrics.DecodeErrors.Inc()
		c.log.WithError(err).WithField("method", method).Warn("Dropping malformed record")
	}
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	// Rate limit
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := c.rpc.CallContext(ctx, result, method, args...)
	metrics.RecordAPIRequest("rpc", method, time.Since(start), err)
	if err != nil {
		return classify(method, err)
	}
	return nil
}

// classify maps node errors onto the fault taxonomy
func classify(method string, err error) error {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return fault.RateLimited(method, err)
		case httpErr.StatusCode >= 500:
			return fault.Transient(method, err)
		default:
			return fault.Rejected(method, err)
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fault.Rejected(method, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fault.Transient(method, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fault.Malformed(method, err)
	}

	return fault.Transient(method, err)
}
