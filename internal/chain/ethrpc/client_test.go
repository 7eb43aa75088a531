package ethrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liamashdown/whalewatch/internal/chain"
	"github.com/liamashdown/whalewatch/internal/fault"
	"github.com/sirupsen/logrus"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newNode serves canned results keyed by method name
func newNode(t *testing.T, results map[string]string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		result, ok := results[req.Method]
		if !ok {
			w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
	t.Cleanup(server.Close)

	client, err := Dial(context.Background(), server.URL, 100, 5*time.Second, logrus.New())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestAccountQueries(t *testing.T) {
	client := newNode(t, map[string]string{
		"eth_blockNumber":         `"0x10"`,
		"eth_getBalance":          `"0x8ac7230489e80000"`,
		"eth_getTransactionCount": `"0x2a"`,
		"eth_getCode":             `"0x6080"`,
	})
	ctx := context.Background()

	height, err := client.BlockNumber(ctx)
	if err != nil || height != 16 {
		t.Errorf("BlockNumber() = %d, %v", height, err)
	}

	wei, err := client.Balance(ctx, "0xabc")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if got := chain.WeiToETH(wei); got != 10 {
		t.Errorf("Balance() = %f ETH, want 10", got)
	}

	nonce, err := client.TransactionCount(ctx, "0xabc")
	if err != nil || nonce != 42 {
		t.Errorf("TransactionCount() = %d, %v", nonce, err)
	}

	code, err := client.Code(ctx, "0xabc")
	if err != nil || code != "0x6080" {
		t.Errorf("Code() = %q, %v", code, err)
	}
}

func TestLogsAndBlock(t *testing.T) {
	client := newNode(t, map[string]string{
		"eth_getLogs": `[{"address":"0xA0B8","topics":["0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"],"data":"0x01","blockNumber":"0x5","transactionHash":"0xt","logIndex":"0x3"}]`,
		"eth_getBlockByNumber": `{"number":"0x5","hash":"0xh","timestamp":"0x64","transactions":[]}`,
	})
	ctx := context.Background()

	logs, err := client.Logs(ctx, chain.LogQuery{Address: "0xa0b8", Topic0: chain.TransferTopic, FromBlock: 1, ToBlock: 5})
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].LogIndex != 3 || logs[0].Address != "0xa0b8" {
		t.Errorf("unexpected logs %+v", logs)
	}

	block, err := client.BlockByNumber(ctx, 5)
	if err != nil {
		t.Fatalf("BlockByNumber() error = %v", err)
	}
	if block.Number != 5 || block.Timestamp.Unix() != 100 {
		t.Errorf("unexpected block %+v", block)
	}
}

func TestMissingBlockIsTransient(t *testing.T) {
	client := newNode(t, map[string]string{"eth_getBlockByNumber": `null`})

	_, err := client.BlockByNumber(context.Background(), 99)
	if !fault.Is(err, fault.KindTransient) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestRPCErrorIsRejected(t *testing.T) {
	client := newNode(t, map[string]string{})

	_, err := client.BlockNumber(context.Background())
	if !fault.Is(err, fault.KindRejected) {
		t.Errorf("err = %v, want rejected", err)
	}
}

func TestMalformedRecordsAreDropped(t *testing.T) {
	client := newNode(t, map[string]string{
		"eth_getLogs": `[
			{"address":"0xA0B8","topics":[],"data":"0x01","blockNumber":"0x5","transactionHash":"0xgood","logIndex":"0x3"},
			{"address":"0xA0B8","topics":[],"data":"0x02","blockNumber":"0x5","transactionHash":"0xbad","logIndex":"zz"}
		]`,
		"eth_getBlockByNumber": `{"number":"0x5","hash":"0xh","timestamp":"0x64","transactions":[
			{"hash":"0xt1","from":"0xf","to":"0xa","value":"0x1"},
			{"hash":"0xt2","from":"0xf","to":"0xa","value":12}
		]}`,
	})
	ctx := context.Background()

	logs, err := client.Logs(ctx, chain.LogQuery{Address: "0xa0b8", Topic0: chain.TransferTopic, FromBlock: 1, ToBlock: 5})
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].TxHash != "0xgood" {
		t.Errorf("logs = %+v, want only 0xgood", logs)
	}

	block, err := client.BlockByNumber(ctx, 5)
	if err != nil {
		t.Fatalf("BlockByNumber() error = %v", err)
	}
	if len(block.Transactions) != 1 || block.Transactions[0].Hash != "0xt1" {
		t.Errorf("transactions = %+v, want only 0xt1", block.Transactions)
	}
}
