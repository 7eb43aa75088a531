package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)")
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()

// Block is a block with its full transaction bodies
type Block struct {
	Number       uint64
	Hash         string
	Timestamp    time.Time
	Transactions []Transaction
}

// Transaction is a native value transfer inside a block
type Transaction struct {
	Hash  string
	From  string
	To    string // empty for contract creation
	Value *big.Int
}

// Log is an event log as returned by a log query
type Log struct {
	Address     string
	Topics      []string
	Data        string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Timestamp   time.Time // zero when the source does not report it
}

// LogQuery selects logs emitted by one contract with a given first topic
type LogQuery struct {
	Address   string
	Topic0    string
	FromBlock uint64
	ToBlock   uint64
}

// Source is the chain-data collaborator
type Source interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
	Logs(ctx context.Context, q LogQuery) ([]Log, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	TransactionCount(ctx context.Context, address string) (uint64, error)
	Code(ctx context.Context, address string) (string, error)
}

// RawBlock is the JSON-RPC shape of eth_getBlockByNumber with full transactions
type RawBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Hash         string           `json:"hash"`
	Timestamp    hexutil.Uint64   `json:"timestamp"`
	Transactions []RawTransaction `json:"transactions"`
}

// RawTransaction is the JSON-RPC shape of a transaction object
type RawTransaction struct {
	Hash  string       `json:"hash"`
	From  string       `json:"from"`
	To    *string      `json:"to"`
	Value *hexutil.Big `json:"value"`
}

// RawLog is the JSON-RPC shape of a log object. Etherscan adds timeStamp.
type RawLog struct {
	Address     string    `json:"address"`
	Topics      []string  `json:"topics"`
	Data        string    `json:"data"`
	BlockNumber Quantity  `json:"blockNumber"`
	TxHash      string    `json:"transactionHash"`
	LogIndex    Quantity  `json:"logIndex"`
	TimeStamp   *Quantity `json:"timeStamp,omitempty"`
}

// Quantity is a hex-encoded integer that also accepts the bare "0x" some
// explorers return for zero
type Quantity uint64

func (q *Quantity) UnmarshalJSON(input []byte) error {
	var s string
	if err := json.Unmarshal(input, &s); err != nil {
		return err
	}
	if s == "" || s == "0x" {
		*q = 0
		return nil
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return err
	}
	*q = Quantity(v)
	return nil
}

// Block converts the raw block into the package type
func (r *RawBlock) Block() *Block {
	b := &Block{
		Number:       uint64(r.Number),
		Hash:         r.Hash,
		Timestamp:    time.Unix(int64(r.Timestamp), 0).UTC(),
		Transactions: make([]Transaction, 0, len(r.Transactions)),
	}
	for _, tx := range r.Transactions {
		t := Transaction{
			Hash:  tx.Hash,
			From:  NormalizeAddress(tx.From),
			Value: new(big.Int),
		}
		if tx.To != nil {
			t.To = NormalizeAddress(*tx.To)
		}
		if tx.Value != nil {
			t.Value = tx.Value.ToInt()
		}
		b.Transactions = append(b.Transactions, t)
	}
	return b
}

// Log converts the raw log into the package type
func (r *RawLog) Log() Log {
	l := Log{
		Address:     NormalizeAddress(r.Address),
		Topics:      r.Topics,
		Data:        r.Data,
		BlockNumber: uint64(r.BlockNumber),
		TxHash:      r.TxHash,
		LogIndex:    uint64(r.LogIndex),
	}
	if r.TimeStamp != nil {
		l.Timestamp = time.Unix(int64(*r.TimeStamp), 0).UTC()
	}
	return l
}

// DecodeBlock decodes a block with full transactions. A transaction that
// fails to decode is passed to skip and left out of the block; only a
// malformed header fails the whole block.
func DecodeBlock(raw json.RawMessage, skip func(error)) (*Block, error) {
	var header struct {
		Number       hexutil.Uint64    `json:"number"`
		Hash         string            `json:"hash"`
		Timestamp    hexutil.Uint64    `json:"timestamp"`
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, err
	}

	rb := RawBlock{
		Number:       header.Number,
		Hash:         header.Hash,
		Timestamp:    header.Timestamp,
		Transactions: make([]RawTransaction, 0, len(header.Transactions)),
	}
	for i, item := range header.Transactions {
		var tx RawTransaction
		if err := json.Unmarshal(item, &tx); err != nil {
			skip(fmt.Errorf("block %d transaction %d: %w", uint64(header.Number), i, err))
			continue
		}
		rb.Transactions = append(rb.Transactions, tx)
	}
	return rb.Block(), nil
}

// DecodeLogs decodes a log array one record at a time. Records that fail to
// decode are passed to skip and dropped.
func DecodeLogs(raw json.RawMessage, skip func(error)) ([]Log, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []Log{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	logs := make([]Log, 0, len(items))
	for i, item := range items {
		var rl RawLog
		if err := json.Unmarshal(item, &rl); err != nil {
			skip(fmt.Errorf("log %d: %w", i, err))
			continue
		}
		logs = append(logs, rl.Log())
	}
	return logs, nil
}

// NormalizeAddress lowercases a hex address. Empty input stays empty.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsAddress reports whether s is a 20-byte hex address
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}

// WeiToETH converts wei to ETH as a float
func WeiToETH(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}
