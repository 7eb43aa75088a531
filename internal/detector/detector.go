package detector

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/liamashdown/whalewatch/internal/chain"
	"github.com/liamashdown/whalewatch/internal/fault"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/liamashdown/whalewatch/internal/whale"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const ethDecimals = 18

// Config holds detector settings
type Config struct {
	ThresholdETH   float64
	ThresholdToken float64
	TokenContract  string
	TokenDecimals  int
	DedupeWindow   int
}

// Detector filters block transactions and transfer logs down to whale events
type Detector struct {
	thresholdETH   decimal.Decimal
	thresholdToken decimal.Decimal
	tokenContract  string
	tokenDecimals  int32
	log            *logrus.Logger
	now            func() time.Time

	mu     sync.Mutex
	seen   map[string]struct{}
	ring   []string
	next   int
	window int
}

// New creates a new detector
func New(cfg Config, log *logrus.Logger) *Detector {
	window := cfg.DedupeWindow
	if window <= 0 {
		window = 4096
	}
	return &Detector{
		thresholdETH:   decimal.NewFromFloat(cfg.ThresholdETH),
		thresholdToken: decimal.NewFromFloat(cfg.ThresholdToken),
		tokenContract:  chain.NormalizeAddress(cfg.TokenContract),
		tokenDecimals:  int32(cfg.TokenDecimals),
		log:            log,
		now:            time.Now,
		seen:           make(map[string]struct{}, window),
		ring:           make([]string, window),
		window:         window,
	}
}

// Detect returns the whale events in a batch. Events already emitted within
// the dedupe window are skipped.
func (d *Detector) Detect(batch *Batch) []whale.Event {
	var events []whale.Event

	fallback := d.now().UTC()
	if batch.Block != nil {
		events = append(events, d.detectNative(batch.Block)...)
		fallback = batch.Block.Timestamp
	}
	events = append(events, d.detectTokens(batch.Logs, fallback)...)

	fresh := events[:0]
	for _, ev := range events {
		if !d.remember(ev.Key()) {
			metrics.DuplicateEvents.Inc()
			continue
		}
		metrics.RecordWhaleEvent(string(ev.Source))
		fresh = append(fresh, ev)
	}
	return fresh
}

func (d *Detector) detectNative(block *chain.Block) []whale.Event {
	var events []whale.Event
	for _, tx := range block.Transactions {
		if tx.Value == nil || tx.Value.Sign() <= 0 {
			continue
		}
		value := decimal.NewFromBigInt(tx.Value, -ethDecimals)
		if value.LessThan(d.thresholdETH) {
			continue
		}

		ev, err := whale.NewEvent(tx.Hash, 0, block.Number, tx.From, tx.To, value, decimal.Zero, block.Timestamp, whale.SourceNative)
		if err != nil {
			d.log.WithError(err).WithField("tx_hash", tx.Hash).Debug("Skipping invalid native transfer")
			continue
		}
		events = append(events, ev)
	}
	return events
}

func (d *Detector) detectTokens(logs []chain.Log, fallback time.Time) []whale.Event {
	var events []whale.Event
	for _, l := range logs {
		if d.tokenContract != "" && l.Address != d.tokenContract {
			continue
		}

		from, to, value, err := DecodeTransfer(l, d.tokenDecimals)
		if err != nil {
			metrics.DecodeErrors.Inc()
			d.log.WithError(err).WithFields(logrus.Fields{
				"tx_hash":   l.TxHash,
				"log_index": l.LogIndex,
			}).Warn("Dropping malformed transfer log")
			continue
		}
		if value.LessThan(d.thresholdToken) {
			continue
		}

		ts := l.Timestamp
		if ts.IsZero() {
			ts = fallback
		}
		ev, err := whale.NewEvent(l.TxHash, l.LogIndex, l.BlockNumber, from, to, decimal.Zero, value, ts, whale.SourceToken)
		if err != nil {
			metrics.DecodeErrors.Inc()
			continue
		}
		events = append(events, ev)
	}
	return events
}

// DecodeTransfer decodes a Transfer(address,address,uint256) log into
// sender, receiver and the value scaled by decimals
func DecodeTransfer(l chain.Log, decimals int32) (string, string, decimal.Decimal, error) {
	if len(l.Topics) != 3 {
		return "", "", decimal.Zero, fault.Malformed("decode transfer", fmt.Errorf("expected 3 topics, got %d", len(l.Topics)))
	}
	if !strings.EqualFold(l.Topics[0], chain.TransferTopic) {
		return "", "", decimal.Zero, fault.Malformed("decode transfer", errors.New("topic0 is not Transfer"))
	}

	from, err := topicAddress(l.Topics[1])
	if err != nil {
		return "", "", decimal.Zero, fault.Malformed("decode transfer", fmt.Errorf("from topic: %w", err))
	}
	to, err := topicAddress(l.Topics[2])
	if err != nil {
		return "", "", decimal.Zero, fault.Malformed("decode transfer", fmt.Errorf("to topic: %w", err))
	}

	data, err := hexutil.Decode(l.Data)
	if err != nil {
		return "", "", decimal.Zero, fault.Malformed("decode transfer", fmt.Errorf("data: %w", err))
	}
	if len(data) == 0 || len(data) > 32 {
		return "", "", decimal.Zero, fault.Malformed("decode transfer", fmt.Errorf("value is %d bytes", len(data)))
	}

	raw := new(big.Int).SetBytes(data)
	return from, to, decimal.NewFromBigInt(raw, -decimals), nil
}

// topicAddress extracts the address from a 32-byte indexed topic
func topicAddress(topic string) (string, error) {
	b, err := hexutil.Decode(topic)
	if err != nil {
		return "", err
	}
	if len(b) != 32 {
		return "", fmt.Errorf("topic is %d bytes", len(b))
	}
	return strings.ToLower(hexutil.Encode(b[12:])), nil
}

// remember records key and reports whether it was new
func (d *Detector) remember(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false
	}

	// Evict the oldest key once the ring is full
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = key
	d.next = (d.next + 1) % d.window
	d.seen[key] = struct{}{}
	return true
}
