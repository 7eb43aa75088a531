package detector

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/liamashdown/whalewatch/internal/chain"
	"github.com/liamashdown/whalewatch/internal/whale"
	"github.com/sirupsen/logrus"
)

const usdc = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

func newTestDetector() *Detector {
	return New(Config{
		ThresholdETH:   100,
		ThresholdToken: 100_000,
		TokenContract:  usdc,
		TokenDecimals:  6,
		DedupeWindow:   8,
	}, logrus.New())
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func addressTopic(addr string) string {
	return "0x" + strings.Repeat("0", 24) + strings.TrimPrefix(addr, "0x")
}

// transferLog builds a Transfer log carrying units of the raw token amount
func transferLog(txHash string, index uint64, units *big.Int) chain.Log {
	return chain.Log{
		Address: usdc,
		Topics: []string{
			chain.TransferTopic,
			addressTopic("0x1111111111111111111111111111111111111111"),
			addressTopic("0x2222222222222222222222222222222222222222"),
		},
		Data:        "0x" + leftPad(units.Text(16), 64),
		BlockNumber: 100,
		TxHash:      txHash,
		LogIndex:    index,
	}
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}

func TestDetectNativeThreshold(t *testing.T) {
	tests := []struct {
		name  string
		value *big.Int
		want  int
	}{
		{"exactly at threshold", eth(100), 1},
		{"above threshold", eth(150), 1},
		{"just below threshold", new(big.Int).Sub(eth(100), big.NewInt(1)), 0},
		{"zero value", big.NewInt(0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector()
			block := &chain.Block{
				Number:    100,
				Timestamp: time.Unix(1_700_000_000, 0),
				Transactions: []chain.Transaction{
					{Hash: "0xaa", From: "0xfrom", To: "0xto", Value: tt.value},
				},
			}
			events := d.Detect(&Batch{Block: block})
			if len(events) != tt.want {
				t.Fatalf("got %d events, want %d", len(events), tt.want)
			}
			if tt.want == 1 && events[0].Source != whale.SourceNative {
				t.Errorf("Source = %s", events[0].Source)
			}
		})
	}
}

func TestDetectTokenTransfers(t *testing.T) {
	d := newTestDetector()
	blockTime := time.Unix(1_700_000_000, 0).UTC()

	// 250,000 USDC with 6 decimals
	big250k := big.NewInt(250_000_000_000)
	small := big.NewInt(5_000_000_000)

	batch := &Batch{
		Block: &chain.Block{Number: 100, Timestamp: blockTime},
		Logs: []chain.Log{
			transferLog("0x01", 0, big250k),
			transferLog("0x02", 1, small),
		},
	}

	events := d.Detect(batch)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.ValueToken.String() != "250000" {
		t.Errorf("ValueToken = %s, want 250000", ev.ValueToken)
	}
	if !ev.ValueETH.IsZero() {
		t.Errorf("ValueETH = %s, want 0", ev.ValueETH)
	}
	if ev.From != "0x1111111111111111111111111111111111111111" || ev.To != "0x2222222222222222222222222222222222222222" {
		t.Errorf("unexpected addresses %s -> %s", ev.From, ev.To)
	}
	if !ev.Timestamp.Equal(blockTime) {
		t.Errorf("Timestamp = %v, want block time", ev.Timestamp)
	}
}

func TestDecodeTransferMalformed(t *testing.T) {
	good := transferLog("0x01", 0, big.NewInt(1))

	tests := []struct {
		name   string
		mutate func(l *chain.Log)
	}{
		{"two topics", func(l *chain.Log) { l.Topics = l.Topics[:2] }},
		{"four topics", func(l *chain.Log) { l.Topics = append(l.Topics, l.Topics[1]) }},
		{"wrong topic0", func(l *chain.Log) { l.Topics[0] = addressTopic("0xdead") }},
		{"short address topic", func(l *chain.Log) { l.Topics[1] = "0x1234" }},
		{"empty data", func(l *chain.Log) { l.Data = "0x" }},
		{"oversized data", func(l *chain.Log) { l.Data = "0x" + strings.Repeat("ff", 33) }},
		{"non hex data", func(l *chain.Log) { l.Data = "0xzz" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := good
			l.Topics = append([]string(nil), good.Topics...)
			tt.mutate(&l)
			if _, _, _, err := DecodeTransfer(l, 6); err == nil {
				t.Error("expected decode error")
			}
		})
	}

	if _, _, v, err := DecodeTransfer(good, 6); err != nil || v.String() != "0.000001" {
		t.Errorf("DecodeTransfer(good) = %s, %v", v, err)
	}
}

func TestMalformedLogDoesNotStopBatch(t *testing.T) {
	d := newTestDetector()
	bad := transferLog("0x01", 0, big.NewInt(250_000_000_000))
	bad.Topics = bad.Topics[:2]

	events := d.Detect(&Batch{Logs: []chain.Log{bad, transferLog("0x02", 0, big.NewInt(300_000_000_000))}})
	if len(events) != 1 || events[0].TxHash != "0x02" {
		t.Fatalf("expected only the well-formed log, got %+v", events)
	}
}

func TestDedupeWindow(t *testing.T) {
	d := newTestDetector()
	l := transferLog("0x01", 0, big.NewInt(250_000_000_000))

	if got := d.Detect(&Batch{Logs: []chain.Log{l}}); len(got) != 1 {
		t.Fatalf("first sighting: got %d events", len(got))
	}
	if got := d.Detect(&Batch{Logs: []chain.Log{l}}); len(got) != 0 {
		t.Fatalf("overlapping range re-emitted %d events", len(got))
	}

	// Push the key out of the 8-entry window
	for i := 0; i < 8; i++ {
		d.remember(string(rune('a' + i)))
	}
	if got := d.Detect(&Batch{Logs: []chain.Log{l}}); len(got) != 1 {
		t.Errorf("evicted key should be emitted again, got %d", len(got))
	}
}
