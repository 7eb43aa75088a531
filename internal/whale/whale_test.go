package whale

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewEvent(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name    string
		hash    string
		from    string
		eth     decimal.Decimal
		src     Source
		wantErr bool
	}{
		{"valid native", "0x1", "0xA", decimal.NewFromInt(150), SourceNative, false},
		{"missing hash", "", "0xa", decimal.NewFromInt(150), SourceNative, true},
		{"missing sender", "0x1", "", decimal.NewFromInt(150), SourceNative, true},
		{"negative value", "0x1", "0xa", decimal.NewFromInt(-1), SourceNative, true},
		{"unknown source", "0x1", "0xa", decimal.NewFromInt(1), Source("bridge"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := NewEvent(tt.hash, 0, 1, tt.from, "0xB", tt.eth, decimal.Zero, ts, tt.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (ev.From != "0xa" || ev.To != "0xb") {
				t.Errorf("addresses not lowercased: %s -> %s", ev.From, ev.To)
			}
		})
	}
}

func TestSubject(t *testing.T) {
	native, _ := NewEvent("0x1", 0, 1, "0xfrom", "0xto", decimal.NewFromInt(200), decimal.Zero, time.Now(), SourceNative)
	token, _ := NewEvent("0x2", 3, 1, "0xfrom", "0xto", decimal.Zero, decimal.NewFromInt(200_000), time.Now(), SourceToken)

	if native.Subject() != "0xfrom" {
		t.Errorf("native subject = %s, want sender", native.Subject())
	}
	if token.Subject() != "0xto" {
		t.Errorf("token subject = %s, want receiver", token.Subject())
	}
	if token.Key() != "0x2:3" {
		t.Errorf("Key() = %s", token.Key())
	}
}

func TestNewProfileClamps(t *testing.T) {
	p := NewProfile("0xABC", TypePrivateWhale, 1.4, "", 130, time.Now())
	if p.Confidence != 1 || p.RiskScore != 100 {
		t.Errorf("not clamped: confidence=%f risk=%f", p.Confidence, p.RiskScore)
	}
	if p.Activity != ActivityUnobserved {
		t.Errorf("Activity = %s, want unobserved", p.Activity)
	}
	if p.Address != "0xabc" {
		t.Errorf("Address = %s", p.Address)
	}
}
