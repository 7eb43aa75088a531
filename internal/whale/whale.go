package whale

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies which asset a whale event moved
type Source string

const (
	SourceNative Source = "native"
	SourceToken  Source = "token"
)

// Event is a detected large transfer. Built once by NewEvent, never mutated.
type Event struct {
	TxHash      string          `json:"hash"`
	LogIndex    uint64          `json:"log_index"`
	BlockNumber uint64          `json:"block_number"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	ValueETH    decimal.Decimal `json:"value_eth"`
	ValueToken  decimal.Decimal `json:"value_token"`
	Timestamp   time.Time       `json:"timestamp"`
	Source      Source          `json:"source"`
}

// NewEvent validates and builds an event. Addresses are lowercased.
func NewEvent(txHash string, logIndex, block uint64, from, to string, valueETH, valueToken decimal.Decimal, ts time.Time, src Source) (Event, error) {
	if txHash == "" {
		return Event{}, errors.New("missing transaction hash")
	}
	if from == "" {
		return Event{}, errors.New("missing sender")
	}
	if valueETH.IsNegative() || valueToken.IsNegative() {
		return Event{}, fmt.Errorf("negative value in %s", txHash)
	}
	if src != SourceNative && src != SourceToken {
		return Event{}, fmt.Errorf("unknown source %q", src)
	}
	return Event{
		TxHash:      txHash,
		LogIndex:    logIndex,
		BlockNumber: block,
		From:        strings.ToLower(from),
		To:          strings.ToLower(to),
		ValueETH:    valueETH,
		ValueToken:  valueToken,
		Timestamp:   ts.UTC(),
		Source:      src,
	}, nil
}

// Key identifies the event for deduplication. Native transfers are keyed by
// hash alone since they have no log index.
func (e Event) Key() string {
	if e.Source == SourceNative {
		return e.TxHash
	}
	return fmt.Sprintf("%s:%d", e.TxHash, e.LogIndex)
}

// Subject is the address that gets profiled: the sender of native
// transfers, the receiver of token transfers
func (e Event) Subject() string {
	if e.Source == SourceToken && e.To != "" {
		return e.To
	}
	return e.From
}

// Type is the classification of an address
type Type string

const (
	TypeExchangeCold     Type = "exchange_cold"
	TypeExchangeHot      Type = "exchange_hot"
	TypeInstitutional    Type = "institutional"
	TypePrivateWhale     Type = "private_whale"
	TypeProtocolContract Type = "protocol_contract"
	TypeGenericContract  Type = "generic_contract"
	TypeUnknown          Type = "unknown"
)

// IsExchange reports whether the type belongs to an exchange wallet
func (t Type) IsExchange() bool {
	return t == TypeExchangeCold || t == TypeExchangeHot
}

// Activity is the observed behavior pattern of an address
type Activity string

const (
	// ActivityUnobserved is set when no behavior was measured
	ActivityUnobserved    Activity = "unobserved"
	ActivityDormant       Activity = "dormant"
	ActivityAccumulating  Activity = "accumulating"
	ActivityActiveTrading Activity = "active_trading"
	ActivityDumping       Activity = "dumping"
)

// Profile is the classification result for one address
type Profile struct {
	Address        string    `json:"address"`
	Type           Type      `json:"whale_type"`
	Confidence     float64   `json:"confidence"`
	Activity       Activity  `json:"activity_pattern"`
	RiskScore      float64   `json:"risk_score"`
	KnownEntity    string    `json:"known_entity,omitempty"`
	BalanceETH     float64   `json:"balance_eth"`
	TxCount        uint64    `json:"transaction_count"`
	Counterparties uint64    `json:"unique_counterparties"`
	IsContract     bool      `json:"is_contract"`
	Labels         []string  `json:"labels,omitempty"`
	ProfiledAt     time.Time `json:"profiled_at"`
}

// NewProfile builds a profile with confidence clamped to [0,1] and risk
// clamped to [0,100]
func NewProfile(address string, typ Type, confidence float64, activity Activity, risk float64, profiledAt time.Time) *Profile {
	if activity == "" {
		activity = ActivityUnobserved
	}
	return &Profile{
		Address:    strings.ToLower(address),
		Type:       typ,
		Confidence: Clamp(confidence, 0, 1),
		Activity:   activity,
		RiskScore:  Clamp(risk, 0, 100),
		ProfiledAt: profiledAt,
	}
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
