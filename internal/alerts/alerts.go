package alerts

import (
	"context"
	"time"

	"github.com/liamashdown/whalewatch/internal/impact"
	"github.com/liamashdown/whalewatch/internal/whale"
	"github.com/shopspring/decimal"
)

// Severity represents alert severity
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is as severe as min. An empty min matches all.
func (s Severity) AtLeast(min Severity) bool {
	if min == "" {
		return true
	}
	return severityRank[s] >= severityRank[min]
}

// Type is the kind of movement an alert reports
type Type string

const (
	TypeCriticalMovement Type = "critical_movement"
	TypePatternShift     Type = "pattern_shift"
	TypeExchangeActivity Type = "exchange_activity"
	TypeAccumulation     Type = "accumulation"
	TypeDumping          Type = "dumping"
	TypeLiquidityDrain   Type = "liquidity_drain"
	TypeWhaleWakeUp      Type = "whale_wake_up"
)

var knownTypes = map[Type]bool{
	TypeCriticalMovement: true,
	TypePatternShift:     true,
	TypeExchangeActivity: true,
	TypeAccumulation:     true,
	TypeDumping:          true,
	TypeLiquidityDrain:   true,
	TypeWhaleWakeUp:      true,
}

// Valid reports whether t is a known alert type
func (t Type) Valid() bool {
	return knownTypes[t]
}

// Direction is the flow of value relative to the whale address
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Alert is a classified whale event. Never mutated after creation.
type Alert struct {
	ID         string          `json:"alert_id"`
	Type       Type            `json:"alert_type"`
	Severity   Severity        `json:"severity"`
	CreatedAt  time.Time       `json:"timestamp"`
	Address    string          `json:"whale_address"`
	Profile    *whale.Profile  `json:"whale_profile"`
	Event      whale.Event     `json:"event"`
	ValueUSD   float64         `json:"value_usd"`
	Direction  Direction       `json:"direction"`
	Impact     *impact.Metrics `json:"price_impact"`
	Confidence float64         `json:"confidence"`
	Action     string          `json:"action_recommended"`
	Metadata   map[string]any  `json:"metadata"`
}

// ValueETH returns the native value of the underlying transfer
func (a *Alert) ValueETH() decimal.Decimal {
	return a.Event.ValueETH
}

// AffectedPools returns the markets the impact was measured on
func (a *Alert) AffectedPools() []string {
	if a.Impact == nil {
		return []string{}
	}
	return a.Impact.AffectedMarkets
}

// Sender defines the interface for alert sinks
type Sender interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}
