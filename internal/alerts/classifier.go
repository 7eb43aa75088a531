package alerts

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/liamashdown/whalewatch/internal/impact"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/liamashdown/whalewatch/internal/whale"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	// neutralConfidence stands in when no impact could be measured
	neutralConfidence = 0.5

	profileConfidenceBar   = 0.7
	profileConfidenceBonus = 0.05
	directionBonus         = 0.05
)

// ClassifierConfig holds alert thresholds
type ClassifierConfig struct {
	CriticalETH          float64
	CriticalToken        float64
	HighETH              float64
	HighToken            float64
	MinConfidence        float64
	EnableExchangeAlerts bool
	DirectionHorizon     time.Duration
}

// Classifier turns whale events into graded alerts
type Classifier struct {
	criticalETH   decimal.Decimal
	criticalToken decimal.Decimal
	highETH       decimal.Decimal
	highToken     decimal.Decimal
	cfg           ClassifierConfig
	history       *History
	log           *logrus.Logger
	now           func() time.Time
}

// NewClassifier creates a classifier appending to history
func NewClassifier(cfg ClassifierConfig, history *History, log *logrus.Logger) *Classifier {
	return &Classifier{
		criticalETH:   decimal.NewFromFloat(cfg.CriticalETH),
		criticalToken: decimal.NewFromFloat(cfg.CriticalToken),
		highETH:       decimal.NewFromFloat(cfg.HighETH),
		highToken:     decimal.NewFromFloat(cfg.HighToken),
		cfg:           cfg,
		history:       history,
		log:           log,
		now:           time.Now,
	}
}

// Classify grades an event. It returns nil when the impact confidence is
// below the minimum or neither asset value meets the threshold for the
// chosen type. Profile and metrics are both optional.
func (c *Classifier) Classify(ev whale.Event, profile *whale.Profile, m *impact.Metrics) *Alert {
	confidence := neutralConfidence
	if m != nil {
		confidence = m.Confidence
	}
	if confidence < c.cfg.MinConfidence {
		metrics.AlertsRejected.Inc()
		c.log.WithFields(logrus.Fields{
			"event":      ev.Key(),
			"confidence": confidence,
		}).Debug("Alert rejected: low confidence")
		return nil
	}

	alertType := c.alertType(profile)

	ethThreshold, tokenThreshold := c.highETH, c.highToken
	if alertType == TypeCriticalMovement {
		ethThreshold, tokenThreshold = c.criticalETH, c.criticalToken
	}
	if ev.ValueETH.LessThan(ethThreshold) && ev.ValueToken.LessThan(tokenThreshold) {
		metrics.AlertsRejected.Inc()
		c.log.WithFields(logrus.Fields{
			"event": ev.Key(),
			"type":  alertType,
		}).Debug("Alert rejected: below threshold")
		return nil
	}

	severity := c.severity(ev, c.severityConfidence(confidence, alertType, profile, m))

	createdAt := c.now().UTC()
	address := ev.Subject()
	direction := DirectionOutbound
	if address != ev.From {
		direction = DirectionInbound
	}

	alert := &Alert{
		ID:         alertID(address, ev.TxHash, createdAt),
		Type:       alertType,
		Severity:   severity,
		CreatedAt:  createdAt,
		Address:    address,
		Profile:    profile,
		Event:      ev,
		ValueUSD:   valueUSD(ev, m),
		Direction:  direction,
		Impact:     m,
		Confidence: confidence,
		Action:     RecommendedAction(severity, alertType),
		Metadata:   c.metadata(ev, profile, m),
	}

	c.history.Add(alert)
	metrics.RecordAlert(string(severity), string(alertType))

	return alert
}

// alertType applies the fixed precedence: exchange, dumping, accumulating,
// then critical movement
func (c *Classifier) alertType(profile *whale.Profile) Type {
	if profile == nil {
		return TypeCriticalMovement
	}
	if profile.Type.IsExchange() {
		if c.cfg.EnableExchangeAlerts {
			return TypeExchangeActivity
		}
		return TypeCriticalMovement
	}
	switch profile.Activity {
	case whale.ActivityDumping:
		return TypeDumping
	case whale.ActivityAccumulating:
		return TypeAccumulation
	}
	return TypeCriticalMovement
}

// severityConfidence adds small bonuses for a confident profile and for an
// observed price move in the direction the type implies
func (c *Classifier) severityConfidence(confidence float64, t Type, profile *whale.Profile, m *impact.Metrics) float64 {
	if profile != nil && profile.Confidence >= profileConfidenceBar {
		confidence += profileConfidenceBonus
	}
	if m != nil {
		if (t == TypeDumping && m.Direction == impact.DirectionDown) ||
			(t == TypeAccumulation && m.Direction == impact.DirectionUp) {
			confidence += directionBonus
		}
	}
	return whale.Clamp(confidence, 0, 1)
}

func (c *Classifier) severity(ev whale.Event, confidence float64) Severity {
	critical := ev.ValueETH.GreaterThanOrEqual(c.criticalETH) || ev.ValueToken.GreaterThanOrEqual(c.criticalToken)
	high := ev.ValueETH.GreaterThanOrEqual(c.highETH) || ev.ValueToken.GreaterThanOrEqual(c.highToken)

	switch {
	case critical && confidence > 0.8:
		return SeverityCritical
	case high && confidence > 0.7:
		return SeverityHigh
	case confidence >= 0.8:
		return SeverityHigh
	case confidence >= 0.7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func (c *Classifier) metadata(ev whale.Event, profile *whale.Profile, m *impact.Metrics) map[string]any {
	md := map[string]any{
		"data_source":  "whalewatch",
		"version":      "1.0",
		"enriched":     profile != nil,
		"source":       string(ev.Source),
		"block_number": ev.BlockNumber,
	}
	if profile != nil && profile.KnownEntity != "" {
		md["known_entity"] = profile.KnownEntity
	}
	if m != nil {
		change, _ := m.ChangeAt(c.cfg.DirectionHorizon)
		md["price_change_1h_pct"] = change
		md["volume_surge_pct"] = m.VolumeSurgePct
		md["impact_score"] = m.Score
	}
	return md
}

// RecommendedAction maps severity and type to a trading directive
func RecommendedAction(s Severity, t Type) string {
	switch s {
	case SeverityCritical:
		switch t {
		case TypeDumping:
			return "CONSIDER_SHORT | REDUCE_LONG_POSITIONS | SET_SELL_ORDERS"
		case TypeAccumulation:
			return "CONSIDER_LONG | INCREASE_BUY_ORDERS | MONITOR_CLOSELY"
		default:
			return "PREPARE_FOR_VOLATILITY | TIGHTEN_STOPS | REDUCE_LEVERAGE"
		}
	case SeverityHigh:
		switch t {
		case TypeDumping:
			return "MONITOR_SELLING | BE_READY_TO_SELL"
		case TypeAccumulation:
			return "MONITOR_BUYING | TRACK_ENTRY_POINTS"
		default:
			return "INCREASE_MONITORING | PREPARE_FOR_MOVEMENT"
		}
	default:
		return "INFORMATIONAL | NO_IMMEDIATE_ACTION"
	}
}

// alertID hashes address, tx hash and generation time. The same event
// classified twice gets two ids.
func alertID(address, txHash string, at time.Time) string {
	sum := sha256.Sum256([]byte(address + txHash + at.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

// valueUSD prices the native leg at the event's base price and the token leg
// at its reference rate. Without metrics only the token leg can be priced.
func valueUSD(ev whale.Event, m *impact.Metrics) float64 {
	eth, _ := ev.ValueETH.Float64()
	tokens, _ := ev.ValueToken.Float64()
	if m == nil {
		return tokens
	}
	rate := m.ReferenceRate
	if rate <= 0 {
		rate = 1
	}
	return eth*m.BasePrice + tokens*rate
}
