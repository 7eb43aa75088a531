package alerts

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender sends alerts to the logger
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// Name identifies the sink
func (s *LogSender) Name() string {
	return "log"
}

// Send logs the alert
func (s *LogSender) Send(ctx context.Context, alert *Alert) error {
	fields := logrus.Fields{
		"alert_id":    alert.ID,
		"severity":    alert.Severity,
		"type":        alert.Type,
		"whale":       shorten(alert.Address),
		"value_eth":   alert.Event.ValueETH.String(),
		"value_token": alert.Event.ValueToken.String(),
		"value_usd":   alert.ValueUSD,
		"confidence":  alert.Confidence,
		"action":      alert.Action,
		"tx_hash":     shorten(alert.Event.TxHash),
	}
	if alert.Profile != nil {
		fields["whale_type"] = alert.Profile.Type
	}
	if alert.Impact != nil {
		fields["impact_score"] = alert.Impact.Score
	}
	s.log.WithFields(fields).Info("Alert generated")
	return nil
}
