package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/liamashdown/whalewatch/internal/fault"
)

// DiscordSender sends alerts to Discord via webhook
type DiscordSender struct {
	webhookURL  string
	environment string
	httpClient  *http.Client
}

// NewDiscordSender creates a new Discord sender
func NewDiscordSender(webhookURL, environment string) *DiscordSender {
	return &DiscordSender{
		webhookURL:  webhookURL,
		environment: environment,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name identifies the sink
func (s *DiscordSender) Name() string {
	return "discord"
}

// Send sends the alert to Discord
func (s *DiscordSender) Send(ctx context.Context, alert *Alert) error {
	const op = "discord send"

	webhookPayload := map[string]interface{}{
		"embeds": []interface{}{s.buildEmbed(alert)},
	}

	body, err := json.Marshal(webhookPayload)
	if err != nil {
		return fault.Malformed(op, fmt.Errorf("marshal webhook payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fault.New(fault.KindConfig, op, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fault.Transient(op, fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	return statusError(op, resp)
}

func (s *DiscordSender) buildEmbed(alert *Alert) map[string]interface{} {
	// Title and color by severity
	var title string
	var color int
	switch alert.Severity {
	case SeverityCritical:
		title = "🐋 CRITICAL whale movement"
		color = 0xFF0000 // Red
	case SeverityHigh:
		title = "🐋 High-value whale movement"
		color = 0xFFA500 // Orange
	case SeverityMedium:
		title = "🐋 Whale movement"
		color = 0xFFD700 // Gold
	default:
		title = "ℹ️ Whale transfer detected"
		color = 0x0099FF // Blue
	}

	description := fmt.Sprintf("**%s** (%s)\n%s", valueLine(alert), alert.Direction, alert.Action)

	fields := []map[string]interface{}{
		{
			"name":   "Whale",
			"value":  fmt.Sprintf("`%s`", shorten(alert.Address)),
			"inline": true,
		},
		{
			"name":   "Type",
			"value":  string(alert.Type),
			"inline": true,
		},
		{
			"name":   "Confidence",
			"value":  fmt.Sprintf("%.0f%%", alert.Confidence*100),
			"inline": true,
		},
		{
			"name":   "Value USD",
			"value":  fmt.Sprintf("$%.2f", alert.ValueUSD),
			"inline": true,
		},
		{
			"name":   "Tx",
			"value":  fmt.Sprintf("`%s`", shorten(alert.Event.TxHash)),
			"inline": true,
		},
	}

	if p := alert.Profile; p != nil {
		profile := fmt.Sprintf("%s, %s, risk %.0f/100", p.Type, p.Activity, p.RiskScore)
		if p.KnownEntity != "" {
			profile = p.KnownEntity + " (" + profile + ")"
		}
		fields = append(fields, map[string]interface{}{
			"name":   "Profile",
			"value":  truncate(profile, 200),
			"inline": false,
		})
	}

	if m := alert.Impact; m != nil {
		var parts []string
		for _, c := range m.Changes {
			if c.Observed {
				parts = append(parts, fmt.Sprintf("%s: %+.2f%%", c.Horizon, c.ChangePct))
			}
		}
		parts = append(parts, fmt.Sprintf("Volume surge: %+.1f%%", m.VolumeSurgePct))
		parts = append(parts, fmt.Sprintf("Impact score: **%.0f/100** (%s)", m.Score, m.Direction))
		fields = append(fields, map[string]interface{}{
			"name":   "📊 Market impact",
			"value":  truncate(strings.Join(parts, "\n"), 1000),
			"inline": false,
		})
	}

	footer := map[string]interface{}{
		"text": fmt.Sprintf("Whale Watch • %s • %s", s.environment, alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")),
	}

	return map[string]interface{}{
		"title":       title,
		"description": description,
		"color":       color,
		"fields":      fields,
		"footer":      footer,
		"timestamp":   alert.CreatedAt.Format(time.RFC3339),
	}
}

// valueLine renders the non-zero asset values of an alert
func valueLine(alert *Alert) string {
	var parts []string
	if !alert.Event.ValueETH.IsZero() {
		parts = append(parts, alert.Event.ValueETH.StringFixed(2)+" ETH")
	}
	if !alert.Event.ValueToken.IsZero() {
		parts = append(parts, alert.Event.ValueToken.StringFixed(2)+" tokens")
	}
	if len(parts) == 0 {
		return "0 ETH"
	}
	return strings.Join(parts, " + ")
}

func shorten(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:8] + "..." + s[len(s)-4:]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
