package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/liamashdown/whalewatch/internal/fault"
	"github.com/liamashdown/whalewatch/internal/impact"
	"github.com/liamashdown/whalewatch/internal/whale"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body
const SignatureHeader = "X-Signature"

// Payload is the JSON body posted to webhook sinks
type Payload struct {
	Event             string         `json:"event"`
	ID                string         `json:"id"`
	Type              Type           `json:"type"`
	Severity          Severity       `json:"severity"`
	Timestamp         time.Time      `json:"timestamp"`
	Whale             PayloadWhale   `json:"whale"`
	Transaction       PayloadTx      `json:"transaction"`
	MarketImpact      PayloadImpact  `json:"market_impact"`
	Confidence        float64        `json:"confidence"`
	RecommendedAction string         `json:"recommended_action"`
	Metadata          map[string]any `json:"metadata"`
}

// PayloadWhale identifies the address behind an alert
type PayloadWhale struct {
	Address string         `json:"address"`
	Profile *whale.Profile `json:"profile"`
}

// PayloadTx describes the underlying transfer
type PayloadTx struct {
	Hash       string    `json:"hash"`
	ValueETH   string    `json:"value_eth"`
	ValueToken string    `json:"value_token"`
	ValueUSD   float64   `json:"value_usd"`
	Direction  Direction `json:"direction"`
	From       string    `json:"from"`
	To         string    `json:"to"`
}

type PayloadImpact struct {
	AffectedPools []string        `json:"affected_pools"`
	PriceImpact   *impact.Metrics `json:"price_impact"`
}

// NewPayload builds the webhook body for an alert
func NewPayload(a *Alert) Payload {
	return Payload{
		Event:     "whale_alert",
		ID:        a.ID,
		Type:      a.Type,
		Severity:  a.Severity,
		Timestamp: a.CreatedAt,
		Whale: PayloadWhale{
			Address: a.Address,
			Profile: a.Profile,
		},
		Transaction: PayloadTx{
			Hash:       a.Event.TxHash,
			ValueETH:   a.Event.ValueETH.String(),
			ValueToken: a.Event.ValueToken.String(),
			ValueUSD:   a.ValueUSD,
			Direction:  a.Direction,
			From:       a.Event.From,
			To:         a.Event.To,
		},
		MarketImpact: PayloadImpact{
			AffectedPools: a.AffectedPools(),
			PriceImpact:   a.Impact,
		},
		Confidence:        a.Confidence,
		RecommendedAction: a.Action,
		Metadata:          a.Metadata,
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookSender posts signed alert payloads to an HTTP endpoint
type WebhookSender struct {
	url        string
	secret     string
	httpClient *http.Client
}

// NewWebhookSender creates a webhook sender. An empty secret disables signing.
func NewWebhookSender(url, secret string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookSender{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the sink
func (s *WebhookSender) Name() string {
	return "webhook:" + s.url
}

// Send posts the alert. 2xx is success, 5xx and transport failures are
// transient, anything else is rejected.
func (s *WebhookSender) Send(ctx context.Context, alert *Alert) error {
	const op = "webhook send"

	body, err := json.Marshal(NewPayload(alert))
	if err != nil {
		return fault.Malformed(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fault.New(fault.KindConfig, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fault.Transient(op, err)
	}
	defer resp.Body.Close()

	return statusError(op, resp)
}

// statusError maps a sink response to the error taxonomy
func statusError(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	if resp.StatusCode >= 500 {
		return fault.Transient(op, err)
	}
	return fault.Rejected(op, err)
}
