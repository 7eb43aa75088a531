package alerts

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/liamashdown/whalewatch/internal/fault"
)

// SMTPSender sends alerts via email
type SMTPSender struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       []string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(host string, port int, user, password, from string, to []string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		to:       to,
		send:     smtp.SendMail,
	}
}

// Name identifies the sink
func (s *SMTPSender) Name() string {
	return "smtp"
}

// Send sends the alert via email
func (s *SMTPSender) Send(ctx context.Context, alert *Alert) error {
	const op = "smtp send"

	if len(s.to) == 0 {
		return fault.New(fault.KindConfig, op, errors.New("no recipients"))
	}

	subject := fmt.Sprintf("[%s] Whale %s: %s", strings.ToUpper(string(alert.Severity)), alert.Type, valueLine(alert))

	message := fmt.Sprintf("From: %s\r\n", s.from)
	message += fmt.Sprintf("To: %s\r\n", strings.Join(s.to, ", "))
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += "Content-Type: text/plain; charset=UTF-8\r\n"
	message += "\r\n"
	message += s.buildEmailBody(alert)

	auth := smtp.PlainAuth("", s.user, s.password, s.host)
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	if err := s.send(addr, auth, s.from, s.to, []byte(message)); err != nil {
		// Permanent SMTP replies are not worth retrying
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code >= 500 {
			return fault.Rejected(op, err)
		}
		return fault.Transient(op, fmt.Errorf("send email: %w", err))
	}

	return nil
}

func (s *SMTPSender) buildEmailBody(alert *Alert) string {
	body := fmt.Sprintf("WHALE WATCH ALERT - %s\n", strings.ToUpper(string(alert.Severity)))
	body += "═══════════════════════════════════════\n\n"
	body += "TRANSFER\n"
	body += "─────────────────────────────────────\n"
	body += fmt.Sprintf("Value:          %s\n", valueLine(alert))
	body += fmt.Sprintf("Value USD:      $%.2f\n", alert.ValueUSD)
	body += fmt.Sprintf("Direction:      %s\n", alert.Direction)
	body += fmt.Sprintf("From:           %s\n", alert.Event.From)
	body += fmt.Sprintf("To:             %s\n", alert.Event.To)
	body += fmt.Sprintf("Hash:           %s\n", alert.Event.TxHash)
	body += fmt.Sprintf("Block:          %d\n\n", alert.Event.BlockNumber)

	body += "WHALE\n"
	body += "─────────────────────────────────────\n"
	body += fmt.Sprintf("Address:        %s\n", alert.Address)
	if p := alert.Profile; p != nil {
		body += fmt.Sprintf("Type:           %s (%.0f%% confidence)\n", p.Type, p.Confidence*100)
		body += fmt.Sprintf("Activity:       %s\n", p.Activity)
		body += fmt.Sprintf("Risk:           %.0f/100\n", p.RiskScore)
		if p.KnownEntity != "" {
			body += fmt.Sprintf("Entity:         %s\n", p.KnownEntity)
		}
	} else {
		body += "Profile:        unavailable\n"
	}
	body += "\n"

	if m := alert.Impact; m != nil {
		body += "MARKET IMPACT\n"
		body += "─────────────────────────────────────\n"
		for _, c := range m.Changes {
			if c.Observed {
				body += fmt.Sprintf("Change %-8s %+.2f%%\n", c.Horizon.String()+":", c.ChangePct)
			}
		}
		body += fmt.Sprintf("Volume surge:   %+.1f%%\n", m.VolumeSurgePct)
		body += fmt.Sprintf("Impact score:   %.0f/100 (%s)\n\n", m.Score, m.Direction)
	}

	body += "═══════════════════════════════════════\n"
	body += fmt.Sprintf("Type:           %s\n", alert.Type)
	body += fmt.Sprintf("Confidence:     %.0f%%\n", alert.Confidence*100)
	body += fmt.Sprintf("Action:         %s\n", alert.Action)
	body += fmt.Sprintf("Alert ID:       %s\n", alert.ID)
	body += fmt.Sprintf("Generated:      %s\n", alert.CreatedAt.UTC().Format(time.RFC3339))

	return body
}
