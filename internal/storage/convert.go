package storage

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/liamashdown/whalewatch/internal/alerts"
	"github.com/liamashdown/whalewatch/internal/impact"
	"github.com/liamashdown/whalewatch/internal/whale"
)

func eventRecord(ev whale.Event) *WhaleEvent {
	return &WhaleEvent{
		EventKey:     ev.Key(),
		TxHash:       ev.TxHash,
		LogIndex:     ev.LogIndex,
		BlockNumber:  ev.BlockNumber,
		FromAddress:  ev.From,
		ToAddress:    ev.To,
		ValueETH:     ev.ValueETH,
		ValueToken:   ev.ValueToken,
		Source:       string(ev.Source),
		TimestampSec: ev.Timestamp.Unix(),
	}
}

func profileRecord(p *whale.Profile) *WhaleProfile {
	return &WhaleProfile{
		Address:        p.Address,
		WhaleType:      string(p.Type),
		Confidence:     p.Confidence,
		Activity:       string(p.Activity),
		RiskScore:      p.RiskScore,
		KnownEntity:    p.KnownEntity,
		BalanceETH:     p.BalanceETH,
		TxCount:        p.TxCount,
		Counterparties: p.Counterparties,
		IsContract:     p.IsContract,
		ProfiledTS:     p.ProfiledAt.Unix(),
	}
}

func alertRecord(a *alerts.Alert) (*Alert, error) {
	payload, err := json.Marshal(alerts.NewPayload(a))
	if err != nil {
		return nil, err
	}
	rec := &Alert{
		AlertID:      a.ID,
		AlertType:    string(a.Type),
		Severity:     string(a.Severity),
		WhaleAddress: a.Address,
		TxHash:       a.Event.TxHash,
		ValueETH:     a.Event.ValueETH,
		ValueToken:   a.Event.ValueToken,
		ValueUSD:     a.ValueUSD,
		Direction:    string(a.Direction),
		Confidence:   a.Confidence,
		Action:       a.Action,
		Payload:      string(payload),
		CreatedTS:    a.CreatedAt.Unix(),
	}
	if a.Impact != nil {
		rec.ImpactScore = a.Impact.Score
	}
	return rec, nil
}

func impactRecord(m *impact.Metrics) *ImpactRecord {
	change1m, _ := m.ChangeAt(time.Minute)
	change5m, _ := m.ChangeAt(5 * time.Minute)
	change1h, _ := m.ChangeAt(time.Hour)
	return &ImpactRecord{
		EventKey:       m.EventID,
		Venue:          m.Venue,
		ValueETH:       m.ValueETH,
		Change1mPct:    change1m,
		Change5mPct:    change5m,
		Change1hPct:    change1h,
		VolumeSurgePct: m.VolumeSurgePct,
		Score:          m.Score,
		Direction:      string(m.Direction),
		Confidence:     m.Confidence,
		BasePrice:      m.BasePrice,
		EventTS:        m.EventTime.Unix(),
		ComputedTS:     m.ComputedAt.Unix(),
	}
}

func subscriptionRecord(s *alerts.Subscription) *Subscription {
	types := make([]string, len(s.Types))
	for i, t := range s.Types {
		types[i] = string(t)
	}
	return &Subscription{
		ID:          s.ID.String(),
		Endpoint:    s.Endpoint,
		MinSeverity: string(s.MinSeverity),
		Types:       strings.Join(types, ","),
		Active:      s.Active,
		CreatedTS:   s.CreatedAt.Unix(),
	}
}

func (r *Subscription) toSubscription() (*alerts.Subscription, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, err
	}
	var types []alerts.Type
	for _, t := range strings.Split(r.Types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, alerts.Type(t))
		}
	}
	return &alerts.Subscription{
		ID:          id,
		Endpoint:    r.Endpoint,
		MinSeverity: alerts.Severity(r.MinSeverity),
		Types:       types,
		CreatedAt:   time.Unix(r.CreatedTS, 0).UTC(),
		Active:      r.Active,
	}, nil
}
