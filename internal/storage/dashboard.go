package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/liamashdown/whalewatch/internal/alerts"
	"github.com/liamashdown/whalewatch/internal/whale"
)

// DashboardEvent is one whale transfer as shown on the dashboard
type DashboardEvent struct {
	whale.Event
	Profile *whale.Profile `json:"whale_profile,omitempty"`
}

// DashboardSummary is the summary block of the dashboard file
type DashboardSummary struct {
	RecentETHWhales   int `json:"recent_eth_whales_count"`
	RecentTokenWhales int `json:"recent_token_whales_count"`
	TotalTracked      int `json:"total_tracked"`
	TotalAlerts       int `json:"total_alerts"`
	CriticalAlerts    int `json:"critical_alerts"`
}

// DashboardData is the JSON document written to disk
type DashboardData struct {
	LastUpdated   time.Time                 `json:"last_updated"`
	ETHWhales     []DashboardEvent          `json:"eth_whales"`
	TokenWhales   []DashboardEvent          `json:"token_whales"`
	WhaleProfiles map[string]*whale.Profile `json:"whale_profiles"`
	Alerts        []*alerts.Alert           `json:"alerts"`
	Summary       DashboardSummary          `json:"summary"`
}

// Dashboard keeps the most recent events and alerts and rewrites the
// dashboard file wholesale on every update
type Dashboard struct {
	path        string
	maxPerAsset int
	maxAlerts   int
	now         func() time.Time

	mu   sync.Mutex
	data DashboardData
}

// NewDashboard creates a dashboard writing to path
func NewDashboard(path string, maxPerAsset, maxAlerts int) *Dashboard {
	return &Dashboard{
		path:        path,
		maxPerAsset: maxPerAsset,
		maxAlerts:   maxAlerts,
		now:         time.Now,
		data: DashboardData{
			ETHWhales:     []DashboardEvent{},
			TokenWhales:   []DashboardEvent{},
			WhaleProfiles: make(map[string]*whale.Profile),
			Alerts:        []*alerts.Alert{},
		},
	}
}

// Update merges one cycle's results and writes the file. Newest events come
// first; alerts are kept oldest first.
func (d *Dashboard) Update(events []DashboardEvent, newAlerts []*alerts.Alert) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var eth, token []DashboardEvent
	for _, ev := range events {
		if ev.Source == whale.SourceToken {
			token = append(token, ev)
		} else {
			eth = append(eth, ev)
		}
		if ev.Profile != nil {
			d.data.WhaleProfiles[ev.Profile.Address] = ev.Profile
		}
	}

	d.data.ETHWhales = prepend(eth, d.data.ETHWhales, d.maxPerAsset)
	d.data.TokenWhales = prepend(token, d.data.TokenWhales, d.maxPerAsset)

	d.data.Alerts = append(d.data.Alerts, newAlerts...)
	if over := len(d.data.Alerts) - d.maxAlerts; d.maxAlerts > 0 && over > 0 {
		d.data.Alerts = append([]*alerts.Alert(nil), d.data.Alerts[over:]...)
	}

	// Profiles of addresses no longer shown are dropped
	shown := make(map[string]bool)
	for _, list := range [][]DashboardEvent{d.data.ETHWhales, d.data.TokenWhales} {
		for _, ev := range list {
			shown[ev.Subject()] = true
		}
	}
	for addr := range d.data.WhaleProfiles {
		if !shown[addr] {
			delete(d.data.WhaleProfiles, addr)
		}
	}

	critical := 0
	for _, a := range d.data.Alerts {
		if a.Severity == alerts.SeverityCritical {
			critical++
		}
	}

	d.data.LastUpdated = d.now().UTC()
	d.data.Summary = DashboardSummary{
		RecentETHWhales:   len(eth),
		RecentTokenWhales: len(token),
		TotalTracked:      len(d.data.ETHWhales) + len(d.data.TokenWhales),
		TotalAlerts:       len(d.data.Alerts),
		CriticalAlerts:    critical,
	}

	return d.write()
}

// write replaces the file atomically so readers never see a partial document
func (d *Dashboard) write() error {
	body, err := json.MarshalIndent(d.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dashboard: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("replace dashboard: %w", err)
	}
	return nil
}

func prepend(fresh, current []DashboardEvent, max int) []DashboardEvent {
	out := make([]DashboardEvent, 0, len(fresh)+len(current))
	out = append(out, fresh...)
	out = append(out, current...)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
