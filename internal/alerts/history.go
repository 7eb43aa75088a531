package alerts

import (
	"sync"
	"time"
)

// History is a capacity-bounded alert log, oldest evicted first
type History struct {
	max int
	now func() time.Time

	mu     sync.RWMutex
	alerts []*Alert
}

// Summary aggregates alerts over a window
type Summary struct {
	PeriodHours   float64          `json:"period_hours"`
	Total         int              `json:"total_alerts"`
	BySeverity    map[Severity]int `json:"by_severity"`
	ByType        map[Type]int     `json:"by_type"`
	CriticalCount int              `json:"critical_count"`
	TotalValueETH float64          `json:"total_value_eth"`
	TotalValueUSD float64          `json:"total_value_usd"`
}

// NewHistory creates a history holding at most max alerts
func NewHistory(max int) *History {
	if max <= 0 {
		max = 10000
	}
	return &History{max: max, now: time.Now}
}

// Add appends an alert, trimming the oldest past capacity
func (h *History) Add(a *Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.alerts = append(h.alerts, a)
	if over := len(h.alerts) - h.max; over > 0 {
		h.alerts = append([]*Alert(nil), h.alerts[over:]...)
	}
}

// Len returns the number of alerts held
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.alerts)
}

// Recent returns up to limit alerts, newest first
func (h *History) Recent(limit int) []*Alert {
	return h.filter(limit, func(*Alert) bool { return true })
}

// BySeverity returns up to limit alerts of severity s, newest first
func (h *History) BySeverity(s Severity, limit int) []*Alert {
	return h.filter(limit, func(a *Alert) bool { return a.Severity == s })
}

func (h *History) filter(limit int, keep func(*Alert) bool) []*Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Alert
	for i := len(h.alerts) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if keep(h.alerts[i]) {
			out = append(out, h.alerts[i])
		}
	}
	return out
}

// Summary counts alerts created within window of now
func (h *History) Summary(window time.Duration) Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	summary := Summary{
		PeriodHours: window.Hours(),
		BySeverity:  make(map[Severity]int),
		ByType:      make(map[Type]int),
	}

	cutoff := h.now().Add(-window)
	for _, a := range h.alerts {
		if !a.CreatedAt.After(cutoff) {
			continue
		}
		summary.Total++
		summary.BySeverity[a.Severity]++
		summary.ByType[a.Type]++
		eth, _ := a.ValueETH().Float64()
		summary.TotalValueETH += eth
		summary.TotalValueUSD += a.ValueUSD
	}
	summary.CriticalCount = summary.BySeverity[SeverityCritical]

	return summary
}
