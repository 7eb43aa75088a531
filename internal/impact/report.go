package impact

import (
	"math"
	"sort"
	"time"
)

const (
	highImpactScore = 50.0
	priceMoverPct   = 2.0
	reportTopN      = 10
)

// Report summarizes recent impact results
type Report struct {
	Window          time.Duration `json:"window"`
	Total           int           `json:"total_whales_analyzed"`
	HighImpactCount int           `json:"high_impact_count"`
	PriceMoverCount int           `json:"price_mover_count"`
	AverageScore    float64       `json:"avg_impact_score"`
	Up              int           `json:"price_ups"`
	Down            int           `json:"price_downs"`
	Neutral         int           `json:"price_neutrals"`
	Top             []*Metrics    `json:"top_impacts"`
}

// Report builds a summary of the results for events within window of now
func (c *Correlator) Report(window time.Duration) Report {
	recent := c.Recent(window)
	report := Report{Window: window, Total: len(recent)}
	if len(recent) == 0 {
		return report
	}

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Score > recent[j].Score
	})

	var sum float64
	for _, m := range recent {
		sum += m.Score
		if m.Score > highImpactScore {
			report.HighImpactCount++
		}
		if change, _ := m.ChangeAt(c.cfg.DirectionHorizon); math.Abs(change) > priceMoverPct {
			report.PriceMoverCount++
		}
		switch m.Direction {
		case DirectionUp:
			report.Up++
		case DirectionDown:
			report.Down++
		default:
			report.Neutral++
		}
	}
	report.AverageScore = sum / float64(len(recent))

	if len(recent) > reportTopN {
		recent = recent[:reportTopN]
	}
	report.Top = recent
	return report
}
