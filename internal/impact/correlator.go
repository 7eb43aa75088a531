package impact

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/liamashdown/whalewatch/internal/whale"
	"github.com/sirupsen/logrus"
)

// Direction is the price move following an event
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionNeutral Direction = "neutral"
)

const (
	baseConfidence       = 0.7
	surgeConfidenceBonus = 0.2
	moveConfidenceBonus  = 0.1
	moveConfidencePct    = 1.0
	maxSizeFactor        = 40.0
	maxPriceFactor       = 40.0
	maxVolumeFactor      = 20.0
)

// HorizonChange is the price change observed within one horizon after an event
type HorizonChange struct {
	Horizon   time.Duration `json:"horizon"`
	ChangePct float64       `json:"change_pct"`
	Observed  bool          `json:"observed"`
}

// Metrics is the impact of one event on one venue
type Metrics struct {
	EventID         string          `json:"event_id"`
	Venue           string          `json:"venue"`
	ValueETH        float64         `json:"value_eth_equivalent"`
	Changes         []HorizonChange `json:"changes"`
	VolumeSurgePct  float64         `json:"volume_surge_pct"`
	Score           float64         `json:"impact_score"`
	Direction       Direction       `json:"direction"`
	Confidence      float64         `json:"confidence"`
	AffectedMarkets []string        `json:"affected_markets"`
	BasePrice       float64         `json:"base_price"`
	ReferenceRate   float64         `json:"reference_rate"`
	EventTime       time.Time       `json:"event_time"`
	ComputedAt      time.Time       `json:"computed_at"`
}

// ChangeAt returns the change for horizon h, zero when unobserved
func (m *Metrics) ChangeAt(h time.Duration) (float64, bool) {
	for _, c := range m.Changes {
		if c.Horizon == h {
			return c.ChangePct, c.Observed
		}
	}
	return 0, false
}

// CorrelatorConfig holds correlation settings
type CorrelatorConfig struct {
	Venue               string
	Horizons            []time.Duration
	DirectionHorizon    time.Duration
	DirectionEpsilonPct float64
	WhaleSizeETH        float64
	MinVolumeSurgePct   float64
	AffectedMarkets     []string
	CacheMaxAge         time.Duration
	CacheMaxSize        int
}

// Correlator measures price and volume moves around whale events
type Correlator struct {
	tracker *Tracker
	cfg     CorrelatorConfig
	log     *logrus.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache []*Metrics
}

// NewCorrelator creates a correlator reading from tracker
func NewCorrelator(tracker *Tracker, cfg CorrelatorConfig, log *logrus.Logger) *Correlator {
	if cfg.WhaleSizeETH <= 0 {
		cfg.WhaleSizeETH = 100
	}
	return &Correlator{
		tracker: tracker,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Correlate computes the impact of ev. It returns nil when the venue has
// fewer than two snapshots or none on one side of the event.
func (c *Correlator) Correlate(ev whale.Event) *Metrics {
	history := c.tracker.History(c.cfg.Venue)
	if len(history) < 2 {
		return nil
	}

	before, after, ok := bracket(history, ev.Timestamp)
	if !ok {
		return nil
	}

	basePrice := before.Price
	changes := make([]HorizonChange, 0, len(c.cfg.Horizons))
	for _, h := range c.cfg.Horizons {
		hc := HorizonChange{Horizon: h}
		if latest, found := latestWithin(history, ev.Timestamp, ev.Timestamp.Add(h)); found {
			hc.ChangePct = percentChange(basePrice, latest.Price)
			hc.Observed = true
		}
		changes = append(changes, hc)
	}

	m := &Metrics{
		EventID:         ev.Key(),
		Venue:           c.cfg.Venue,
		Changes:         changes,
		AffectedMarkets: c.cfg.AffectedMarkets,
		BasePrice:       basePrice,
		ReferenceRate:   before.ReferenceRate,
		EventTime:       ev.Timestamp,
		ComputedAt:      c.now().UTC(),
	}

	directionChange, _ := m.ChangeAt(c.cfg.DirectionHorizon)
	m.Direction = direction(directionChange, c.cfg.DirectionEpsilonPct)

	if before.Volume > 0 {
		m.VolumeSurgePct = (after.Volume - before.Volume) / before.Volume * 100
	}

	m.ValueETH = ethEquivalent(ev, basePrice, before.ReferenceRate)
	absChange := math.Abs(directionChange)

	sizeFactor := math.Min(m.ValueETH/c.cfg.WhaleSizeETH*20, maxSizeFactor)
	priceFactor := math.Min(absChange*5, maxPriceFactor)
	volumeFactor := math.Min(math.Max(m.VolumeSurgePct-c.cfg.MinVolumeSurgePct, 0)/10, maxVolumeFactor)
	m.Score = whale.Clamp(sizeFactor+priceFactor+volumeFactor, 0, 100)

	confidence := baseConfidence
	if m.VolumeSurgePct > c.cfg.MinVolumeSurgePct {
		confidence += surgeConfidenceBonus
	}
	if absChange > moveConfidencePct {
		confidence += moveConfidenceBonus
	}
	m.Confidence = whale.Clamp(confidence, 0, 1)

	metrics.ImpactScores.Observe(m.Score)
	c.remember(m)

	c.log.WithFields(logrus.Fields{
		"event":      m.EventID,
		"score":      fmt.Sprintf("%.1f", m.Score),
		"direction":  m.Direction,
		"confidence": m.Confidence,
	}).Debug("Impact correlated")

	return m
}

// bracket finds the latest snapshot at or before t and the earliest after t
func bracket(history []Snapshot, t time.Time) (Snapshot, Snapshot, bool) {
	// First index strictly after t
	i := sort.Search(len(history), func(i int) bool {
		return history[i].Timestamp.After(t)
	})
	if i == 0 || i == len(history) {
		return Snapshot{}, Snapshot{}, false
	}
	return history[i-1], history[i], true
}

// latestWithin returns the newest snapshot in (from, to]
func latestWithin(history []Snapshot, from, to time.Time) (Snapshot, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		ts := history[i].Timestamp
		if ts.After(to) {
			continue
		}
		if !ts.After(from) {
			break
		}
		return history[i], true
	}
	return Snapshot{}, false
}

func percentChange(before, after float64) float64 {
	if before <= 0 {
		return 0
	}
	return (after - before) / before * 100
}

func direction(change, epsilon float64) Direction {
	switch {
	case math.Abs(change) < epsilon:
		return DirectionNeutral
	case change > 0:
		return DirectionUp
	default:
		return DirectionDown
	}
}

// ethEquivalent converts the event value to ETH using the base price and the
// token's reference rate
func ethEquivalent(ev whale.Event, basePrice, refRate float64) float64 {
	value, _ := ev.ValueETH.Float64()
	if !ev.ValueToken.IsZero() && basePrice > 0 {
		tokens, _ := ev.ValueToken.Float64()
		if refRate <= 0 {
			refRate = 1
		}
		value += tokens * refRate / basePrice
	}
	return value
}

func (c *Correlator) remember(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = append(c.cache, m)

	drop := 0
	if c.cfg.CacheMaxAge > 0 {
		cutoff := m.ComputedAt.Add(-c.cfg.CacheMaxAge)
		for drop < len(c.cache) && c.cache[drop].ComputedAt.Before(cutoff) {
			drop++
		}
	}
	if c.cfg.CacheMaxSize > 0 && len(c.cache)-drop > c.cfg.CacheMaxSize {
		drop = len(c.cache) - c.cfg.CacheMaxSize
	}
	if drop > 0 {
		c.cache = append([]*Metrics(nil), c.cache[drop:]...)
	}
}

// Recent returns cached results whose event happened within window of now
func (c *Correlator) Recent(window time.Duration) []*Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-window)
	var out []*Metrics
	for _, m := range c.cache {
		if m.EventTime.After(cutoff) {
			out = append(out, m)
		}
	}
	return out
}
