package impact

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Snapshot is the market state of one venue at a point in time
type Snapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	Price         float64   `json:"price"`          // base asset price in quote units
	ReferenceRate float64   `json:"reference_rate"` // quote units per tracked token, 1.0 for a stablecoin
	Volume        float64   `json:"volume"`
	Volatility    float64   `json:"volatility_pct"`
}

// Sampler takes a snapshot of one venue
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// Tracker keeps a time-ordered, retention-bounded snapshot buffer per venue
type Tracker struct {
	retention time.Duration
	log       *logrus.Logger

	samplers map[string]Sampler

	mu      sync.RWMutex
	history map[string][]Snapshot
}

// NewTracker creates a tracker keeping retention worth of snapshots
func NewTracker(retention time.Duration, log *logrus.Logger) *Tracker {
	return &Tracker{
		retention: retention,
		log:       log,
		samplers:  make(map[string]Sampler),
		history:   make(map[string][]Snapshot),
	}
}

// AddVenue registers a sampler. Must be called before Record runs.
func (t *Tracker) AddVenue(venue string, s Sampler) {
	t.samplers[venue] = s
}

// Venues returns every venue with a sampler or stored history, sorted
func (t *Tracker) Venues() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	venues := make([]string, 0, len(t.samplers)+len(t.history))
	for v := range t.samplers {
		venues = append(venues, v)
	}
	for v := range t.history {
		if _, ok := t.samplers[v]; !ok {
			venues = append(venues, v)
		}
	}
	sort.Strings(venues)
	return venues
}

// Record samples every venue concurrently and appends the results. A venue
// that fails or reports a non-positive price is skipped for this round.
func (t *Tracker) Record(ctx context.Context) int {
	var wg sync.WaitGroup
	var mu sync.Mutex
	recorded := 0

	for venue, sampler := range t.samplers {
		wg.Add(1)
		go func(venue string, sampler Sampler) {
			defer wg.Done()

			snap, err := sampler.Sample(ctx)
			if err != nil {
				metrics.RecordPriceSample(venue, "error")
				t.log.WithError(err).WithField("venue", venue).Warn("Price sample failed")
				return
			}
			if err := t.Append(venue, snap); err != nil {
				metrics.RecordPriceSample(venue, "skipped")
				t.log.WithError(err).WithField("venue", venue).Debug("Price sample skipped")
				return
			}

			metrics.RecordPriceSample(venue, "success")
			t.log.WithFields(logrus.Fields{
				"venue":      venue,
				"price":      snap.Price,
				"volume":     snap.Volume,
				"volatility": snap.Volatility,
			}).Debug("Price snapshot recorded")

			mu.Lock()
			recorded++
			mu.Unlock()
		}(venue, sampler)
	}

	wg.Wait()
	return recorded
}

// Append adds a snapshot to a venue's buffer. Snapshots older than the
// newest one are rejected, as are non-positive prices. Entries older than the
// retention window, measured from the newest snapshot, are evicted.
func (t *Tracker) Append(venue string, s Snapshot) error {
	if s.Price <= 0 {
		return fmt.Errorf("non-positive price %f", s.Price)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	buf := t.history[venue]
	if n := len(buf); n > 0 && s.Timestamp.Before(buf[n-1].Timestamp) {
		return fmt.Errorf("snapshot at %s is older than newest %s", s.Timestamp, buf[n-1].Timestamp)
	}
	buf = append(buf, s)

	cutoff := s.Timestamp.Add(-t.retention)
	drop := sort.Search(len(buf), func(i int) bool {
		return !buf[i].Timestamp.Before(cutoff)
	})
	if drop > 0 {
		buf = append([]Snapshot(nil), buf[drop:]...)
	}

	t.history[venue] = buf
	return nil
}

// History returns a copy of a venue's buffer, oldest first
func (t *Tracker) History(venue string) []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Snapshot(nil), t.history[venue]...)
}

// Latest returns the newest snapshot of a venue
func (t *Tracker) Latest(venue string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	buf := t.history[venue]
	if len(buf) == 0 {
		return Snapshot{}, false
	}
	return buf[len(buf)-1], true
}
