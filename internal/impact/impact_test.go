package impact

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/liamashdown/whalewatch/internal/whale"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func newTestCorrelator(tr *Tracker) *Correlator {
	return NewCorrelator(tr, CorrelatorConfig{
		Venue:               "binance",
		Horizons:            []time.Duration{time.Minute, 5 * time.Minute, time.Hour},
		DirectionHorizon:    time.Hour,
		DirectionEpsilonPct: 0.5,
		WhaleSizeETH:        100,
		MinVolumeSurgePct:   5,
		AffectedMarkets:     []string{"ETH-USDC-0.3%"},
		CacheMaxAge:         24 * time.Hour,
		CacheMaxSize:        100,
	}, logrus.New())
}

func nativeEvent(t *testing.T, sec int, eth int64) whale.Event {
	t.Helper()
	ev, err := whale.NewEvent("0xabc", 0, 1, "0xfrom", "0xto", decimal.NewFromInt(eth), decimal.Zero, at(sec), whale.SourceNative)
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAppendOrderingAndRetention(t *testing.T) {
	tr := NewTracker(time.Hour, logrus.New())

	if err := tr.Append("binance", Snapshot{Timestamp: at(100), Price: 10}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Append("binance", Snapshot{Timestamp: at(50), Price: 10}); err == nil {
		t.Error("expected rejection of an older snapshot")
	}
	if err := tr.Append("binance", Snapshot{Timestamp: at(100), Price: 11}); err != nil {
		t.Errorf("equal timestamp should be accepted: %v", err)
	}
	if err := tr.Append("binance", Snapshot{Timestamp: at(200), Price: 0}); err == nil {
		t.Error("expected rejection of a zero price")
	}

	// Cutoff moves to 3800-3600 = 200
	if err := tr.Append("binance", Snapshot{Timestamp: at(3800), Price: 12}); err != nil {
		t.Fatal(err)
	}
	history := tr.History("binance")
	if len(history) != 1 || history[0].Price != 12 {
		t.Errorf("retention not applied: %+v", history)
	}
}

func TestCorrelateHorizonScenario(t *testing.T) {
	tr := NewTracker(24*time.Hour, logrus.New())
	tr.Append("binance", Snapshot{Timestamp: at(0), Price: 100, ReferenceRate: 1})
	tr.Append("binance", Snapshot{Timestamp: at(300), Price: 97, ReferenceRate: 1})

	c := newTestCorrelator(tr)
	m := c.Correlate(nativeEvent(t, 10, 150))
	if m == nil {
		t.Fatal("expected metrics")
	}

	if _, observed := m.ChangeAt(time.Minute); observed {
		t.Error("1m horizon has no snapshot in (10, 70] and should be unobserved")
	}
	change5m, observed := m.ChangeAt(5 * time.Minute)
	if !observed || !almostEqual(change5m, -3) {
		t.Errorf("5m change = %f (observed %v), want -3", change5m, observed)
	}
	change1h, _ := m.ChangeAt(time.Hour)
	if !almostEqual(change1h, -3) {
		t.Errorf("1h change = %f, want -3", change1h)
	}
	if m.Direction != DirectionDown {
		t.Errorf("Direction = %s, want down", m.Direction)
	}

	// size min(150/100*20, 40)=30, price min(3*5, 40)=15, no volume
	if !almostEqual(m.Score, 45) {
		t.Errorf("Score = %f, want 45", m.Score)
	}
	// 0.7 base + 0.1 for a move above 1%
	if !almostEqual(m.Confidence, 0.8) {
		t.Errorf("Confidence = %f, want 0.8", m.Confidence)
	}
	if m.BasePrice != 100 {
		t.Errorf("BasePrice = %f", m.BasePrice)
	}
}

func TestCorrelateInsufficientHistory(t *testing.T) {
	tests := []struct {
		name   string
		snaps  []Snapshot
		evTime int
	}{
		{"empty", nil, 10},
		{"single snapshot", []Snapshot{{Timestamp: at(0), Price: 100}}, 10},
		{"nothing after event", []Snapshot{{Timestamp: at(0), Price: 100}, {Timestamp: at(5), Price: 101}}, 10},
		{"nothing before event", []Snapshot{{Timestamp: at(20), Price: 100}, {Timestamp: at(30), Price: 101}}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(24*time.Hour, logrus.New())
			for _, s := range tt.snaps {
				tr.Append("binance", s)
			}
			if m := newTestCorrelator(tr).Correlate(nativeEvent(t, tt.evTime, 150)); m != nil {
				t.Errorf("expected nil, got %+v", m)
			}
		})
	}
}

func TestCorrelateVolumeAndTokenValue(t *testing.T) {
	tr := NewTracker(24*time.Hour, logrus.New())
	tr.Append("binance", Snapshot{Timestamp: at(0), Price: 2000, ReferenceRate: 1, Volume: 1000})
	tr.Append("binance", Snapshot{Timestamp: at(60), Price: 2004, ReferenceRate: 1, Volume: 1500})

	ev, err := whale.NewEvent("0xtok", 4, 1, "0xfrom", "0xto", decimal.Zero, decimal.NewFromInt(400_000), at(30), whale.SourceToken)
	if err != nil {
		t.Fatal(err)
	}

	m := newTestCorrelator(tr).Correlate(ev)
	if m == nil {
		t.Fatal("expected metrics")
	}
	if !almostEqual(m.ValueETH, 200) {
		t.Errorf("ValueETH = %f, want 200", m.ValueETH)
	}
	if !almostEqual(m.VolumeSurgePct, 50) {
		t.Errorf("VolumeSurgePct = %f, want 50", m.VolumeSurgePct)
	}
	// 0.2% move is inside the neutral band
	if m.Direction != DirectionNeutral {
		t.Errorf("Direction = %s, want neutral", m.Direction)
	}
	// size 40 (capped), price 1, volume (50-5)/10 = 4.5
	if !almostEqual(m.Score, 45.5) {
		t.Errorf("Score = %f, want 45.5", m.Score)
	}
	if !almostEqual(m.Confidence, 0.9) {
		t.Errorf("Confidence = %f, want 0.9", m.Confidence)
	}
}

func TestReport(t *testing.T) {
	tr := NewTracker(24*time.Hour, logrus.New())
	tr.Append("binance", Snapshot{Timestamp: at(0), Price: 100})
	tr.Append("binance", Snapshot{Timestamp: at(600), Price: 110})

	c := newTestCorrelator(tr)
	c.now = func() time.Time { return at(1000) }

	c.Correlate(nativeEvent(t, 10, 500))
	c.Correlate(nativeEvent(t, 20, 100))

	report := c.Report(time.Hour)
	if report.Total != 2 {
		t.Fatalf("Total = %d", report.Total)
	}
	// 40 + 40 = 80 and 20 + 40 = 60
	if report.HighImpactCount != 2 || report.PriceMoverCount != 2 || report.Up != 2 {
		t.Errorf("unexpected counts %+v", report)
	}
	if !almostEqual(report.AverageScore, 70) {
		t.Errorf("AverageScore = %f, want 70", report.AverageScore)
	}
	if report.Top[0].Score < report.Top[1].Score {
		t.Error("top impacts should be sorted by score")
	}

	if empty := c.Report(time.Second); empty.Total != 0 || len(empty.Top) != 0 {
		t.Errorf("expected empty report, got %+v", empty)
	}
}

type stubSampler struct {
	snap Snapshot
	err  error
}

func (s stubSampler) Sample(ctx context.Context) (Snapshot, error) { return s.snap, s.err }

func TestRecordSkipsFailingVenues(t *testing.T) {
	tr := NewTracker(time.Hour, logrus.New())
	tr.AddVenue("binance", stubSampler{snap: Snapshot{Timestamp: t0, Price: 2500}})
	tr.AddVenue("broken", stubSampler{err: errors.New("timeout")})
	tr.AddVenue("zero", stubSampler{snap: Snapshot{Timestamp: t0, Price: 0}})

	if n := tr.Record(context.Background()); n != 1 {
		t.Errorf("Record() = %d, want 1", n)
	}
	if _, ok := tr.Latest("binance"); !ok {
		t.Error("expected a binance snapshot")
	}
	if _, ok := tr.Latest("zero"); ok {
		t.Error("zero price should not be stored")
	}
	if got := tr.Venues(); len(got) != 3 || got[0] != "binance" {
		t.Errorf("Venues() = %v", got)
	}
}

func TestVenuesIncludesAppendedHistory(t *testing.T) {
	tr := NewTracker(time.Hour, logrus.New())
	tr.AddVenue("binance", stubSampler{snap: Snapshot{Timestamp: t0, Price: 2500}})
	if err := tr.Append("uniswap", Snapshot{Timestamp: t0, Price: 2490}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Append("binance", Snapshot{Timestamp: t0, Price: 2500}); err != nil {
		t.Fatal(err)
	}

	got := tr.Venues()
	if len(got) != 2 || got[0] != "binance" || got[1] != "uniswap" {
		t.Errorf("Venues() = %v, want [binance uniswap]", got)
	}
}
