package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liamashdown/whalewatch/internal/alerts"
	"github.com/liamashdown/whalewatch/internal/config"
	"github.com/liamashdown/whalewatch/internal/detector"
	"github.com/liamashdown/whalewatch/internal/impact"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/liamashdown/whalewatch/internal/profiler"
	"github.com/liamashdown/whalewatch/internal/storage"
	"github.com/liamashdown/whalewatch/internal/whale"
	"github.com/sirupsen/logrus"
)

const (
	summaryInterval = time.Hour
	summaryWindow   = 24 * time.Hour
)

// Archive is the optional database the pipeline mirrors its results into
type Archive interface {
	InsertEvents(ctx context.Context, events []whale.Event) error
	UpsertProfile(ctx context.Context, p *whale.Profile) error
	InsertImpact(ctx context.Context, m *impact.Metrics) error
	InsertAlert(ctx context.Context, a *alerts.Alert) error
	SaveCheckpoint(ctx context.Context, block uint64) error
}

// Components are the pipeline stages the processor drives. Archive may be nil.
type Components struct {
	Poller     *detector.Poller
	Detector   *detector.Detector
	Profiler   *profiler.Profiler
	Tracker    *impact.Tracker
	Correlator *impact.Correlator
	Classifier *alerts.Classifier
	History    *alerts.History
	Dispatcher *alerts.Dispatcher
	AlertLog   *storage.AlertLog
	Dashboard  *storage.Dashboard
	Archive    Archive
}

// CycleResult summarizes one scan cycle
type CycleResult struct {
	Block    uint64
	Events   int
	Alerts   int
	Failures int
	Dropped  int // alerts not queued for delivery
}

// Statistics is a point-in-time view of the pipeline
type Statistics struct {
	Alerts         alerts.Summary             `json:"alerts"`
	Impact         impact.Report              `json:"impact"`
	ProfilesCached int                        `json:"profiles_cached"`
	LatestPrices   map[string]impact.Snapshot `json:"latest_prices"`
	Checkpoint     uint64                     `json:"scan_checkpoint"`
}

// eventResult is everything learned about one whale event
type eventResult struct {
	event   whale.Event
	profile *whale.Profile
	impact  *impact.Metrics
	alert   *alerts.Alert
}

// Processor runs the scan and price loops
type Processor struct {
	cfg        *config.Config
	c          Components
	workerPool chan struct{}
	log        *logrus.Logger
}

// New creates a new processor
func New(cfg *config.Config, c Components, log *logrus.Logger) *Processor {
	workers := cfg.EventWorkers
	if workers < 1 {
		workers = 1
	}
	workerPool := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		workerPool <- struct{}{}
	}

	return &Processor{
		cfg:        cfg,
		c:          c,
		workerPool: workerPool,
		log:        log,
	}
}

// Run drives the scan and price loops until ctx is cancelled. Each loop runs
// its cycles one at a time; a cycle in flight when ctx is cancelled finishes
// on a detached context before Run returns.
func (p *Processor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		p.loop(ctx, time.Duration(p.cfg.PriceIntervalSec)*time.Second, true, func(ctx context.Context) {
			p.RecordPrices(ctx)
		})
	}()

	go func() {
		defer wg.Done()
		p.loop(ctx, time.Duration(p.cfg.ScanIntervalSec)*time.Second, true, func(ctx context.Context) {
			if _, err := p.ScanCycle(ctx); err != nil {
				p.log.WithError(err).Error("Scan cycle finished with errors")
			}
		})
	}()

	go func() {
		defer wg.Done()
		p.loop(ctx, summaryInterval, false, func(context.Context) {
			p.logStatistics()
		})
	}()

	wg.Wait()
}

func (p *Processor) loop(ctx context.Context, interval time.Duration, immediate bool, cycle func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if immediate {
		cycle(context.WithoutCancel(ctx))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle(context.WithoutCancel(ctx))
		}
	}
}

// RecordPrices samples every venue once
func (p *Processor) RecordPrices(ctx context.Context) int {
	recorded := p.c.Tracker.Record(ctx)
	p.log.WithField("venues", recorded).Debug("Price cycle complete")
	return recorded
}

// ScanCycle polls the chain, enriches and grades every new whale event,
// persists the results and queues the alerts for delivery. Persistence
// happens before delivery and does not depend on it.
func (p *Processor) ScanCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()

	batch := p.c.Poller.Poll(ctx)
	res := CycleResult{Failures: batch.Failures}
	if batch.Block != nil {
		res.Block = batch.Block.Number
	}

	events := p.c.Detector.Detect(batch)
	res.Events = len(events)

	results := p.processEvents(ctx, events)

	var newAlerts []*alerts.Alert
	for _, r := range results {
		if r.alert != nil {
			newAlerts = append(newAlerts, r.alert)
		}
	}
	res.Alerts = len(newAlerts)

	err := p.persist(ctx, batch, results, newAlerts)

	for _, a := range newAlerts {
		if !p.c.Dispatcher.Enqueue(a) {
			res.Dropped++
		}
	}

	status := "ok"
	switch {
	case batch.Empty():
		status = "empty"
	case batch.Failures > 0:
		status = "partial"
	}
	metrics.RecordScanCycle(time.Since(start), status)

	p.log.WithFields(logrus.Fields{
		"block":    res.Block,
		"events":   res.Events,
		"alerts":   res.Alerts,
		"failures": res.Failures,
		"dropped":  res.Dropped,
		"duration": time.Since(start).String(),
	}).Info("Scan cycle complete")

	return res, err
}

// processEvents enriches events concurrently, bounded by the worker pool.
// Results keep the detection order; events whose processing panicked are
// left out.
func (p *Processor) processEvents(ctx context.Context, events []whale.Event) []eventResult {
	slots := make([]*eventResult, len(events))

	var wg sync.WaitGroup
	for i, ev := range events {
		wg.Add(1)
		go func(i int, ev whale.Event) {
			defer wg.Done()

			// Acquire worker
			<-p.workerPool
			defer func() { p.workerPool <- struct{}{} }()

			slots[i] = p.processEvent(ctx, ev)
		}(i, ev)
	}
	wg.Wait()

	results := make([]eventResult, 0, len(events))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results
}

// processEvent profiles the subject and correlates the event in parallel,
// then grades it. It returns nil when any stage panicked.
func (p *Processor) processEvent(ctx context.Context, ev whale.Event) *eventResult {
	var panicked atomic.Bool
	res := &eventResult{event: ev}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer p.recoverEvent(ev, "profile", &panicked)
		res.profile = p.c.Profiler.Profile(ctx, ev.Subject())
	}()
	go func() {
		defer wg.Done()
		defer p.recoverEvent(ev, "correlate", &panicked)
		res.impact = p.c.Correlator.Correlate(ev)
	}()
	wg.Wait()

	if panicked.Load() {
		return nil
	}

	func() {
		defer p.recoverEvent(ev, "classify", &panicked)
		res.alert = p.c.Classifier.Classify(ev, res.profile, res.impact)
	}()
	if panicked.Load() {
		return nil
	}

	return res
}

func (p *Processor) recoverEvent(ev whale.Event, stage string, panicked *atomic.Bool) {
	if r := recover(); r != nil {
		panicked.Store(true)
		metrics.EventPanics.Inc()
		p.log.WithFields(logrus.Fields{
			"event": ev.Key(),
			"stage": stage,
			"panic": fmt.Sprint(r),
		}).Error("Recovered panic while processing event")
	}
}

// persist writes the cycle to the alert log, the dashboard and the archive.
// Archive failures are logged only; file failures are returned.
func (p *Processor) persist(ctx context.Context, batch *detector.Batch, results []eventResult, newAlerts []*alerts.Alert) error {
	var errs []error

	for _, a := range newAlerts {
		if err := p.c.AlertLog.Append(a); err != nil {
			errs = append(errs, fmt.Errorf("append alert %s: %w", a.ID, err))
		}
	}

	if len(results) > 0 || len(newAlerts) > 0 {
		shown := make([]storage.DashboardEvent, 0, len(results))
		for _, r := range results {
			shown = append(shown, storage.DashboardEvent{Event: r.event, Profile: r.profile})
		}
		if err := p.c.Dashboard.Update(shown, newAlerts); err != nil {
			errs = append(errs, fmt.Errorf("update dashboard: %w", err))
		}
	}

	if p.c.Archive != nil {
		p.archive(ctx, batch, results, newAlerts)
	}

	return errors.Join(errs...)
}

func (p *Processor) archive(ctx context.Context, batch *detector.Batch, results []eventResult, newAlerts []*alerts.Alert) {
	warn := func(err error, what string) {
		p.log.WithError(err).WithField("record", what).Warn("Failed to archive")
	}

	if len(results) > 0 {
		events := make([]whale.Event, 0, len(results))
		for _, r := range results {
			events = append(events, r.event)
		}
		if err := p.c.Archive.InsertEvents(ctx, events); err != nil {
			warn(err, "events")
		}
	}

	profiled := make(map[string]bool)
	for _, r := range results {
		if r.profile != nil && !profiled[r.profile.Address] {
			profiled[r.profile.Address] = true
			if err := p.c.Archive.UpsertProfile(ctx, r.profile); err != nil {
				warn(err, "profile")
			}
		}
		if r.impact != nil {
			if err := p.c.Archive.InsertImpact(ctx, r.impact); err != nil {
				warn(err, "impact")
			}
		}
	}

	for _, a := range newAlerts {
		if err := p.c.Archive.InsertAlert(ctx, a); err != nil {
			warn(err, "alert")
		}
	}

	if batch.Block != nil {
		if err := p.c.Archive.SaveCheckpoint(ctx, batch.Block.Number); err != nil {
			warn(err, "checkpoint")
		}
	}
}

// Statistics reports alert and impact summaries over window together with
// the tracker and profiler state
func (p *Processor) Statistics(window time.Duration) Statistics {
	stats := Statistics{
		Alerts:         p.c.History.Summary(window),
		Impact:         p.c.Correlator.Report(window),
		ProfilesCached: len(p.c.Profiler.Cached()),
		LatestPrices:   make(map[string]impact.Snapshot),
		Checkpoint:     p.c.Poller.Checkpoint(),
	}
	for _, venue := range p.c.Tracker.Venues() {
		if snap, ok := p.c.Tracker.Latest(venue); ok {
			stats.LatestPrices[venue] = snap
		}
	}
	return stats
}

func (p *Processor) logStatistics() {
	stats := p.Statistics(summaryWindow)
	p.log.WithFields(logrus.Fields{
		"alerts":          stats.Alerts.Total,
		"critical_alerts": stats.Alerts.CriticalCount,
		"value_eth":       fmt.Sprintf("%.2f", stats.Alerts.TotalValueETH),
		"impacts":         stats.Impact.Total,
		"high_impact":     stats.Impact.HighImpactCount,
		"avg_impact":      fmt.Sprintf("%.1f", stats.Impact.AverageScore),
		"profiles":        stats.ProfilesCached,
		"checkpoint":      stats.Checkpoint,
	}).Info("Daily whale summary")
}
