package alerts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/liamashdown/whalewatch/internal/fault"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/sirupsen/logrus"
)

// DeliveryResult is the outcome of delivering one alert to one sink
type DeliveryResult struct {
	Sink     string
	Attempts int
	Err      error
}

// DispatcherConfig holds delivery settings
type DispatcherConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	Workers     int
	QueueSize   int
}

// Dispatcher fans alerts out to every sink with bounded retries. Alerts are
// fed through a bounded queue consumed by a fixed set of workers.
type Dispatcher struct {
	senders  []Sender
	registry *Registry
	cfg      DispatcherConfig
	log      *logrus.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	queue  chan *Alert
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher. registry may be nil.
func NewDispatcher(cfg DispatcherConfig, registry *Registry, log *logrus.Logger, senders ...Sender) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Dispatcher{
		senders:  senders,
		registry: registry,
		cfg:      cfg,
		log:      log,
		sleep:    sleepContext,
		queue:    make(chan *Alert, cfg.QueueSize),
	}
}

// Start launches the delivery workers. They exit once Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for alert := range d.queue {
				d.Deliver(ctx, alert)
			}
		}()
	}
}

// Enqueue hands an alert to the workers without blocking. It returns false
// when the queue is full or closed and the alert was not queued.
func (d *Dispatcher) Enqueue(alert *Alert) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}

	select {
	case d.queue <- alert:
		return true
	default:
		metrics.DeliveryDropped.Inc()
		d.log.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"severity": alert.Severity,
		}).Warn("Delivery queue full, alert dropped")
		return false
	}
}

// Close stops accepting alerts and waits for queued ones to be delivered
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// Deliver sends the alert to every configured sink and every matching
// subscription concurrently. One sink failing does not affect the others.
func (d *Dispatcher) Deliver(ctx context.Context, alert *Alert) []DeliveryResult {
	sinks := append([]Sender(nil), d.senders...)
	if d.registry != nil {
		sinks = append(sinks, d.registry.Senders(alert)...)
	}

	results := make([]DeliveryResult, len(sinks))
	var wg sync.WaitGroup
	for i, s := range sinks {
		wg.Add(1)
		go func(i int, s Sender) {
			defer wg.Done()
			results[i] = d.deliver(ctx, s, alert)
		}(i, s)
	}
	wg.Wait()

	return results
}

// deliver retries transient failures with exponential backoff, up to the
// configured number of attempts
func (d *Dispatcher) deliver(ctx context.Context, s Sender, alert *Alert) DeliveryResult {
	result := DeliveryResult{Sink: s.Name()}
	logger := d.log.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"sink":     result.Sink,
	})

	delay := d.cfg.BackoffBase
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt
		result.Err = s.Send(ctx, alert)
		if result.Err == nil || !fault.Retryable(result.Err) || attempt == d.cfg.MaxAttempts {
			break
		}

		logger.WithError(result.Err).WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": delay,
		}).Debug("Delivery failed, retrying")

		if err := d.sleep(ctx, delay); err != nil {
			result.Err = err
			break
		}
		delay *= 2
	}

	metrics.RecordDelivery(sinkKind(result.Sink), result.Attempts, result.Err)

	if result.Err != nil {
		logger.WithError(result.Err).WithField("attempts", result.Attempts).Error("Alert delivery failed")
	} else {
		logger.WithField("attempts", result.Attempts).Debug("Alert delivered")
	}

	return result
}

// sinkKind strips the endpoint from a sink name for metric labels
func sinkKind(name string) string {
	kind, _, _ := strings.Cut(name, ":")
	return kind
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
