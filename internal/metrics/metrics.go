package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scan metrics
	ScanCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_scan_cycles_total",
			Help: "Total number of chain scan cycles",
		},
		[]string{"status"}, // ok, partial, empty
	)

	ScanCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whalewatch_scan_cycle_duration_seconds",
			Help:    "Duration of a full scan cycle including enrichment",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ChainLegErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_chain_leg_errors_total",
			Help: "Total number of failed chain fetch legs",
		},
		[]string{"leg", "kind"}, // height/block/logs, transient/rate_limited/...
	)

	ScannedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whalewatch_scanned_block",
			Help: "Last block whose body was scanned",
		},
	)

	// Detection metrics
	WhaleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_whale_events_total",
			Help: "Total number of whale events detected",
		},
		[]string{"source"}, // native, token
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_decode_errors_total",
			Help: "Total number of malformed chain records dropped",
		},
	)

	DuplicateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_duplicate_events_total",
			Help: "Total number of events suppressed by the rolling dedupe window",
		},
	)

	EventPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_event_panics_total",
			Help: "Total number of recovered panics while processing an event",
		},
	)

	// Profiler metrics
	ProfileLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_profile_lookups_total",
			Help: "Total number of address profile lookups",
		},
		[]string{"result"}, // cache_hit, static, fetched, below_floor, error
	)

	// Market metrics
	PriceSamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_price_samples_total",
			Help: "Total number of price samples taken",
		},
		[]string{"venue", "status"}, // binance, success/skipped/error
	)

	ImpactScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whalewatch_impact_scores",
			Help:    "Distribution of market impact scores (0-100 scale)",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// Alert metrics
	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_alerts_generated_total",
			Help: "Total number of alerts generated",
		},
		[]string{"severity", "type"},
	)

	AlertsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_alerts_rejected_total",
			Help: "Total number of events that did not qualify for an alert",
		},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_deliveries_total",
			Help: "Total number of alert deliveries per sink",
		},
		[]string{"sink", "status"}, // webhook/discord/..., success/error
	)

	DeliveryAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whalewatch_delivery_attempts",
			Help:    "Attempts needed per sink delivery",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	DeliveryDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whalewatch_delivery_dropped_total",
			Help: "Total number of alerts dropped because the delivery queue was full",
		},
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"api", "endpoint", "status"}, // etherscan/binance/subgraph, balance, success/error
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whalewatch_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"api", "endpoint"},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"}, // get/insert/update, success/error
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whalewatch_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalewatch_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"}, // healthy/unhealthy
	)
)

// RecordScanCycle records scan cycle metrics
func RecordScanCycle(duration time.Duration, status string) {
	ScanCycles.WithLabelValues(status).Inc()
	ScanCycleDuration.Observe(duration.Seconds())
}

// RecordChainLegError records a failed chain fetch leg
func RecordChainLegError(leg, kind string) {
	ChainLegErrors.WithLabelValues(leg, kind).Inc()
}

// RecordWhaleEvent records a detected event
func RecordWhaleEvent(source string) {
	WhaleEvents.WithLabelValues(source).Inc()
}

// RecordProfileLookup records the outcome of a profile lookup
func RecordProfileLookup(result string) {
	ProfileLookups.WithLabelValues(result).Inc()
}

// RecordPriceSample records a price sample for a venue
func RecordPriceSample(venue, status string) {
	PriceSamples.WithLabelValues(venue, status).Inc()
}

// RecordAlert records a generated alert
func RecordAlert(severity, alertType string) {
	AlertsGenerated.WithLabelValues(severity, alertType).Inc()
}

// RecordDelivery records the outcome of delivering one alert to one sink
func RecordDelivery(sink string, attempts int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	Deliveries.WithLabelValues(sink, status).Inc()
	DeliveryAttempts.Observe(float64(attempts))
}

// RecordAPIRequest records API request metrics
func RecordAPIRequest(api, endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	APIRequests.WithLabelValues(api, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(api, endpoint).Observe(duration.Seconds())
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}
