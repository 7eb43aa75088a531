package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liamashdown/whalewatch/internal/alerts"
	"github.com/liamashdown/whalewatch/internal/chain"
	"github.com/liamashdown/whalewatch/internal/chain/etherscan"
	"github.com/liamashdown/whalewatch/internal/chain/ethrpc"
	"github.com/liamashdown/whalewatch/internal/config"
	"github.com/liamashdown/whalewatch/internal/detector"
	"github.com/liamashdown/whalewatch/internal/impact"
	"github.com/liamashdown/whalewatch/internal/market"
	"github.com/liamashdown/whalewatch/internal/market/binance"
	"github.com/liamashdown/whalewatch/internal/market/subgraph"
	"github.com/liamashdown/whalewatch/internal/processor"
	"github.com/liamashdown/whalewatch/internal/profiler"
	"github.com/liamashdown/whalewatch/internal/storage"
	"github.com/sirupsen/logrus"
)

// The pool sees roughly half of the venue's volume
const poolVolumeFactor = 2.0

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting whalewatch service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	} else {
		log.SetLevel(level)
	}

	log.WithFields(logrus.Fields{
		"environment":     cfg.Environment,
		"chain_source":    cfg.ChainSource,
		"token":           cfg.TokenSymbol,
		"threshold_eth":   cfg.WhaleThresholdETH,
		"threshold_token": cfg.WhaleThresholdToken,
		"scan_interval":   cfg.ScanIntervalSec,
		"price_interval":  cfg.PriceIntervalSec,
		"alert_mode":      cfg.AlertMode,
	}).Info("Configuration loaded")

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source, closeSource, err := newChainSource(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize chain source")
	}
	defer closeSource()

	log.WithField("chain_source", cfg.ChainSource).Info("Chain source initialized")

	// Database is optional
	var db *storage.DB
	var archive processor.Archive
	var store alerts.SubscriptionStore
	if cfg.DatabaseDSN != "" {
		db, err = storage.New(cfg, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		if err := db.AutoMigrate(); err != nil {
			log.WithError(err).Fatal("Failed to run database migrations")
		}
		log.Info("Database migrations complete")

		archive = db
		store = db
	} else {
		log.Warn("DATABASE_DSN not set, archive disabled")
	}

	poller := detector.NewPoller(source, cfg.TokenContract, cfg.ScanLagBlocks, cfg.ScanSpanBlocks, log)
	registry := alerts.NewRegistry(store, cfg.WebhookSecret, cfg.WebhookTimeout, log)

	if db != nil {
		restoreState(ctx, db, poller, registry, log)
	}

	tracker := impact.NewTracker(cfg.PriceRetention, log)
	var pool market.PoolStats
	if cfg.SubgraphURL != "" && cfg.SubgraphPoolID != "" {
		pool = subgraph.NewClient(cfg.SubgraphURL, cfg.SubgraphPoolID, cfg.MarketRPS)
	}
	feed := binance.NewClient(cfg.BinanceBaseURL, cfg.PriceSymbol, cfg.MarketRPS)
	tracker.AddVenue(cfg.PriceVenue, market.NewSampler(feed, pool, cfg.TokenRefRate, poolVolumeFactor, log))

	correlator := impact.NewCorrelator(tracker, impact.CorrelatorConfig{
		Venue:               cfg.PriceVenue,
		Horizons:            cfg.PriceHorizons,
		DirectionHorizon:    cfg.DirectionHorizon,
		DirectionEpsilonPct: cfg.DirectionEpsilonPct,
		WhaleSizeETH:        cfg.WhaleThresholdETH,
		MinVolumeSurgePct:   cfg.MinVolumeSurgePct,
		AffectedMarkets:     []string{cfg.PoolLabel},
		CacheMaxAge:         cfg.ImpactCacheMaxAge,
		CacheMaxSize:        cfg.ImpactCacheMaxSize,
	}, log)

	history := alerts.NewHistory(cfg.AlertHistoryMax)
	classifier := alerts.NewClassifier(alerts.ClassifierConfig{
		CriticalETH:          cfg.CriticalETHThreshold,
		CriticalToken:        cfg.CriticalTokenThreshold,
		HighETH:              cfg.HighETHThreshold,
		HighToken:            cfg.HighTokenThreshold,
		MinConfidence:        cfg.MinAlertConfidence,
		EnableExchangeAlerts: cfg.EnableExchangeAlerts,
		DirectionHorizon:     cfg.DirectionHorizon,
	}, history, log)

	// Initialize alert senders
	senders, closers := createAlertSenders(cfg, log)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.WithError(err).Warn("Failed to close alert sender")
			}
		}
	}()

	dispatcher := alerts.NewDispatcher(alerts.DispatcherConfig{
		MaxAttempts: cfg.WebhookRetryAttempts,
		BackoffBase: cfg.WebhookBackoffBase,
		Workers:     cfg.DeliveryWorkers,
		QueueSize:   cfg.DeliveryQueueSize,
	}, registry, log, senders...)
	dispatcher.Start(context.WithoutCancel(ctx))

	log.WithField("senders", len(senders)).Info("Alert dispatcher started")

	// Initialize processor
	proc := processor.New(cfg, processor.Components{
		Poller: poller,
		Detector: detector.New(detector.Config{
			ThresholdETH:   cfg.WhaleThresholdETH,
			ThresholdToken: cfg.WhaleThresholdToken,
			TokenContract:  cfg.TokenContract,
			TokenDecimals:  cfg.TokenDecimals,
			DedupeWindow:   cfg.DedupeWindow,
		}, log),
		Profiler: profiler.New(source, profiler.Config{
			FloorETH:        cfg.WhaleFloorETH,
			MinTransactions: cfg.MinTransactions,
			CacheTTL:        cfg.ProfileCacheTTL,
			CacheMaxSize:    cfg.ProfileCacheMaxSize,
			FetchTimeout:    cfg.ProfileFetchTimeout,
		}, log),
		Tracker:    tracker,
		Correlator: correlator,
		Classifier: classifier,
		History:    history,
		Dispatcher: dispatcher,
		AlertLog:   storage.NewAlertLog(cfg.AlertFile),
		Dashboard:  storage.NewDashboard(cfg.DataFile, cfg.DashboardMaxPerAsset, cfg.DashboardMaxAlerts),
		Archive:    archive,
	}, log)

	// Start HTTP server (health, metrics, subscriptions)
	srv := &server{registry: registry, history: history, stats: proc, log: log}
	if db != nil {
		srv.db = db
	}
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:      srv.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.HealthPort).Info("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server failed")
		}
	}()

	log.Info("Starting scan and price loops")
	proc.Run(ctx)

	log.Info("Received shutdown signal, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown failed")
	}

	dispatcher.Close()
	log.Info("Graceful shutdown complete")
}

func newChainSource(ctx context.Context, cfg *config.Config, log *logrus.Logger) (chain.Source, func(), error) {
	switch cfg.ChainSource {
	case config.ChainSourceRPC:
		client, err := ethrpc.Dial(ctx, cfg.RPCURL, cfg.ChainRPS, cfg.ChainTimeout, log)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return etherscan.NewClient(cfg, log), func() {}, nil
	}
}

// restoreState resumes the scan checkpoint and the active subscriptions
func restoreState(ctx context.Context, db *storage.DB, poller *detector.Poller, registry *alerts.Registry, log *logrus.Logger) {
	block, err := db.Checkpoint(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to load scan checkpoint")
	} else if block > 0 {
		poller.SetCheckpoint(block)
		log.WithField("block", block).Info("Resuming from checkpoint")
	}

	subs, err := db.ActiveSubscriptions(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to load subscriptions")
		return
	}
	registry.Restore(subs)
	log.WithField("count", len(subs)).Info("Subscriptions restored")
}

func createAlertSenders(cfg *config.Config, log *logrus.Logger) ([]alerts.Sender, []io.Closer) {
	var senders []alerts.Sender
	var closers []io.Closer

	for _, mode := range cfg.AlertModes() {
		switch mode {
		case "log":
			senders = append(senders, alerts.NewLogSender(log))
		case "webhook":
			for _, url := range cfg.WebhookURLs {
				senders = append(senders, alerts.NewWebhookSender(url, cfg.WebhookSecret, cfg.WebhookTimeout))
			}
		case "discord":
			// Add a sender for each webhook URL
			for _, url := range cfg.DiscordWebhookURLs {
				senders = append(senders, alerts.NewDiscordSender(url, cfg.Environment))
			}
		case "smtp":
			senders = append(senders, alerts.NewSMTPSender(
				cfg.SMTPHost,
				cfg.SMTPPort,
				cfg.SMTPUser,
				cfg.SMTPPassword,
				cfg.SMTPFrom,
				cfg.SMTPTo,
			))
		case "websocket":
			ws := alerts.NewWebsocketSender(cfg.WebsocketURL, cfg.WebsocketToken)
			senders = append(senders, ws)
			closers = append(closers, ws)
		default:
			log.WithField("mode", mode).Warn("Unknown alert mode, skipping")
		}
	}

	if len(senders) == 0 {
		log.Warn("No valid alert senders configured, using log")
		senders = append(senders, alerts.NewLogSender(log))
	}

	return senders, closers
}
