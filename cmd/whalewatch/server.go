package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/liamashdown/whalewatch/internal/alerts"
	"github.com/liamashdown/whalewatch/internal/metrics"
	"github.com/liamashdown/whalewatch/internal/processor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

type statsSource interface {
	Statistics(window time.Duration) processor.Statistics
}

type pinger interface {
	Ping(ctx context.Context) error
}

// server exposes health, metrics, recent alerts and the subscription registry
type server struct {
	registry *alerts.Registry
	history  *alerts.History
	stats    statsSource
	db       pinger // nil when the archive is disabled
	log      *logrus.Logger
}

type subscribeRequest struct {
	Endpoint    string          `json:"endpoint"`
	MinSeverity alerts.Severity `json:"min_severity"`
	Types       []alerts.Type   `json:"types"`
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("GET /subscriptions", s.handleListSubscriptions)
	mux.HandleFunc("POST /subscriptions", s.handleSubscribe)
	mux.HandleFunc("DELETE /subscriptions/{id}", s.handleUnsubscribe)

	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.RecordHealthCheck(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			metrics.RecordHealthCheck(false)
			s.log.WithError(err).Warn("Readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unavailable"})
			return
		}
	}
	metrics.RecordHealthCheck(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	writeJSON(w, http.StatusOK, s.stats.Statistics(time.Duration(hours)*time.Hour))
}

func (s *server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultAlertLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAlertLimit)
	}

	var out []*alerts.Alert
	if sev := alerts.Severity(q.Get("severity")); sev != "" {
		if !sev.Valid() {
			writeError(w, http.StatusBadRequest, "unknown severity")
			return
		}
		out = s.history.BySeverity(sev, limit)
	} else {
		out = s.history.Recent(limit)
	}
	if out == nil {
		out = []*alerts.Alert{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub, err := s.registry.Subscribe(req.Endpoint, req.MinSeverity, req.Types)
	switch {
	case errors.Is(err, alerts.ErrInvalidSubscription):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.WithError(err).Error("Failed to add subscription")
		writeError(w, http.StatusInternalServerError, "failed to add subscription")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	err = s.registry.Unsubscribe(id)
	switch {
	case errors.Is(err, alerts.ErrSubscriptionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.log.WithError(err).Error("Failed to remove subscription")
		writeError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
