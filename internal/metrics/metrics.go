// Package metrics exposes Prometheus metrics and a health endpoint for the
// order lifecycle engine.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the brokerage core.
type Metrics struct {
	OrdersPlaced       *prometheus.CounterVec // labels: side
	OrdersExecuted     prometheus.Counter
	OrdersCancelled    *prometheus.CounterVec // labels: reason (user|settlement)
	PlacementRejects   *prometheus.CounterVec // labels: reason
	QuoteLookups       *prometheus.CounterVec // labels: outcome (ok|error)
	SettlementDelay    prometheus.Histogram
	OpenOrders         prometheus.Gauge
	StoreSaveFailures  prometheus.Counter
	NotificationErrors prometheus.Counter
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_orders_placed_total",
			Help: "Orders accepted at placement time (by side)",
		}, []string{"side"}),
		OrdersExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_orders_executed_total",
			Help: "Orders that settled successfully",
		}),
		OrdersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_orders_cancelled_total",
			Help: "Orders resolved to cancelled (by reason)",
		}, []string{"reason"}),
		PlacementRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_placement_rejects_total",
			Help: "Orders rejected before persistence (by reason)",
		}, []string{"reason"}),
		QuoteLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_quote_lookups_total",
			Help: "Quote source lookups (by outcome)",
		}, []string{"outcome"}),
		SettlementDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "broker_settlement_delay_seconds",
			Help:    "Delay between order placement and settlement firing",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13},
		}),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_open_orders",
			Help: "Orders currently awaiting settlement",
		}),
		StoreSaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_store_save_failures_total",
			Help: "Persistent store saves that failed",
		}),
		NotificationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_notification_errors_total",
			Help: "Notification deliveries that failed",
		}),
	}

	prometheus.MustRegister(
		m.OrdersPlaced,
		m.OrdersExecuted,
		m.OrdersCancelled,
		m.PlacementRejects,
		m.QuoteLookups,
		m.SettlementDelay,
		m.OpenOrders,
		m.StoreSaveFailures,
		m.NotificationErrors,
	)
	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	StoreOK        bool
	RedisConnected bool
	FeedConnected  bool
	LastExecution  time.Time
	StartedAt      time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), StoreOK: true}
}

func (h *HealthStatus) SetStoreOK(v bool) {
	h.mu.Lock()
	h.StoreOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastExecution(t time.Time) {
	h.mu.Lock()
	h.LastExecution = t
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.StoreOK {
		overall = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	lastExec := ""
	if !h.LastExecution.IsZero() {
		lastExec = h.LastExecution.Format(time.RFC3339)
	}

	status := struct {
		Status         string `json:"status"`
		Uptime         string `json:"uptime"`
		StoreOK        bool   `json:"store_ok"`
		RedisConnected bool   `json:"redis_connected"`
		FeedConnected  bool   `json:"feed_connected"`
		LastExecution  string `json:"last_execution"`
	}{
		Status:         overall,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		StoreOK:        h.StoreOK,
		RedisConnected: h.RedisConnected,
		FeedConnected:  h.FeedConnected,
		LastExecution:  lastExec,
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
