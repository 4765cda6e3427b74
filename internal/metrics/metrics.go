// Package metrics provides Prometheus metrics for the engine.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry setup.
type Metrics struct {
	MessagesTotal      *prometheus.CounterVec
	GateDecisionsTotal *prometheus.CounterVec
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	ThresholdGauge     *prometheus.GaugeVec
	TuningTotal        *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	StatsRecomputes    prometheus.Counter
	ThreadRotations    prometheus.Counter
	JobRunsTotal       *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vailentin_messages_total",
				Help: "Inbound messages by pipeline outcome",
			},
			[]string{"outcome"},
		),
		GateDecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vailentin_gate_decisions_total",
				Help: "Response gate decisions by reason",
			},
			[]string{"reason", "respond"},
		),
		LLMRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vailentin_llm_requests_total",
				Help: "Language model requests by operation and status",
			},
			[]string{"op", "status"},
		),
		LLMRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vailentin_llm_request_duration_seconds",
				Help:    "Duration of language model requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		ThresholdGauge: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vailentin_importance_threshold",
				Help: "Current importance threshold per chat",
			},
			[]string{"chat_id"},
		),
		TuningTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vailentin_threshold_tuning_total",
				Help: "Adaptive threshold passes by result",
			},
			[]string{"result"},
		),
		NotificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vailentin_notifications_total",
				Help: "Operator notifications by kind and whether they were sent",
			},
			[]string{"kind", "sent"},
		),
		StatsRecomputes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "vailentin_stats_recomputes_total",
				Help: "Stats cache recomputations",
			},
		),
		ThreadRotations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "vailentin_thread_rotations_total",
				Help: "Threads opened",
			},
		),
		JobRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vailentin_job_runs_total",
				Help: "Background job runs by job and status",
			},
			[]string{"job", "status"},
		),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vailentin_job_duration_seconds",
				Help:    "Duration of background job runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}
}

func (m *Metrics) ObserveMessage(outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDecision(reason string, respond bool) {
	if m == nil {
		return
	}
	m.GateDecisionsTotal.WithLabelValues(reason, strconv.FormatBool(respond)).Inc()
}

func (m *Metrics) ObserveLLM(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(op, status(err)).Inc()
	m.LLMRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) SetThreshold(chatID int64, threshold float64) {
	if m == nil {
		return
	}
	m.ThresholdGauge.WithLabelValues(strconv.FormatInt(chatID, 10)).Set(threshold)
}

func (m *Metrics) ObserveTuning(result string) {
	if m == nil {
		return
	}
	m.TuningTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveNotification(kind string, sent bool) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(kind, strconv.FormatBool(sent)).Inc()
}

func (m *Metrics) ObserveStatsRecompute() {
	if m == nil {
		return
	}
	m.StatsRecomputes.Inc()
}

func (m *Metrics) ObserveJob(job string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.JobRunsTotal.WithLabelValues(job, status(err)).Inc()
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) ObserveThreadRotation() {
	if m == nil {
		return
	}
	m.ThreadRotations.Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Server exposes /metrics over HTTP.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

func NewServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Metrics server listening", zap.String("addr", s.server.Addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
