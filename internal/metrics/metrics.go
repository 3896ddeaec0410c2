package metrics

import (
	"context"
	"net/http"
	"time"

	"landpub/internal/config"
	"landpub/internal/log"
	"landpub/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type ExportMetrics struct {
	PublishTotal    *prometheus.CounterVec
	BatchesOpened   *prometheus.CounterVec
	BatchesFinished *prometheus.CounterVec
	RateBackoffs    prometheus.Counter
	PassDuration    prometheus.Histogram
	QueueDepth      *prometheus.GaugeVec

	queue  *store.QueueStore
	logger *log.Logger
}

func NewExportMetrics(queue *store.QueueStore, cfg *config.Config, logger *log.Logger) *ExportMetrics {
	// A pass is dominated by limiter waits, so the histogram buckets scale
	// with the configured spacing: from one publish slot up to many pages.
	slot := cfg.MinPublishInterval().Seconds()
	if slot <= 0 {
		slot = 0.1
	}
	m := &ExportMetrics{
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landpub_publish_total",
				Help: "Total publish attempts by platform and result",
			},
			[]string{"platform", "result"},
		),
		BatchesOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landpub_batches_opened_total",
				Help: "Total export batches opened by platform",
			},
			[]string{"platform"},
		),
		BatchesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landpub_batches_finished_total",
				Help: "Total export batches reaching a final status",
			},
			[]string{"platform", "status"},
		),
		RateBackoffs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "landpub_rate_backoffs_total",
				Help: "Soft backoffs taken after a platform rate-limit error",
			},
		),
		PassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "landpub_pass_duration_seconds",
				Help:    "Duration of one drain pass",
				Buckets: prometheus.ExponentialBuckets(slot, 2, 10),
			},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "landpub_queue_depth",
				Help: "Queue items per lifecycle status",
			},
			[]string{"status"},
		),
		queue:  queue,
		logger: logger,
	}

	prometheus.MustRegister(
		m.PublishTotal,
		m.BatchesOpened,
		m.BatchesFinished,
		m.RateBackoffs,
		m.PassDuration,
		m.QueueDepth,
	)
	return m
}

// Run serves /metrics on :2112 and keeps the queue depth gauge current until
// the context is cancelled.
func (m *ExportMetrics) Run(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    ":2112",
		Handler: mux,
	}

	go m.collect(ctx)

	go func() {
		m.logger.Info("Metrics server starting on :2112")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	<-ctx.Done()
	if err := srv.Shutdown(context.Background()); err != nil {
		m.logger.Error("Metrics server shutdown failed", zap.Error(err))
	}
}

func (m *ExportMetrics) collect(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Metrics collection shutting down")
			return
		case <-ticker.C:
			counts, err := m.queue.StatusCounts(ctx)
			if err != nil {
				m.logger.Error("Failed to collect queue depth", zap.Error(err))
				continue
			}
			for _, status := range []string{
				store.ItemStatusPending, store.ItemStatusProcessing,
				store.ItemStatusDone, store.ItemStatusError,
			} {
				m.QueueDepth.WithLabelValues(status).Set(float64(counts[status]))
			}
		}
	}
}
