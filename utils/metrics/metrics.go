package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ScanMetrics instruments the scan pipeline.
type ScanMetrics struct {
	ScansTotal         prometheus.Counter
	ScanFailures       prometheus.Counter
	StaleScansDropped  prometheus.Counter
	UnchangedSnapshots prometheus.Counter
	VenueQuoteFailures *prometheus.CounterVec
	Opportunities      prometheus.Counter
	BestProfit         prometheus.Gauge
	ScanLatency        prometheus.Histogram
}

// NewScanMetrics registers scan metrics on the given registerer. Pass a
// fresh registry in tests to avoid duplicate registration.
func NewScanMetrics(namespace string, reg prometheus.Registerer) *ScanMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ScanMetrics{
		ScansTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Total number of scans started",
		}),
		ScanFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_failures_total",
			Help:      "Total number of scans that failed before committing",
		}),
		StaleScansDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_scans_dropped_total",
			Help:      "Total number of scan results discarded because a newer scan committed first",
		}),
		UnchangedSnapshots: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unchanged_snapshots_total",
			Help:      "Total number of snapshots equivalent to the previous one",
		}),
		VenueQuoteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "venue_quote_failures_total",
			Help:      "Total number of failed venue quote queries",
		}, []string{"venue"}),
		Opportunities: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Total number of profitable opportunities found",
		}),
		BestProfit: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_profit",
			Help:      "Normalized profit of the most recent best opportunity",
		}),
		ScanLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_latency_seconds",
			Help:      "End-to-end scan latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// Serve exposes /metrics and /healthz until the context is cancelled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log *zap.Logger) error {
	if addr == "" {
		log.Info("metrics disabled: empty addr")
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler
	if reg != nil {
		handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		})
	} else {
		handler = promhttp.Handler()
	}
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown error", zap.Error(err))
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
