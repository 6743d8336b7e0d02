// Package metrics exposes Prometheus instrumentation for the live
// engine:
//   - tradeloop_decisions_total{outcome}    - per-bar decision outcomes
//   - tradeloop_trades_total{reason,side}   - closed trades by exit reason
//   - tradeloop_fetch_failures_total        - exhausted fetch attempts
//   - tradeloop_realized_pnl_usd            - cumulative realized PnL
//   - tradeloop_degraded                    - 1 while the watchdog is active
//
// Served at /metrics; /healthz answers ok for liveness probes.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeloop_decisions_total",
			Help: "Per-bar decision outcomes",
		},
		[]string{"outcome"}, // skipped|hold|traded|blocked
	)

	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeloop_trades_total",
			Help: "Closed trades split by exit reason and side",
		},
		[]string{"reason", "side"},
	)

	mtxFetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradeloop_fetch_failures_total",
			Help: "Fetch attempts that exhausted their retries",
		},
	)

	mtxRealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeloop_realized_pnl_usd",
			Help: "Cumulative realized PnL in USD",
		},
	)

	mtxDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeloop_degraded",
			Help: "1 while the watchdog holds the engine in degraded mode",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxDecisions, mtxTrades, mtxFetchFailures)
	prometheus.MustRegister(mtxRealizedPnL, mtxDegraded)
}

func IncDecision(outcome string) { mtxDecisions.WithLabelValues(outcome).Inc() }
func IncTrade(reason, side string) { mtxTrades.WithLabelValues(reason, side).Inc() }
func IncFetchFailure() { mtxFetchFailures.Inc() }
func SetRealizedPnL(usd float64) { mtxRealizedPnL.Set(usd) }
func SetDegraded(active bool) {
	if active {
		mtxDegraded.Set(1)
		return
	}
	mtxDegraded.Set(0)
}

// Serve starts the /metrics and /healthz endpoint and blocks until ctx
// is cancelled.
func Serve(ctx context.Context, addr string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
