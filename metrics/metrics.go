package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_ticks_total", Help: "Count of ticks ingested"},
		[]string{"symbol"},
	)
	QuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_quotes_total", Help: "Count of quotes ingested"},
		[]string{"symbol"},
	)
	OutOfOrderTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_out_of_order_total", Help: "Count of out-of-order events dropped"},
		[]string{"symbol"},
	)
	MissedCadenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_missed_cadence_total", Help: "Count of cadence cycles skipped while busy"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_signals_total", Help: "Count of signals emitted"},
		[]string{"symbol", "kind"},
	)
	DiagnosticsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "reflex_diagnostics_dropped_total", Help: "Count of diagnostic records dropped"},
	)
	PersistRetriesExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reflex_persist_retries_exhausted_total", Help: "Count of persistence writes abandoned after retries"},
		[]string{"table"},
	)
	SymbolStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "reflex_symbol_states", Help: "Count of symbols per readiness state"},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, QuotesTotal, OutOfOrderTotal,
		MissedCadenceTotal, SignalsTotal, DiagnosticsDroppedTotal,
		PersistRetriesExhaustedTotal, SymbolStates)
}

// Serve exposes the metrics and liveness endpoints on the provided address.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
