package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg             *prometheus.Registry
	BatchesSent     *prometheus.CounterVec
	RecordsSent     *prometheus.CounterVec
	RecordsSkipped  *prometheus.CounterVec
	BatchFailures   *prometheus.CounterVec
	RequestLatency  prometheus.Histogram
	LedgerApplied   prometheus.Counter
	JournalAppended prometheus.Counter
	LastRunSuccess  prometheus.Gauge

	// Ledger restore
	ReplayApplied prometheus.Counter
	ReplaySkipped prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	kind := []string{"kind"}
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "brazekit_batches_sent_total"}, kind)
	records := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "brazekit_records_sent_total"}, kind)
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "brazekit_records_skipped_total"}, kind)
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "brazekit_batch_failures_total"}, kind)
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "brazekit_request_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	ledgerApplied := prometheus.NewCounter(prometheus.CounterOpts{Name: "brazekit_ledger_applied_total"})
	journalAppended := prometheus.NewCounter(prometheus.CounterOpts{Name: "brazekit_journal_appended_total"})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{Name: "brazekit_last_run_success"})
	replayApplied := prometheus.NewCounter(prometheus.CounterOpts{Name: "brazekit_replay_applied_total"})
	replaySkipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "brazekit_replay_skipped_total"})

	r.MustRegister(batches, records, skipped, failures, latency, ledgerApplied, journalAppended, lastRun, replayApplied, replaySkipped)
	return &Registry{
		reg:             r,
		BatchesSent:     batches,
		RecordsSent:     records,
		RecordsSkipped:  skipped,
		BatchFailures:   failures,
		RequestLatency:  latency,
		LedgerApplied:   ledgerApplied,
		JournalAppended: journalAppended,
		LastRunSuccess:  lastRun,
		ReplayApplied:   replayApplied,
		ReplaySkipped:   replaySkipped,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Router serves /metrics and /healthz.
func (r *Registry) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Handle("/metrics", r.Handler())
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})
	return mux
}

// WriteTextfile dumps the registry in text exposition format, for node_exporter's textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
