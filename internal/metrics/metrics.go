// Package metrics records sync counters in a private Prometheus registry and
// exports them in the node_exporter textfile format. No HTTP endpoint is
// served; a cron-driven CLI run writes the file and exits.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

const namespace = "eta_fetcher"

// Registry implements sync.Recorder on top of a dedicated Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	stored       *prometheus.CounterVec
	statusUpdate *prometheus.CounterVec
	retryQueue   *prometheus.GaugeVec
	skipped      *prometheus.GaugeVec
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	lastRun      *prometheus.GaugeVec

	nowFunc func() time.Time
}

// New builds a Registry with every collector registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		stored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_stored_total",
			Help:      "Documents committed to the account store.",
		}, []string{"account", "partition"}),
		statusUpdate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Stored documents whose status changed on reconciliation.",
		}, []string{"account"}),
		retryQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_size",
			Help:      "Document ids waiting for another fetch attempt.",
		}, []string{"account"}),
		skipped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skipped_windows",
			Help:      "Search windows waiting for another attempt.",
		}, []string{"account"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Engine runs by final phase.",
		}, []string{"account", "phase"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one engine run.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"account"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run of the account finished.",
		}, []string{"account"}),
		nowFunc: time.Now,
	}

	r.reg.MustRegister(r.stored, r.statusUpdate, r.retryQueue, r.skipped,
		r.runs, r.runDuration, r.lastRun)

	return r
}

// Gatherer exposes the underlying registry for tests and exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) DocumentsStored(account string, partition invoice.Direction, n int) {
	if n <= 0 {
		return
	}

	r.stored.WithLabelValues(account, partition.String()).Add(float64(n))
}

func (r *Registry) StatusUpdated(account string, n int) {
	if n <= 0 {
		return
	}

	r.statusUpdate.WithLabelValues(account).Add(float64(n))
}

func (r *Registry) QueueSizes(account string, retry, skipped int) {
	r.retryQueue.WithLabelValues(account).Set(float64(retry))
	r.skipped.WithLabelValues(account).Set(float64(skipped))
}

func (r *Registry) RunFinished(account, phase string, d time.Duration) {
	r.runs.WithLabelValues(account, phase).Inc()
	r.runDuration.WithLabelValues(account).Observe(d.Seconds())
	r.lastRun.WithLabelValues(account).Set(float64(r.nowFunc().Unix()))
}

// WriteTextfile writes the current values to path for the node_exporter
// textfile collector. The write is atomic.
func (r *Registry) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: creating textfile directory: %w", err)
	}

	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("metrics: writing %s: %w", path, err)
	}

	return nil
}
