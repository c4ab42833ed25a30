package backup

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "kyc_backup"

// Metrics exports the outcome of the last run in the node_exporter textfile format
type Metrics struct {
	registry      *prometheus.Registry
	lastRun       prometheus.Gauge
	lastStatus    *prometheus.GaugeVec
	artifactBytes *prometheus.GaugeVec
	swept         prometheus.Counter
	failedBuckets prometheus.Gauge
	stageDuration *prometheus.GaugeVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last backup run",
		}),
		lastStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_status",
			Help:      "1 for the status the last backup run ended with, 0 otherwise",
		}, []string{"status"}),
		artifactBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "artifact_bytes",
			Help:      "Size of the artifacts produced by the last run by kind",
		}, []string{"kind"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "swept_artifacts_total",
			Help:      "Artifacts removed by retention in the last run",
		}),
		failedBuckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "failed_buckets",
			Help:      "Buckets that could not be mirrored in the last run",
		}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each stage of the last run",
		}, []string{"stage"}),
	}
	m.registry.MustRegister(m.lastRun, m.lastStatus, m.artifactBytes, m.swept, m.failedBuckets, m.stageDuration)
	return m
}

// Observe records run
func (m *Metrics) Observe(run *BackupRun) {
	m.lastRun.Set(float64(run.Timestamp.Unix()))
	for _, s := range []Status{StatusSuccess, StatusPartialFailure, StatusFailed} {
		v := 0.0
		if run.Status == s {
			v = 1
		}
		m.lastStatus.WithLabelValues(string(s)).Set(v)
	}
	for _, a := range run.Artifacts {
		m.artifactBytes.WithLabelValues(string(a.Kind)).Set(float64(a.Size))
	}
	if run.Sweep != nil && !run.Sweep.DryRun {
		m.swept.Add(float64(len(run.Sweep.Deleted)))
	}
	m.failedBuckets.Set(float64(len(run.BucketFailures)))
	for _, s := range run.Stages {
		m.stageDuration.WithLabelValues(s.Name).Set(s.Duration.Seconds())
	}
}

// WriteTextfile writes the collected metrics to path atomically
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
