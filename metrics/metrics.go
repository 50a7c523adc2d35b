// Package metrics exports validation events as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"sigs.k8s.io/release-utils/version"

	"github.com/georgepadayatti/sigtrust/sign/validation"
)

// DefaultNamespace prefixes metric names when no namespace is given.
const DefaultNamespace = "sigtrust"

// Recorder is a validation.Recorder backed by its own Prometheus registry.
// It is safe for concurrent use.
type Recorder struct {
	reg *prometheus.Registry

	contexts        *prometheus.CounterVec
	contextDuration prometheus.Histogram
	certificates    prometheus.Counter
	timestamps      prometheus.Counter
	revocations     prometheus.Counter
	violations      *prometheus.CounterVec
	profiles        *prometheus.CounterVec
}

var _ validation.Recorder = (*Recorder)(nil)

// NewRecorder creates a recorder whose metric names start with namespace.
func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	r := &Recorder{reg: prometheus.NewRegistry()}
	f := promauto.With(r.reg)

	r.contexts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_contexts_total",
		Help:      "The total number of validation runs, by outcome.",
	}, []string{"passed"})

	r.contextDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "validation_duration_seconds",
		Help:      "Time spent validating one context.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	r.certificates = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validated_certificates_total",
		Help:      "The total number of certificates processed.",
	})

	r.timestamps = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validated_timestamps_total",
		Help:      "The total number of timestamps processed.",
	})

	r.revocations = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collected_revocations_total",
		Help:      "The total number of revocation tokens collected.",
	})

	r.violations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_violations_total",
		Help:      "The total number of failed aggregate checks.",
	}, []string{"check", "fatal"})

	r.profiles = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signature_profiles_total",
		Help:      "The total number of evaluated signatures, by highest profile level reached.",
	}, []string{"level"})

	_ = f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "A metric with a constant '1' value labeled by version, revision, build date and goversion.",
			ConstLabels: prometheus.Labels{
				"version":    version.GetVersionInfo().GitVersion,
				"revision":   version.GetVersionInfo().GitCommit,
				"build_date": version.GetVersionInfo().BuildDate,
				"goversion":  version.GetVersionInfo().GoVersion,
			},
		},
		func() float64 { return 1 },
	)
	return r
}

// Registry returns the registry holding the recorder's metrics.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ContextValidated implements validation.Recorder.
func (r *Recorder) ContextValidated(result validation.AggregateResult, elapsed time.Duration) {
	r.contexts.WithLabelValues(strconv.FormatBool(result.Passed())).Inc()
	r.contextDuration.Observe(elapsed.Seconds())
	r.certificates.Add(float64(len(result.Certificates)))
	r.timestamps.Add(float64(len(result.Timestamps)))
	r.revocations.Add(float64(result.Revocations))
}

// PolicyViolation implements validation.Recorder.
func (r *Recorder) PolicyViolation(check string, fatal bool) {
	r.violations.WithLabelValues(check, strconv.FormatBool(fatal)).Inc()
}

// ProfileEvaluated implements validation.Recorder.
func (r *Recorder) ProfileEvaluated(level string) {
	r.profiles.WithLabelValues(level).Inc()
}

// WriteTextfile writes the current metrics to path in the Prometheus text
// format, for collection by a node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
