// Package metrics exports per-list gauges in the node_exporter textfile format.
package metrics

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the metrics of one invocation.
type Recorder struct {
	reg *prometheus.Registry

	SetEntries     *prometheus.GaugeVec
	SetCapacity    *prometheus.GaugeVec
	LastPublish    *prometheus.GaugeVec
	Rejected       *prometheus.GaugeVec
	UpdateFailures *prometheus.CounterVec
	RulePackets    *prometheus.GaugeVec
	RuleBytes      *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	r := &Recorder{reg: reg}

	r.SetEntries = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "setguard_set_entries",
		Help: "Number of entries in the live set",
	}, []string{"list", "set"})

	r.SetCapacity = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "setguard_set_capacity",
		Help: "Maximum entries of the live set, 0 when unbounded",
	}, []string{"list", "set"})

	r.LastPublish = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "setguard_last_publish_timestamp_seconds",
		Help: "Unix timestamp of the last successful publish",
	}, []string{"list"})

	r.Rejected = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "setguard_records_rejected",
		Help: "Records rejected while building the last generation",
	}, []string{"list"})

	r.UpdateFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "setguard_update_failures_total",
		Help: "Total number of failed updates",
	}, []string{"list"})

	r.RulePackets = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "setguard_rule_packets",
		Help: "Packets matched by a managed rule",
	}, []string{"list", "chain", "tag"})

	r.RuleBytes = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "setguard_rule_bytes",
		Help: "Bytes matched by a managed rule",
	}, []string{"list", "chain", "tag"})

	return r
}

// RecordPublish records a successful publish.
func (r *Recorder) RecordPublish(list, set string, count, capacity, rejected int, at time.Time) {
	r.SetEntries.WithLabelValues(list, set).Set(float64(count))
	r.SetCapacity.WithLabelValues(list, set).Set(float64(capacity))
	r.Rejected.WithLabelValues(list).Set(float64(rejected))
	r.LastPublish.WithLabelValues(list).Set(float64(at.Unix()))
	r.UpdateFailures.WithLabelValues(list)
}

// RecordFailures sets the failure counter to the persisted total.
func (r *Recorder) RecordFailures(list string, total int) {
	r.UpdateFailures.WithLabelValues(list).Add(float64(total))
}

// RecordRule records the counters of one managed rule.
func (r *Recorder) RecordRule(list, chain, tag string, packets, bytes uint64) {
	r.RulePackets.WithLabelValues(list, chain, tag).Set(float64(packets))
	r.RuleBytes.WithLabelValues(list, chain, tag).Set(float64(bytes))
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile atomically writes all metrics to path.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

// TextfilePath derives the per-list file from the configured metrics file,
// so concurrent invocations for different lists never share a file.
// "/var/lib/node_exporter/setguard.prom" becomes ".../setguard-ipsum.prom".
func TextfilePath(base, list string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + list + ext
}
