package sinc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide counters surfaced by the core. The framing
// decoder treating response_code != 3 as a silent skip is intentional but
// merits a counter for operational visibility (spec §9) — framesSkipped is
// that counter. Grounded on the teacher's prometheus.go promauto pattern.
type Metrics struct {
	bytesRead       prometheus.Counter
	bytesWritten    prometheus.Counter
	framesResynced  prometheus.Counter
	framesSkipped   prometheus.Counter
	activeConns     prometheus.Gauge
	datagramsLifted prometheus.Counter
}

// defaultMetrics is registered against the default Prometheus registry when
// the package is initialized, and is what NewConnection uses without an
// explicit Metrics override, matching the teacher's pattern of a single process-wide metrics struct
// rather than one per connection.
var defaultMetrics = newMetrics(prometheus.DefaultRegisterer)

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		bytesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinc_bytes_read_total",
			Help: "Total bytes read from device connections (TCP+UDP).",
		}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinc_bytes_written_total",
			Help: "Total bytes written to device connections.",
		}),
		framesResynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinc_frames_resynced_total",
			Help: "Number of times the framing decoder discarded a marker to resynchronize after corruption.",
		}),
		framesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinc_frames_skipped_total",
			Help: "Number of framed packets skipped because response_code was not the protobuf code.",
		}),
		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sinc_active_connections",
			Help: "Number of currently-connected device connections.",
		}),
		datagramsLifted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinc_datagrams_lifted_total",
			Help: "Number of UDP histogram datagrams rewritten into framed packets.",
		}),
	}
}

// NewMetrics registers a fresh, independent set of counters against reg.
// Use this (rather than the package-level default) when embedding gosinc in
// a process that already owns its own Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}
