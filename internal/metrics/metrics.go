// Package metrics collects the run statistics of the tiler and dumps them in the
// Prometheus text format at the end of a batch run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements blktiler.Recorder over its own registry.
type Metrics struct {
	reg             *prometheus.Registry
	Layers          *prometheus.CounterVec
	TilesWritten    prometheus.Counter
	BytesWritten    prometheus.Counter
	TransitionRules prometheus.Gauge
	LayerDuration   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Layers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blktiler_layers_total",
			Help: "Layers and stacks processed, by status",
		}, []string{"status"}),
		TilesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blktiler_tiles_written_total",
			Help: "Block files written",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blktiler_bytes_written_total",
			Help: "Bytes of block files written",
		}),
		TransitionRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blktiler_transition_rules",
			Help: "Transition rules interned during the run",
		}),
		LayerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blktiler_layer_duration_seconds",
			Help:    "Time to normalize and tile one layer or stack",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
	}
	m.reg.MustRegister(m.Layers, m.TilesWritten, m.BytesWritten, m.TransitionRules, m.LayerDuration)
	return m
}

func (m *Metrics) LayerDone(status string, elapsed time.Duration) {
	m.Layers.WithLabelValues(status).Inc()
	m.LayerDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) TileWritten(bytes int) {
	m.TilesWritten.Inc()
	m.BytesWritten.Add(float64(bytes))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WriteToTextfile dumps the collected metrics to path, for the node exporter textfile
// collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
