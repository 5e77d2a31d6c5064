package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the configuration for metrics export.
type Config struct {
	// Textfile is the path node_exporter's textfile collector reads.
	// Empty disables metrics.
	Textfile string
}

// TextfileSink writes gathered metrics to a file in the Prometheus text
// format. The file is replaced atomically, so a scrape never sees a partial
// write.
type TextfileSink struct {
	path     string
	gatherer prometheus.Gatherer
}

// NewTextfileSink creates a sink that writes g to path.
func NewTextfileSink(path string, g prometheus.Gatherer) *TextfileSink {
	return &TextfileSink{path: path, gatherer: g}
}

// Flush writes the current metric values to the textfile.
func (s *TextfileSink) Flush() error {
	if err := prometheus.WriteToTextfile(s.path, s.gatherer); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", s.path, err)
	}
	return nil
}

// New creates a Collector and Sink based on the provided configuration.
// Metrics go to a private registry so only delivery metrics are exported.
func New(cfg Config) (Collector, Sink) {
	if cfg.Textfile == "" {
		return &NoopCollector{}, &NoopSink{}
	}
	reg := prometheus.NewRegistry()
	return NewPrometheusCollector(reg), NewTextfileSink(cfg.Textfile, reg)
}
