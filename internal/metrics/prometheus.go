package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	deliveriesTotal       *prometheus.CounterVec
	lastDeliveryTimestamp prometheus.Gauge
	messagesSizeBytes     prometheus.Histogram
	stageFailuresTotal    *prometheus.CounterVec
	privilegeDropsTotal   *prometheus.CounterVec

	now func() time.Time
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attomail_deliveries_total",
			Help: "Total number of delivery attempts.",
		}, []string{"target", "result"}),
		lastDeliveryTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attomail_last_delivery_timestamp_seconds",
			Help: "Unix time of the last completed delivery attempt.",
		}),
		messagesSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attomail_messages_size_bytes",
			Help:    "Size of delivered messages in bytes.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 26214400, 52428800},
		}),
		stageFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attomail_stage_failures_total",
			Help: "Total number of deliveries that failed, by pipeline stage.",
		}, []string{"stage"}),
		privilegeDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attomail_privilege_drops_total",
			Help: "Total number of privilege transitions, by result.",
		}, []string{"result"}),
		now: time.Now,
	}

	reg.MustRegister(
		c.deliveriesTotal,
		c.lastDeliveryTimestamp,
		c.messagesSizeBytes,
		c.stageFailuresTotal,
		c.privilegeDropsTotal,
	)

	return c
}

// DeliveryCompleted increments the delivery counter and stamps the time.
func (c *PrometheusCollector) DeliveryCompleted(target string, result string) {
	c.deliveriesTotal.WithLabelValues(target, result).Inc()
	c.lastDeliveryTimestamp.Set(float64(c.now().Unix()))
}

// MessageSize observes the message size.
func (c *PrometheusCollector) MessageSize(sizeBytes int64) {
	c.messagesSizeBytes.Observe(float64(sizeBytes))
}

// StageFailed increments the stage failure counter.
func (c *PrometheusCollector) StageFailed(stage string) {
	c.stageFailuresTotal.WithLabelValues(stage).Inc()
}

// PrivilegeDrop increments the privilege transition counter.
func (c *PrometheusCollector) PrivilegeDrop(result string) {
	c.privilegeDropsTotal.WithLabelValues(result).Inc()
}
