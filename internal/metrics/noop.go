package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// DeliveryCompleted is a no-op.
func (n *NoopCollector) DeliveryCompleted(target string, result string) {}

// MessageSize is a no-op.
func (n *NoopCollector) MessageSize(sizeBytes int64) {}

// StageFailed is a no-op.
func (n *NoopCollector) StageFailed(stage string) {}

// PrivilegeDrop is a no-op.
func (n *NoopCollector) PrivilegeDrop(result string) {}

// NoopSink is a no-op implementation of the Sink interface.
type NoopSink struct{}

// Flush is a no-op that returns immediately.
func (n *NoopSink) Flush() error {
	return nil
}
