// Package metrics provides interfaces and implementations for collecting
// delivery metrics. This package defines the Collector interface for
// recording metrics and the Sink interface for exporting them.
package metrics

// Collector defines the interface for recording delivery metrics.
type Collector interface {
	// DeliveryCompleted records the outcome of one invocation.
	// target is "maildir" or "sink"; result is "success" or "failure".
	DeliveryCompleted(target string, result string)

	// MessageSize records the size of the delivered message, headers included.
	MessageSize(sizeBytes int64)

	// StageFailed records which pipeline stage ended a failed delivery.
	StageFailed(stage string)

	// PrivilegeDrop records the privilege transition.
	// result is "dropped", "skipped", "failed" or "reacquired".
	PrivilegeDrop(result string)
}

// Sink defines the interface for exporting collected metrics. A delivery is
// a short-lived process, so metrics are written once on exit rather than
// served.
type Sink interface {
	// Flush writes the current metric values out.
	Flush() error
}
