package supervisor

import (
	"time"
)

// MetricsCollector defines the interface for collecting instance metrics
type MetricsCollector interface {
	// InstanceStateTransition records a state transition for an instance
	InstanceStateTransition(role string, fromState, toState State)

	// InstanceStartDuration records how long Start took and whether it succeeded
	InstanceStartDuration(role string, duration time.Duration, err error)

	// InstanceStopDuration records how long Stop took
	InstanceStopDuration(role string, duration time.Duration)

	// InstanceError records an error for an instance
	InstanceError(role string, errorType string)

	// OutputLine records a drained output line
	OutputLine(role string, stream string)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) InstanceStateTransition(role string, fromState, toState State)        {}
func (n *noopMetricsCollector) InstanceStartDuration(role string, duration time.Duration, err error) {}
func (n *noopMetricsCollector) InstanceStopDuration(role string, duration time.Duration)             {}
func (n *noopMetricsCollector) InstanceError(role string, errorType string)                          {}
func (n *noopMetricsCollector) OutputLine(role string, stream string)                                {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
