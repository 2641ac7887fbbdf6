package metrics

import (
	"time"

	"github.com/owsrgate/owsrgate/internal/observability"
)

// Relay metric names
const (
	AdmissionTotal         = "relay_admission_total"
	UpstreamCallsTotal     = "relay_upstream_calls_total"
	UpstreamCallDuration   = "relay_upstream_call_duration_ms"
	ThrottledRequestsTotal = "relay_throttled_requests_total"
	ServerStartTime        = "app_server_start_time_seconds"
)

// RecordAdmission records an admission controller decision for an operation.
func RecordAdmission(operation string, allowed bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	decision := "admitted"
	if !allowed {
		decision = "denied"
	}
	_ = observability.TelemetrySystem.Counter(
		AdmissionTotal,
		1,
		map[string]string{
			"operation": operation,
			"decision":  decision,
		},
	)
}

// RecordUpstreamCall records the outcome and latency of one outbound call.
// outcome is "success" or the error kind.
func RecordUpstreamCall(operation, outcome string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{
		"operation": operation,
		"outcome":   outcome,
	}
	_ = observability.TelemetrySystem.Counter(UpstreamCallsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(UpstreamCallDuration, duration, labels)
}

// RecordThrottled records an inbound request rejected by the per-client throttle.
func RecordThrottled(endpoint string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ThrottledRequestsTotal,
			1,
			map[string]string{"endpoint": endpoint},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
