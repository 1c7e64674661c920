package limiter

// MetricsRecorder receives counters and timings from the limiter. Implement
// it to bridge into your metrics system, or use PrometheusRecorder.
//
// Emitted series:
//
//   - "ratelimit.call" (counter, tag "allowed"): one per completed Limit call
//   - "ratelimit.latency" (timing, seconds): total Limit call duration
//   - "ratelimit.conflict" (counter): commit lost to a concurrent writer
//   - "ratelimit.retry" (counter): attempt retried after a transient failure
//   - "ratelimit.exhausted" (counter, tag "mode"): attempts ran out
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// NoOpMetricsRecorder is a placeholder that does nothing.
// It ensures we never have to check 'if r.recorder != nil' in our hot path.
type NoOpMetricsRecorder struct{}

func (n *NoOpMetricsRecorder) Add(name string, value float64, tags map[string]string)     {}
func (n *NoOpMetricsRecorder) Observe(name string, value float64, tags map[string]string) {}
