// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - per-source relayed event and reconnect counters
//   - throttled order-book update counter
//   - per-source connection state gauges
//   - active session gauge
package metrics
