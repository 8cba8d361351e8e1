// Package metrics exports Prometheus collectors for the sync agent:
// queue depth and throughput, replay outcomes, reconcile latency, edge
// proxy strategy hits, and connectivity transitions.
package metrics
