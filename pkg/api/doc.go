// Package api serves the local JSON surface the form UI consumes:
// reconciled views, mutation submission, queue inspection, a manual
// sync trigger, and Prometheus metrics.
package api
