// Package metrics exposes Prometheus metrics for the sync engine.
package metrics
