// Package cache mirrors the latest merged quote per instrument into Redis
// for other consumers. It is an optional, best-effort sink.
package cache
