// Package recorder persists the folded tick stream to PostgreSQL in
// batches. It is an optional sink; the fold loop never blocks on it.
package recorder
