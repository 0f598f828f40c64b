// Package database manages the PostgreSQL connection pool for the tick
// recorder.
package database
