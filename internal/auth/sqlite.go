package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/coinkiri/coinsync/internal/model"
)

// SQLiteStore is a durable Store backed by a local SQLite file.
// The pair survives process restarts and is cleared atomically on logout.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer, single row.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			access_token  TEXT    NOT NULL,
			refresh_token TEXT    NOT NULL,
			updated_at    INTEGER NOT NULL
		)
	`)
	return err
}

// Get returns the stored pair.
func (s *SQLiteStore) Get(ctx context.Context) (model.TokenPair, error) {
	var pair model.TokenPair
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token FROM session WHERE id = 1`,
	).Scan(&pair.AccessToken, &pair.RefreshToken)

	if errors.Is(err, sql.ErrNoRows) {
		return model.TokenPair{}, ErrNoSession
	}
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("sqlite get session: %w", err)
	}
	return pair, nil
}

// Set replaces the stored pair in a single statement.
func (s *SQLiteStore) Set(ctx context.Context, pair model.TokenPair) error {
	if !pair.Complete() {
		return ErrPartialPair
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, access_token, refresh_token, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			updated_at    = excluded.updated_at
	`, pair.AccessToken, pair.RefreshToken, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("sqlite set session: %w", err)
	}
	return nil
}

// Clear removes the stored pair.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`); err != nil {
		return fmt.Errorf("sqlite clear session: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
