// Package store persists the engine's audit trail: basket closures and
// level activations. All database operations go through this package.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"gridpilot/logger"
)

// Store is the audit persistence layer over a local SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and ensures the
// schema exists.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}
	logger.Infof("✅ Database initialized (%s)", path)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initTables() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS basket_history (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			target_price TEXT NOT NULL,
			closed_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return err
	}
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS level_events (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			level_index INTEGER NOT NULL,
			price TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_basket_history_closed_at
		ON basket_history(closed_at)
	`)
	return err
}

// BasketRecord is one audited basket closure.
type BasketRecord struct {
	ID          string
	Symbol      string
	Direction   string
	TargetPrice string
	ClosedAt    time.Time
}

// LevelEvent is one audited level activation.
type LevelEvent struct {
	ID         string
	Symbol     string
	Direction  string
	LevelIndex int
	Price      string
	OccurredAt time.Time
}

// RecordBasketClosed appends a basket closure to the audit trail.
func (s *Store) RecordBasketClosed(symbol, direction, targetPrice string, closedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO basket_history (id, symbol, direction, target_price, closed_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), symbol, direction, targetPrice, closedAt)
	if err != nil {
		return fmt.Errorf("record basket closure: %w", err)
	}
	return nil
}

// RecordLevelActivated appends a level activation to the audit trail.
func (s *Store) RecordLevelActivated(symbol, direction string, level int, price string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO level_events (id, symbol, direction, level_index, price, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), symbol, direction, level, price, at)
	if err != nil {
		return fmt.Errorf("record level activation: %w", err)
	}
	return nil
}

// BasketHistory returns the most recent basket closures, newest first.
func (s *Store) BasketHistory(limit int) ([]BasketRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, direction, target_price, closed_at
		FROM basket_history
		ORDER BY closed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BasketRecord
	for rows.Next() {
		var r BasketRecord
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Direction, &r.TargetPrice, &r.ClosedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LevelEvents returns the most recent level activations, newest first.
func (s *Store) LevelEvents(limit int) ([]LevelEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, direction, level_index, price, occurred_at
		FROM level_events
		ORDER BY occurred_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LevelEvent
	for rows.Next() {
		var ev LevelEvent
		if err := rows.Scan(&ev.ID, &ev.Symbol, &ev.Direction, &ev.LevelIndex, &ev.Price, &ev.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
