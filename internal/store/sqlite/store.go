// Package sqlite persists signal events for the recent-history API.
// Single writer (the pipeline goroutine); readers go through the same
// connection pool with WAL enabled.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"aurafx/internal/signal"
)

const createSchema = `
CREATE TABLE IF NOT EXISTS signal_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol        TEXT NOT NULL,
	timeframe     TEXT NOT NULL,
	direction     TEXT NOT NULL,
	trade_action  TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	strategy_name TEXT NOT NULL,
	occurred_at   TEXT NOT NULL,
	price         REAL NOT NULL,
	pnl           REAL,
	pips          REAL,
	payload       TEXT NOT NULL,
	created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_signal_events_occurred_at ON signal_events(occurred_at);
CREATE INDEX IF NOT EXISTS idx_signal_events_strategy ON signal_events(strategy);
`

// Store wraps the sqlite database holding signal_events.
type Store struct {
	db *sql.DB
}

// New opens (and creates if needed) the database at path.
func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; concurrent write handles just trip SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	log.Printf("[sqlite] event store ready at %s", path)
	return &Store{db: db}, nil
}

// InsertEvents writes a batch of signal events in one transaction.
func (s *Store) InsertEvents(ctx context.Context, events []*signal.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signal_events
			(symbol, timeframe, direction, trade_action, strategy, strategy_name,
			 occurred_at, price, pnl, pips, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal event payload: %w", err)
		}
		var pnl, pips interface{}
		if ev.PnL != nil {
			pnl = *ev.PnL
		}
		if ev.Pips != nil {
			pips = *ev.Pips
		}
		if _, err := stmt.ExecContext(ctx,
			ev.Symbol, ev.Timeframe, ev.Direction, ev.TradeAction,
			string(ev.Strategy), ev.Strategy.Label(),
			ev.OccurredAt.UTC().Format(time.RFC3339Nano),
			ev.Price, pnl, pips, string(payload),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert signal event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events (descending id), each as the
// persisted payload augmented with the row id and created_at.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pnl, pips, payload, created_at
		FROM signal_events
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		var (
			id        int64
			pnl, pips sql.NullFloat64
			payload   string
			createdAt string
		)
		if err := rows.Scan(&id, &pnl, &pips, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		entry := map[string]interface{}{}
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			// A malformed row must not break the endpoint.
			entry = map[string]interface{}{}
		}
		entry["id"] = id
		entry["created_at"] = createdAt
		if pnl.Valid {
			entry["pnl"] = pnl.Float64
		}
		if pips.Valid {
			entry["pips"] = pips.Float64
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
