package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"shortssync/internal/domain"
)

// Store keeps the publish ledger and the daily quota usage in one SQLite file.
type Store struct {
	db *sql.DB
}

func InitDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between the scheduler and status reads.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		source_channel TEXT NOT NULL,
		source_item_id TEXT NOT NULL,
		destination_id TEXT DEFAULT '',
		title          TEXT DEFAULT '',
		views          INTEGER NOT NULL DEFAULT 0,
		likes          INTEGER NOT NULL DEFAULT 0,
		comments       INTEGER NOT NULL DEFAULT 0,
		shares         INTEGER NOT NULL DEFAULT 0,
		committed_at   DATETIME NOT NULL,
		UNIQUE(source_channel, source_item_id)
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_channel ON ledger_entries(source_channel);

	CREATE TABLE IF NOT EXISTS quota_days (
		date         TEXT PRIMARY KEY,
		used         INTEGER NOT NULL DEFAULT 0,
		limit_units  INTEGER NOT NULL,
		last_updated DATETIME
	);

	CREATE TABLE IF NOT EXISTS quota_operations (
		date      TEXT NOT NULL,
		operation TEXT NOT NULL,
		count     INTEGER NOT NULL DEFAULT 0,
		cost      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, operation)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	// Migration: ledgers written before titles were stored lack the column.
	var colCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('ledger_entries') WHERE name = 'title'`).Scan(&colCount); err != nil {
		db.Close()
		return nil, fmt.Errorf("inspect ledger_entries: %w", err)
	}
	if colCount == 0 {
		if _, err := db.Exec(`ALTER TABLE ledger_entries ADD COLUMN title TEXT DEFAULT ''`); err != nil {
			db.Close()
			return nil, fmt.Errorf("add title column: %w", err)
		}
	}

	return db, nil
}

func Open(path string) (*Store, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, fmt.Errorf("init sqlite %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Ledger ---

func (s *Store) LoadLedger() (map[string][]domain.LedgerEntry, error) {
	rows, err := s.db.Query(
		`SELECT source_channel, source_item_id, destination_id, title, views, likes, comments, shares, committed_at
		 FROM ledger_entries ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.LedgerEntry)
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(
			&e.SourceChannel, &e.SourceItemID, &e.DestinationID, &e.Title,
			&e.Metrics.Views, &e.Metrics.Likes, &e.Metrics.Comments, &e.Metrics.Shares,
			&e.CommittedAt,
		); err != nil {
			return nil, err
		}
		out[e.SourceChannel] = append(out[e.SourceChannel], e)
	}
	return out, rows.Err()
}

func (s *Store) AppendLedgerEntry(e domain.LedgerEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO ledger_entries (source_channel, source_item_id, destination_id, title, views, likes, comments, shares, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SourceChannel, e.SourceItemID, e.DestinationID, e.Title,
		e.Metrics.Views, e.Metrics.Likes, e.Metrics.Comments, e.Metrics.Shares,
		e.CommittedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s/%s", domain.ErrDuplicateEntry, e.SourceChannel, e.SourceItemID)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// --- Quota ---

func (s *Store) LoadQuotaDay(date string) (domain.QuotaLedger, bool, error) {
	day := domain.QuotaLedger{Date: date, Operations: map[string]domain.OperationUsage{}}
	var lastUpdated sql.NullTime
	err := s.db.QueryRow(
		`SELECT used, limit_units, last_updated FROM quota_days WHERE date = ?`, date,
	).Scan(&day.Used, &day.Limit, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return day, false, nil
	}
	if err != nil {
		return day, false, err
	}
	if lastUpdated.Valid {
		day.LastUpdated = lastUpdated.Time
	}

	rows, err := s.db.Query(
		`SELECT operation, count, cost FROM quota_operations WHERE date = ? ORDER BY operation`, date,
	)
	if err != nil {
		return day, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var op string
		var usage domain.OperationUsage
		if err := rows.Scan(&op, &usage.Count, &usage.Cost); err != nil {
			return day, false, err
		}
		day.Operations[op] = usage
	}
	return day, true, rows.Err()
}

func (s *Store) SaveQuotaDay(day domain.QuotaLedger) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lastUpdated := day.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now()
	}
	if _, err := tx.Exec(
		`INSERT INTO quota_days (date, used, limit_units, last_updated) VALUES (?, ?, ?, ?)
		 ON CONFLICT(date) DO UPDATE SET used = excluded.used, limit_units = excluded.limit_units, last_updated = excluded.last_updated`,
		day.Date, day.Used, day.Limit, lastUpdated.UTC(),
	); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO quota_operations (date, operation, count, cost) VALUES (?, ?, ?, ?)
		 ON CONFLICT(date, operation) DO UPDATE SET count = excluded.count, cost = excluded.cost`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for op, usage := range day.Operations {
		if _, err := stmt.Exec(day.Date, op, usage.Count, usage.Cost); err != nil {
			return err
		}
	}
	return tx.Commit()
}
