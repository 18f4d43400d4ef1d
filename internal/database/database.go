package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store is the telemetry history database.
type Store struct {
	db *sql.DB
}

// Record is one telemetry sample. A nil reading was absent when sampled.
type Record struct {
	Timestamp int64    `json:"timestamp"`
	Temp      *float64 `json:"temp"`
	Dist      *float64 `json:"dist"`
	LED       bool     `json:"led"`
}

// Open opens the database and ensures the schema exists. Use ":memory:" for a
// throwaway database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		temp REAL,
		dist REAL,
		led INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_readings_timestamp ON readings(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Checkpoint forces a WAL checkpoint and truncates the WAL file.
func (s *Store) Checkpoint() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

func (s *Store) Insert(r Record) error {
	_, err := s.db.Exec(`INSERT INTO readings (timestamp, temp, dist, led) VALUES (?, ?, ?, ?)`,
		r.Timestamp, nullable(r.Temp), nullable(r.Dist), r.LED)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// History returns records with start <= timestamp <= end, oldest first.
func (s *Store) History(start, end int64) ([]Record, error) {
	return s.query(`SELECT timestamp, temp, dist, led FROM readings
	                WHERE timestamp BETWEEN ? AND ?
	                ORDER BY timestamp ASC`, start, end)
}

// Day returns the records of one local calendar day (YYYY-MM-DD).
func (s *Store) Day(date string) ([]Record, error) {
	return s.query(`SELECT timestamp, temp, dist, led FROM readings
	                WHERE date(timestamp, 'unixepoch', 'localtime') = ?
	                ORDER BY timestamp ASC`, date)
}

func (s *Store) query(q string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var r Record
		var temp, dist sql.NullFloat64
		if err := rows.Scan(&r.Timestamp, &temp, &dist, &r.LED); err != nil {
			return nil, err
		}
		if temp.Valid {
			r.Temp = &temp.Float64
		}
		if dist.Valid {
			r.Dist = &dist.Float64
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Dates returns the local days (YYYY-MM-DD) that have records, newest first.
func (s *Store) Dates() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT date(timestamp, 'unixepoch', 'localtime') AS day FROM readings ORDER BY day DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			continue
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// Prune keeps the last days recorded days and deletes everything older.
// Gaps without records do not count towards days.
func (s *Store) Prune(days int) error {
	if days <= 0 {
		return nil
	}
	dates, err := s.Dates()
	if err != nil {
		return fmt.Errorf("failed to query recorded days: %w", err)
	}
	if len(dates) <= days {
		return nil
	}
	oldestToKeep := dates[days-1]
	if _, err := s.db.Exec(`DELETE FROM readings WHERE date(timestamp, 'unixepoch', 'localtime') < ?`, oldestToKeep); err != nil {
		return fmt.Errorf("failed to prune old records: %w", err)
	}
	return nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
