// Package db backs the read-only operator dashboard: a sqlite index
// over the run-snapshot and rusage rings the worker and bus endpoint
// already write to <data-path>, grounded on the teacher's
// internal/db.DB (same WAL/busy-timeout DSN, single-writer connection
// pool) but querying a "runs"/"rusage_samples" schema instead of the
// teacher's watcher/probe-config tables, since sitterd has no central
// watcher registry — the dashboard indexes files the daemon already
// produces rather than receiving pushed results over HTTP.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the dashboard's sqlite connection.
type DB struct {
	conn *sql.DB
}

// Connect opens (creating if necessary) the sqlite database at dbPath.
func Connect(ctx context.Context, dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", dbPath)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for direct access.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// RunSummary is one indexed row of the persisted run-snapshot ring.
type RunSummary struct {
	RunID            string `json:"run_id"`
	StartDate        int64  `json:"start_date"`
	EndDate          int64  `json:"end_date"`
	Slot             int64  `json:"slot"`
	ErrorCount       int    `json:"error_count"`
	MaxErrorPriority int    `json:"max_error_priority"`
	Path             string `json:"-"`
}

// ListRuns returns up to limit runs, most recent first.
func (d *DB) ListRuns(ctx context.Context, limit, offset int) ([]RunSummary, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT run_id, start_date, end_date, slot, error_count, max_error_priority, path
		FROM runs
		ORDER BY start_date DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.StartDate, &r.EndDate, &r.Slot, &r.ErrorCount, &r.MaxErrorPriority, &r.Path); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns the indexed summary row for a single run, identified
// by its run_id.
func (d *DB) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	var r RunSummary
	err := d.conn.QueryRowContext(ctx, `
		SELECT run_id, start_date, end_date, slot, error_count, max_error_priority, path
		FROM runs WHERE run_id = ?
	`, runID).Scan(&r.RunID, &r.StartDate, &r.EndDate, &r.Slot, &r.ErrorCount, &r.MaxErrorPriority, &r.Path)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &r, nil
}

// GetRunDocument returns the full serialized Result Document indexed
// for runID, exactly as the worker persisted it.
func (d *DB) GetRunDocument(ctx context.Context, runID string) (RawDocument, error) {
	var doc RawDocument
	err := d.conn.QueryRowContext(ctx, `SELECT document FROM runs WHERE run_id = ?`, runID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run document %s: %w", runID, err)
	}
	return doc, nil
}

// RusageSample is one indexed hour-slot of a process's rusage ring.
type RusageSample struct {
	ProcessName string `json:"process_name"`
	HourSlot    int    `json:"hour_slot"`
	PID         string `json:"pid"`
	UserTime    string `json:"user_time"`
	SystemTime  string `json:"system_time"`
	MaxRSS      string `json:"maxrss"`
	Date        int64  `json:"date"`
	Path        string `json:"-"`
}

// ListRusage returns every indexed hour-slot recorded for process,
// ordered by hour of day.
func (d *DB) ListRusage(ctx context.Context, process string) ([]RusageSample, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT process_name, hour_slot, pid, user_time, system_time, maxrss, date, path
		FROM rusage_samples
		WHERE process_name = ?
		ORDER BY hour_slot ASC
	`, process)
	if err != nil {
		return nil, fmt.Errorf("list rusage for %s: %w", process, err)
	}
	defer rows.Close()

	var out []RusageSample
	for rows.Next() {
		var s RusageSample
		if err := rows.Scan(&s.ProcessName, &s.HourSlot, &s.PID, &s.UserTime, &s.SystemTime, &s.MaxRSS, &s.Date, &s.Path); err != nil {
			return nil, fmt.Errorf("scan rusage row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetRusageDocument returns a single hour-slot's full serialized
// rusage record for process.
func (d *DB) GetRusageDocument(ctx context.Context, process string, hourSlot int) (RawDocument, error) {
	var doc RawDocument
	err := d.conn.QueryRowContext(ctx, `
		SELECT document FROM rusage_samples WHERE process_name = ? AND hour_slot = ?
	`, process, hourSlot).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rusage document %s/%d: %w", process, hourSlot, err)
	}
	return doc, nil
}
