package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Indexer scans the worker's persisted run-snapshot ring
// (<dataPath>/<slot>.json) and the bus endpoint's rusage ring
// (<dataPath>/rusage/<process>-<hour>.json) and reflects them into
// the dashboard's sqlite tables, so the HTTP API in internal/web can
// answer queries without touching the filesystem on every request.
// Grounded on the teacher's db.Connect/db.DB plumbing, generalized
// from "accept pushed HTTP results" to "pull from files the daemon
// already writes", since sitterd has no watcher-push concept.
type Indexer struct {
	db       *DB
	dataPath string
	log      *slog.Logger
}

// NewIndexer creates an Indexer reading the ring files under dataPath.
func NewIndexer(database *DB, dataPath string, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{db: database, dataPath: dataPath, log: log}
}

// runDocument is the subset of Result Document fields the indexer
// needs; it tolerates any additional per-probe keys the document
// carries, since those are only served back verbatim, never queried.
type runDocument struct {
	RunID            string `json:"run_id"`
	StartDate        int64  `json:"start_date"`
	EndDate          int64  `json:"end_date"`
	ErrorCount       int    `json:"error_count"`
	MaxErrorPriority int    `json:"max_error_priority"`
}

// IndexOnce performs a single pass over both rings, upserting every
// file it can parse, whether or not it changed since the last pass.
// It is safe to call repeatedly; each pass rewrites the rows it finds.
func (ix *Indexer) IndexOnce(ctx context.Context) error {
	if err := ix.indexRuns(ctx); err != nil {
		return fmt.Errorf("index runs: %w", err)
	}
	if err := ix.indexRusage(ctx); err != nil {
		return fmt.Errorf("index rusage: %w", err)
	}
	return nil
}

func (ix *Indexer) indexRuns(ctx context.Context) error {
	entries, err := os.ReadDir(ix.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := time.Now().Unix()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		slotStr := strings.TrimSuffix(name, ".json")
		slot, err := strconv.ParseInt(slotStr, 10, 64)
		if err != nil {
			continue // not one of our ring files
		}

		path := filepath.Join(ix.dataPath, name)
		data, err := os.ReadFile(path)
		if err != nil {
			ix.log.Warn("failed to read run snapshot", "path", path, "error", err)
			continue
		}

		var doc runDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			ix.log.Warn("failed to parse run snapshot", "path", path, "error", err)
			continue
		}
		if doc.RunID == "" {
			continue // pre-run_id snapshot from an older build; nothing to key on
		}

		_, err = ix.db.conn.ExecContext(ctx, `
			INSERT INTO runs (run_id, start_date, end_date, slot, error_count, max_error_priority, path, document, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				end_date = excluded.end_date,
				error_count = excluded.error_count,
				max_error_priority = excluded.max_error_priority,
				document = excluded.document,
				indexed_at = excluded.indexed_at
		`, doc.RunID, doc.StartDate, doc.EndDate, slot, doc.ErrorCount, doc.MaxErrorPriority, path, string(data), now)
		if err != nil {
			return fmt.Errorf("upsert run %s: %w", doc.RunID, err)
		}
	}
	return nil
}

func (ix *Indexer) indexRusage(ctx context.Context) error {
	dir := filepath.Join(ix.dataPath, "rusage")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := time.Now().Unix()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		process, hour, ok := splitRusageName(name)
		if !ok {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			ix.log.Warn("failed to read rusage sample", "path", path, "error", err)
			continue
		}

		var rec struct {
			PID        string `json:"pid"`
			UserTime   string `json:"user_time"`
			SystemTime string `json:"system_time"`
			MaxRSS     string `json:"maxrss"`
			Date       int64  `json:"date"`
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			ix.log.Warn("failed to parse rusage sample", "path", path, "error", err)
			continue
		}

		_, err = ix.db.conn.ExecContext(ctx, `
			INSERT INTO rusage_samples (process_name, hour_slot, pid, user_time, system_time, maxrss, date, path, document, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(process_name, hour_slot) DO UPDATE SET
				pid = excluded.pid,
				user_time = excluded.user_time,
				system_time = excluded.system_time,
				maxrss = excluded.maxrss,
				date = excluded.date,
				document = excluded.document,
				indexed_at = excluded.indexed_at
		`, process, hour, rec.PID, rec.UserTime, rec.SystemTime, rec.MaxRSS, rec.Date, path, string(data), now)
		if err != nil {
			return fmt.Errorf("upsert rusage %s/%d: %w", process, hour, err)
		}
	}
	return nil
}

// splitRusageName parses "<process>-<hour>.json" into its process
// name and hour-of-day slot. Process names may themselves contain
// hyphens, so it splits on the last one.
func splitRusageName(name string) (process string, hour int, ok bool) {
	base := strings.TrimSuffix(name, ".json")
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return "", 0, false
	}
	process = base[:idx]
	h, err := strconv.Atoi(base[idx+1:])
	if err != nil || process == "" {
		return "", 0, false
	}
	return process, h, true
}

// Run indexes the rings once immediately, then every interval until
// ctx is cancelled, logging (but not aborting on) per-pass errors.
func (ix *Indexer) Run(ctx context.Context, interval time.Duration) {
	if err := ix.IndexOnce(ctx); err != nil {
		ix.log.Warn("initial index pass failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ix.IndexOnce(ctx); err != nil {
				ix.log.Warn("index pass failed", "error", err)
			}
		}
	}
}
