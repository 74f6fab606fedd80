// Migrations applies the dashboard's small sqlite schema (runs,
// rusage_samples) using the same up/down-file, dirty-flag migration
// runner idiom the teacher's internal/db/migrations.go uses, adapted
// from "watchers/probe_configs/results" to the run-snapshot/rusage
// schema this dashboard actually indexes.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version int
	up      string
	down    string
}

func loadMigrations() ([]int, map[int]*migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("read migrations directory: %w", err)
	}

	byVersion := make(map[int]*migration)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		m := byVersion[version]
		if m == nil {
			m = &migration{version: version}
			byVersion[version] = m
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			m.up = string(content)
		case strings.HasSuffix(name, ".down.sql"):
			m.down = string(content)
		}
	}

	versions := make([]int, 0, len(byVersion))
	for v := range byVersion {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, byVersion, nil
}

func openForMigration(dbPath string) (*sql.DB, error) {
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
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, dirty INTEGER NOT NULL DEFAULT 0)`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create migrations table: %w", err)
	}
	return conn, nil
}

func currentVersion(conn *sql.DB) (int, error) {
	var version, dirty int
	if err := conn.QueryRow(`SELECT COALESCE(MAX(version), 0), COALESCE(MAX(dirty), 0) FROM schema_migrations`).Scan(&version, &dirty); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty != 0 {
		return 0, fmt.Errorf("database is in dirty state at version %d, manual intervention required", version)
	}
	return version, nil
}

// RunMigrations applies every migration newer than the schema's
// current version, in order, marking each dirty while it runs so a
// crash mid-migration is caught on the next start.
func RunMigrations(dbPath string) error {
	conn, err := openForMigration(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	current, err := currentVersion(conn)
	if err != nil {
		return err
	}
	versions, byVersion, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, v := range versions {
		if v <= current {
			continue
		}
		m := byVersion[v]
		if m.up == "" {
			return fmt.Errorf("no up migration for version %d", v)
		}
		if err := applyStep(conn, v, m.up); err != nil {
			return err
		}
	}
	return nil
}

// RollbackMigrations runs every applied migration's down script in
// reverse order, emptying the schema back to nothing.
func RollbackMigrations(dbPath string) error {
	conn, err := openForMigration(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	current, err := currentVersion(conn)
	if err != nil {
		return err
	}
	versions, byVersion, err := loadMigrations()
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	for _, v := range versions {
		if v > current {
			continue
		}
		m := byVersion[v]
		if m.down == "" {
			return fmt.Errorf("no down migration for version %d", v)
		}
		if err := revertStep(conn, v, m.down); err != nil {
			return err
		}
	}
	return nil
}

func applyStep(conn *sql.DB, version int, script string) error {
	if _, err := conn.Exec(`INSERT OR REPLACE INTO schema_migrations (version, dirty) VALUES (?, 1)`, version); err != nil {
		return fmt.Errorf("mark version %d dirty: %w", version, err)
	}
	if _, err := conn.Exec(script); err != nil {
		return fmt.Errorf("apply migration %d: %w", version, err)
	}
	if _, err := conn.Exec(`UPDATE schema_migrations SET dirty = 0 WHERE version = ?`, version); err != nil {
		return fmt.Errorf("mark version %d clean: %w", version, err)
	}
	return nil
}

func revertStep(conn *sql.DB, version int, script string) error {
	if _, err := conn.Exec(`UPDATE schema_migrations SET dirty = 1 WHERE version = ?`, version); err != nil {
		return fmt.Errorf("mark version %d dirty: %w", version, err)
	}
	if _, err := conn.Exec(script); err != nil {
		return fmt.Errorf("revert migration %d: %w", version, err)
	}
	if _, err := conn.Exec(`DELETE FROM schema_migrations WHERE version = ?`, version); err != nil {
		return fmt.Errorf("remove version %d record: %w", version, err)
	}
	return nil
}
