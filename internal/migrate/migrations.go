// Package migrate brings the workspace database up to the newest embedded
// schema script.
package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var scriptsFS embed.FS

type script struct {
	version int
	name    string
	body    string
}

// scripts returns the embedded schema scripts ordered by version. File names
// are NNN_description.sql; the numeric prefix is the version.
func scripts() ([]script, error) {
	entries, err := scriptsFS.ReadDir("sql")
	if err != nil {
		return nil, err
	}
	seen := make(map[int]string, len(entries))
	out := make([]script, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("schema script %s: name must be NNN_description.sql", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("schema script %s: %w", name, err)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("schema scripts %s and %s share version %d", prev, name, version)
		}
		seen[version] = name
		body, err := scriptsFS.ReadFile("sql/" + name)
		if err != nil {
			return nil, err
		}
		out = append(out, script{version: version, name: name, body: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Migrate applies every script newer than the recorded schema version. Each
// script runs in its own transaction together with the version bump, so a
// failure leaves the database at the last fully applied script.
func Migrate(conn *sql.DB) error {
	all, err := scripts()
	if err != nil {
		return err
	}
	applied, err := currentVersion(conn)
	if err != nil {
		return err
	}
	for _, sc := range all {
		if sc.version <= applied {
			continue
		}
		if err := apply(conn, sc); err != nil {
			return err
		}
		applied = sc.version
	}
	return nil
}

func currentVersion(conn *sql.DB) (int, error) {
	if _, err := conn.Exec(
		`CREATE TABLE IF NOT EXISTS schema_version (id INTEGER PRIMARY KEY CHECK (id = 1), version INTEGER NOT NULL)`,
	); err != nil {
		return 0, fmt.Errorf("schema_version table: %w", err)
	}
	var v int
	err := conn.QueryRow(`SELECT version FROM schema_version WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func apply(conn *sql.DB, sc script) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(sc.body); err != nil {
		return fmt.Errorf("apply %s: %w", sc.name, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_version (id, version) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version`,
		sc.version,
	); err != nil {
		return fmt.Errorf("record version %d: %w", sc.version, err)
	}
	return tx.Commit()
}
