// internal/db/migrations/migrations.go
package migrations

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultDir is where app migration directories live relative to the
// project root: <dir>/<app>/NNNN_name.up.sql.
const DefaultDir = "migrations"

// Key identifies a schema-change unit of one app.
type Key struct {
	App     string
	Version int
}

func (k Key) String() string {
	return fmt.Sprintf("%s.%04d", k.App, k.Version)
}

type Migration struct {
	App     string
	Version int
	Name    string
	Up      string
	Down    string
	// DependsOn holds cross-app dependencies declared with
	// "-- depends: <app>:<version>" header lines. The previous version of
	// the same app is always an implicit dependency.
	DependsOn []Key
}

func (m Migration) Key() Key {
	return Key{App: m.App, Version: m.Version}
}

// Record is one row of the schema_migrations bookkeeping table.
type Record struct {
	App       string
	Version   int
	Name      string
	AppliedAt time.Time
}

func (r Record) Key() Key {
	return Key{App: r.App, Version: r.Version}
}

// RunMigrations applies every pending migration in dependency order, each
// inside its own transaction.
func RunMigrations(db *sql.DB, dir string) error {
	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	files, err := LoadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to load migration files: %w", err)
	}

	ordered, err := SortByDependency(files)
	if err != nil {
		return err
	}

	for _, m := range ordered {
		if _, exists := applied[m.Key()]; exists {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Key(), err)
		}
		log.Printf("Applied migration: %s (%s)", m.Key(), m.Name)
	}

	return nil
}

func createMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			app TEXT NOT NULL,
			version INTEGER NOT NULL,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (app, version)
		)
	`)
	return err
}

func appliedMigrations(db *sql.DB) (map[Key]Record, error) {
	rows, err := db.Query("SELECT app, version, name, applied_at FROM schema_migrations ORDER BY app, version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[Key]Record)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.App, &rec.Version, &rec.Name, &rec.AppliedAt); err != nil {
			return nil, err
		}
		applied[rec.Key()] = rec
	}
	return applied, rows.Err()
}

// LoadDir reads every app subdirectory of dir and returns its declared
// migrations sorted by (app, version).
func LoadDir(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		app := entry.Name()
		appMigrations, err := loadApp(dir, app)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, appMigrations...)
	}

	sort.Slice(migrations, func(i, j int) bool {
		if migrations[i].App != migrations[j].App {
			return migrations[i].App < migrations[j].App
		}
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func loadApp(dir, app string) ([]Migration, error) {
	files, err := filepath.Glob(filepath.Join(dir, app, "*.up.sql"))
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, file := range files {
		version, name, err := parseMigrationFilename(filepath.Base(file))
		if err != nil {
			return nil, err
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}

		downContent := []byte{}
		downFile := filepath.Join(dir, app, fmt.Sprintf("%04d_%s.down.sql", version, name))
		if _, err := os.Stat(downFile); err == nil {
			downContent, err = os.ReadFile(downFile)
			if err != nil {
				return nil, err
			}
		}

		depends, err := parseDependsHeader(string(content))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}

		migrations = append(migrations, Migration{
			App:       app,
			Version:   version,
			Name:      name,
			Up:        string(content),
			Down:      string(downContent),
			DependsOn: depends,
		})
	}

	return migrations, nil
}

func parseMigrationFilename(filename string) (int, string, error) {
	// Expected format: 0001_name.up.sql
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid migration filename format: %s", filename)
	}

	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("invalid version in filename %s: %w", filename, err)
	}

	name := strings.TrimSuffix(parts[1], ".up.sql")
	name = strings.TrimSuffix(name, ".down.sql")

	return version, name, nil
}

// parseDependsHeader extracts "-- depends: app:version" lines from the top
// comment block of a migration file.
func parseDependsHeader(sqlText string) ([]Key, error) {
	var deps []Key
	for _, line := range strings.Split(sqlText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, "--"))
		if !strings.HasPrefix(rest, "depends:") {
			continue
		}
		spec := strings.TrimSpace(strings.TrimPrefix(rest, "depends:"))
		app, verStr, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("invalid depends directive %q", spec)
		}
		version, err := strconv.Atoi(strings.TrimSpace(verStr))
		if err != nil {
			return nil, fmt.Errorf("invalid depends version %q", spec)
		}
		deps = append(deps, Key{App: strings.TrimSpace(app), Version: version})
	}
	return deps, nil
}

// SortByDependency orders migrations so every dependency comes before its
// dependents. Within an app, version order is the implicit dependency chain.
func SortByDependency(migrations []Migration) ([]Migration, error) {
	byKey := make(map[Key]Migration, len(migrations))
	for _, m := range migrations {
		byKey[m.Key()] = m
	}

	deps := make(map[Key][]Key, len(migrations))
	prev := make(map[string]Key)
	for _, m := range migrations { // already (app, version) sorted by LoadDir
		k := m.Key()
		var d []Key
		if p, ok := prev[m.App]; ok {
			d = append(d, p)
		}
		for _, dep := range m.DependsOn {
			if _, ok := byKey[dep]; !ok {
				return nil, &StateError{Item: k.String(), Reason: fmt.Sprintf("declared dependency %s does not exist", dep)}
			}
			d = append(d, dep)
		}
		deps[k] = d
		prev[m.App] = k
	}

	var ordered []Migration
	state := make(map[Key]int, len(migrations)) // 0 unvisited, 1 visiting, 2 done

	var visit func(k Key) error
	visit = func(k Key) error {
		switch state[k] {
		case 2:
			return nil
		case 1:
			return &StateError{Item: k.String(), Reason: "dependency cycle"}
		}
		state[k] = 1
		for _, dep := range deps[k] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[k] = 2
		ordered = append(ordered, byKey[k])
		return nil
	}

	for _, m := range migrations {
		if err := visit(m.Key()); err != nil {
			return nil, err
		}
	}

	return ordered, nil
}

func applyMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.Up); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (app, version, name) VALUES ($1, $2, $3) ON CONFLICT (app, version) DO NOTHING",
		migration.App,
		migration.Version,
		migration.Name,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
