// internal/db/migrations/repair.go
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"groundwork/internal/models"
	"groundwork/internal/repository"
)

// StateError reports a migration-state problem that cannot be auto-resolved,
// including an apply plan invalidated by concurrent schema changes. The
// requested mutation is aborted and prior state left untouched.
type StateError struct {
	Item   string
	Reason string
}

func (e *StateError) Error() string {
	if e.Item == "" {
		return "migration state error: " + e.Reason
	}
	return fmt.Sprintf("migration state error on %s: %s", e.Item, e.Reason)
}

// Inconsistency is a recorded migration whose declared dependency has no
// record of its own. DependencyName is the name from the dependency's file.
type Inconsistency struct {
	Applied        Key
	Dependency     Key
	DependencyName string
}

// MissingMigration is a declared migration with no record. SafeToFake means
// every table its SQL creates already exists in the live schema, so the
// record can be written without re-executing the operations.
type MissingMigration struct {
	Migration
	SafeToFake bool
}

// Diff is the classified difference between the declared migration graph and
// the recorded applied set.
type Diff struct {
	Inconsistencies   []Inconsistency
	Ghosts            []Record
	Missing           []MissingMigration
	StaleContentTypes []models.ContentType

	// CheckedContentTypes records whether content types were part of the
	// inspection, so Apply re-validates with the same scope.
	CheckedContentTypes bool
}

func (d *Diff) Empty() bool {
	return len(d.Inconsistencies) == 0 && len(d.Ghosts) == 0 &&
		len(d.Missing) == 0 && len(d.StaleContentTypes) == 0
}

// fingerprint summarizes the plan for the stale-plan check in Apply. Applied
// timestamps are deliberately excluded.
func (d *Diff) fingerprint() string {
	var lines []string
	for _, inc := range d.Inconsistencies {
		lines = append(lines, fmt.Sprintf("inconsistency %s->%s", inc.Applied, inc.Dependency))
	}
	for _, g := range d.Ghosts {
		lines = append(lines, fmt.Sprintf("ghost %s", g.Key()))
	}
	for _, m := range d.Missing {
		lines = append(lines, fmt.Sprintf("missing %s fake=%t", m.Key(), m.SafeToFake))
	}
	for _, ct := range d.StaleContentTypes {
		lines = append(lines, fmt.Sprintf("stale-ct %d %s.%s", ct.ID, ct.AppLabel, ct.Model))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// InspectOptions scopes an inspection.
type InspectOptions struct {
	// ContentTypes includes stale content-type detection.
	ContentTypes bool
}

// ApplyOptions controls how Apply repairs a diff.
type ApplyOptions struct {
	// FakeInitial records safe-to-fake missing migrations without
	// re-executing their operations.
	FakeInitial bool
	// FixContentTypes removes stale, unreferenced content types.
	FixContentTypes bool
}

// Result lists the corrections that succeeded, in order. When Apply fails
// partway it still returns everything completed before the failure.
type Result struct {
	Fixed []string
	// SkippedContentTypes are stale rows left in place because foreign-key
	// rows still reference them.
	SkippedContentTypes []string
}

// Repairer inspects and repairs the migration bookkeeping of one database.
type Repairer struct {
	db       *sql.DB
	dir      string
	cts      repository.ContentTypeRepository
	declared map[string]map[string]bool
}

// NewRepairer builds a Repairer. declared maps app label to the entity names
// the app currently declares; content types outside it are stale.
func NewRepairer(db *sql.DB, dir string, declared map[string][]string) *Repairer {
	idx := make(map[string]map[string]bool, len(declared))
	for app, entities := range declared {
		idx[app] = make(map[string]bool, len(entities))
		for _, e := range entities {
			idx[app][strings.ToLower(e)] = true
		}
	}
	return &Repairer{
		db:       db,
		dir:      dir,
		cts:      repository.NewContentTypeRepository(db),
		declared: idx,
	}
}

// Inspect classifies the diff between declared and recorded migrations. It
// is read-only and idempotent: repeated calls without an intervening Apply
// return an identical diff.
func (r *Repairer) Inspect(ctx context.Context, opts InspectOptions) (*Diff, error) {
	files, err := LoadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load migration files: %w", err)
	}
	byKey := make(map[Key]Migration, len(files))
	for _, m := range files {
		byKey[m.Key()] = m
	}

	applied, err := r.appliedRecords(ctx)
	if err != nil {
		return nil, err
	}

	diff := &Diff{CheckedContentTypes: opts.ContentTypes}

	// Dependencies recorded out of order, and records with no file.
	for _, rec := range sortedRecords(applied) {
		m, ok := byKey[rec.Key()]
		if !ok {
			diff.Ghosts = append(diff.Ghosts, rec)
			continue
		}
		for _, dep := range dependenciesOf(m, byKey) {
			if _, ok := applied[dep]; !ok {
				diff.Inconsistencies = append(diff.Inconsistencies, Inconsistency{
					Applied:        rec.Key(),
					Dependency:     dep,
					DependencyName: byKey[dep].Name,
				})
			}
		}
	}

	// Declared but not recorded.
	for _, m := range files {
		if _, ok := applied[m.Key()]; ok {
			continue
		}
		safe, err := r.schemaAlreadyReflects(ctx, m)
		if err != nil {
			return nil, err
		}
		diff.Missing = append(diff.Missing, MissingMigration{Migration: m, SafeToFake: safe})
	}

	if opts.ContentTypes {
		stale, err := r.staleContentTypes(ctx)
		if err != nil {
			return nil, err
		}
		diff.StaleContentTypes = stale
	}

	return diff, nil
}

// Apply repairs the diff. It re-inspects first and fails closed when the
// state no longer matches the plan. Corrections stop at the first failure;
// the returned Result names everything that succeeded before it. Only
// schema_migrations and content_types rows are ever deleted.
func (r *Repairer) Apply(ctx context.Context, diff *Diff, opts ApplyOptions) (*Result, error) {
	fresh, err := r.Inspect(ctx, InspectOptions{ContentTypes: diff.CheckedContentTypes})
	if err != nil {
		return nil, err
	}
	if fresh.fingerprint() != diff.fingerprint() {
		return nil, &StateError{Reason: "migration state changed since inspection, re-run inspect"}
	}

	result := &Result{}

	if err := r.fixInconsistencies(ctx, diff.Inconsistencies, result); err != nil {
		return result, err
	}
	if err := r.fixGhosts(ctx, diff.Ghosts, result); err != nil {
		return result, err
	}
	if err := r.fixMissing(ctx, diff.Missing, opts.FakeInitial, result); err != nil {
		return result, err
	}
	if opts.FixContentTypes {
		if err := r.fixStaleContentTypes(ctx, diff.StaleContentTypes, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (r *Repairer) appliedRecords(ctx context.Context) (map[Key]Record, error) {
	// Absence of the bookkeeping table means an empty applied set; Inspect
	// must not create it.
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'schema_migrations'
		)
	`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check migrations table: %w", err)
	}
	if !exists {
		return map[Key]Record{}, nil
	}

	rows, err := r.db.QueryContext(ctx, "SELECT app, version, name, applied_at FROM schema_migrations ORDER BY app, version")
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

func sortedRecords(applied map[Key]Record) []Record {
	recs := make([]Record, 0, len(applied))
	for _, rec := range applied {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].App != recs[j].App {
			return recs[i].App < recs[j].App
		}
		return recs[i].Version < recs[j].Version
	})
	return recs
}

// dependenciesOf returns the implicit previous-version dependency plus any
// declared cross-app dependencies that exist on disk.
func dependenciesOf(m Migration, byKey map[Key]Migration) []Key {
	var deps []Key
	for v := m.Version - 1; v >= 1; v-- {
		prev := Key{App: m.App, Version: v}
		if _, ok := byKey[prev]; ok {
			deps = append(deps, prev)
			break
		}
	}
	for _, dep := range m.DependsOn {
		if _, ok := byKey[dep]; ok {
			deps = append(deps, dep)
		}
	}
	return deps
}

var createTableRe = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?"?([a-zA-Z_][a-zA-Z0-9_]*)"?`)

// schemaAlreadyReflects reports whether every table the migration creates is
// already present, i.e. the record can be faked without re-running the SQL.
// Migrations that create no tables are never safe to fake.
func (r *Repairer) schemaAlreadyReflects(ctx context.Context, m Migration) (bool, error) {
	matches := createTableRe.FindAllStringSubmatch(m.Up, -1)
	if len(matches) == 0 {
		return false, nil
	}

	for _, match := range matches {
		var exists bool
		err := r.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)
		`, strings.ToLower(match[1])).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("failed to check table %s: %w", match[1], err)
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

func (r *Repairer) staleContentTypes(ctx context.Context) ([]models.ContentType, error) {
	all, err := r.cts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list content types: %w", err)
	}

	var stale []models.ContentType
	for _, ct := range all {
		if entities, ok := r.declared[ct.AppLabel]; ok && entities[strings.ToLower(ct.Model)] {
			continue
		}
		stale = append(stale, ct)
	}
	return stale, nil
}

// fixInconsistencies rewrites schema_migrations so every recorded migration
// follows its dependency, one transaction per missing dependency.
func (r *Repairer) fixInconsistencies(ctx context.Context, inconsistencies []Inconsistency, result *Result) error {
	dependents := make(map[Key][]Key)
	depNames := make(map[Key]string)
	var order []Key
	for _, inc := range inconsistencies {
		if _, ok := dependents[inc.Dependency]; !ok {
			order = append(order, inc.Dependency)
			depNames[inc.Dependency] = inc.DependencyName
		}
		dependents[inc.Dependency] = append(dependents[inc.Dependency], inc.Applied)
	}

	for _, dep := range order {
		if err := r.insertDependencyBefore(ctx, dep, depNames[dep], dependents[dep]); err != nil {
			return fmt.Errorf("failed to fix dependency %s: %w", dep, err)
		}
		result.Fixed = append(result.Fixed, fmt.Sprintf("recorded missing dependency %s", dep))
	}
	return nil
}

func (r *Repairer) insertDependencyBefore(ctx context.Context, dep Key, depName string, dependents []Key) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Re-insert the dependents after the dependency so applied_at order
	// matches dependency order again.
	names := make(map[Key]string, len(dependents))
	for _, d := range dependents {
		var name string
		err := tx.QueryRowContext(ctx,
			"DELETE FROM schema_migrations WHERE app = $1 AND version = $2 RETURNING name",
			d.App, d.Version,
		).Scan(&name)
		if err != nil {
			return err
		}
		names[d] = name
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (app, version, name) VALUES ($1, $2, $3) ON CONFLICT (app, version) DO NOTHING",
		dep.App, dep.Version, depName,
	); err != nil {
		return err
	}

	for _, d := range dependents {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (app, version, name) VALUES ($1, $2, $3)",
			d.App, d.Version, names[d],
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repairer) fixGhosts(ctx context.Context, ghosts []Record, result *Result) error {
	for _, g := range ghosts {
		_, err := r.db.ExecContext(ctx,
			"DELETE FROM schema_migrations WHERE app = $1 AND version = $2",
			g.App, g.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to remove ghost record %s: %w", g.Key(), err)
		}
		result.Fixed = append(result.Fixed, fmt.Sprintf("removed ghost record %s", g.Key()))
	}
	return nil
}

func (r *Repairer) fixMissing(ctx context.Context, missing []MissingMigration, fakeInitial bool, result *Result) error {
	if len(missing) == 0 {
		return nil
	}

	if err := createMigrationsTable(r.db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	byKey := make(map[Key]MissingMigration, len(missing))
	for _, m := range missing {
		byKey[m.Key()] = m
	}

	// Dependencies outside the missing set are already recorded; sorting
	// only needs the edges between the migrations being repaired.
	plain := make([]Migration, 0, len(missing))
	for _, m := range missing {
		mig := m.Migration
		var deps []Key
		for _, dep := range mig.DependsOn {
			if _, ok := byKey[dep]; ok {
				deps = append(deps, dep)
			}
		}
		mig.DependsOn = deps
		plain = append(plain, mig)
	}
	ordered, err := SortByDependency(plain)
	if err != nil {
		return err
	}

	for _, m := range ordered {
		mm := byKey[m.Key()]
		if fakeInitial && mm.SafeToFake {
			if _, err := r.db.ExecContext(ctx,
				"INSERT INTO schema_migrations (app, version, name) VALUES ($1, $2, $3) ON CONFLICT (app, version) DO NOTHING",
				m.App, m.Version, m.Name,
			); err != nil {
				return fmt.Errorf("failed to fake-apply %s: %w", m.Key(), err)
			}
			result.Fixed = append(result.Fixed, fmt.Sprintf("fake-applied %s", m.Key()))
			continue
		}

		if err := applyMigration(r.db, m); err != nil {
			return fmt.Errorf("failed to apply %s: %w", m.Key(), err)
		}
		result.Fixed = append(result.Fixed, fmt.Sprintf("applied %s", m.Key()))
	}
	return nil
}

func (r *Repairer) fixStaleContentTypes(ctx context.Context, stale []models.ContentType, result *Result) error {
	for _, ct := range stale {
		label := fmt.Sprintf("%s.%s (id: %d)", ct.AppLabel, ct.Model, ct.ID)

		refs, err := r.cts.CountReferences(ctx, ct.ID)
		if err != nil {
			return fmt.Errorf("failed to count references for content type %s: %w", label, err)
		}
		if refs > 0 {
			result.SkippedContentTypes = append(result.SkippedContentTypes,
				fmt.Sprintf("%s (%d referencing rows)", label, refs))
			continue
		}

		if err := r.cts.Delete(ctx, ct.ID); err != nil {
			return fmt.Errorf("failed to remove content type %s: %w", label, err)
		}
		result.Fixed = append(result.Fixed, fmt.Sprintf("removed stale content type %s", label))
	}
	return nil
}
