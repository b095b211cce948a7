package migrations

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigration(t *testing.T, dir, app, filename, content string) {
	t.Helper()
	appDir := filepath.Join(dir, app)
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(appDir, filename), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", filename, err)
	}
}

func TestLoadDirParsesAppsAndVersions(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "accounts", "0001_create_users.up.sql", "CREATE TABLE users (id TEXT);")
	writeMigration(t, dir, "accounts", "0002_create_tokens.up.sql", "CREATE TABLE tokens (id TEXT);")
	writeMigration(t, dir, "blog", "0001_create_posts.up.sql", "CREATE TABLE posts (id TEXT);")

	migrations, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	got := migrations[0]
	if got.App != "accounts" || got.Version != 1 || got.Name != "create_users" {
		t.Fatalf("unexpected first migration: %+v", got)
	}
	if migrations[2].App != "blog" {
		t.Fatalf("expected blog last, got %+v", migrations[2])
	}
}

func TestLoadDirMissingDirIsEmpty(t *testing.T) {
	migrations, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(migrations) != 0 {
		t.Fatalf("expected no migrations, got %d", len(migrations))
	}
}

func TestLoadDirRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "accounts", "nounderscore.up.sql", "SELECT 1;")

	if _, err := LoadDir(dir); err == nil {
		t.Fatal("expected error for invalid filename")
	}
}

func TestParseDependsHeader(t *testing.T) {
	sqlText := "-- migration notes\n-- depends: accounts:2\n-- depends: blog:1\nCREATE TABLE x (id TEXT);"
	deps, err := parseDependsHeader(sqlText)
	if err != nil {
		t.Fatalf("parseDependsHeader: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("expected 2 deps, got %d", len(deps))
	}
	if deps[0] != (Key{App: "accounts", Version: 2}) {
		t.Fatalf("unexpected dep: %+v", deps[0])
	}
	if deps[1] != (Key{App: "blog", Version: 1}) {
		t.Fatalf("unexpected dep: %+v", deps[1])
	}
}

func TestParseDependsHeaderStopsAtSQL(t *testing.T) {
	sqlText := "CREATE TABLE x (id TEXT);\n-- depends: accounts:1\n"
	deps, err := parseDependsHeader(sqlText)
	if err != nil {
		t.Fatalf("parseDependsHeader: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("expected no deps after SQL begins, got %d", len(deps))
	}
}

func TestSortByDependencyCrossApp(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "blog", "0001_create_posts.up.sql",
		"-- depends: accounts:2\nCREATE TABLE posts (id TEXT);")
	writeMigration(t, dir, "accounts", "0001_create_users.up.sql", "CREATE TABLE users (id TEXT);")
	writeMigration(t, dir, "accounts", "0002_create_tokens.up.sql", "CREATE TABLE tokens (id TEXT);")

	migrations, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	ordered, err := SortByDependency(migrations)
	if err != nil {
		t.Fatalf("SortByDependency: %v", err)
	}

	pos := make(map[Key]int, len(ordered))
	for i, m := range ordered {
		pos[m.Key()] = i
	}
	if pos[Key{"accounts", 2}] > pos[Key{"blog", 1}] {
		t.Fatalf("accounts.0002 must come before blog.0001, got order %v", pos)
	}
	if pos[Key{"accounts", 1}] > pos[Key{"accounts", 2}] {
		t.Fatalf("accounts.0001 must come before accounts.0002, got order %v", pos)
	}
}

func TestSortByDependencyUnknownDependency(t *testing.T) {
	ms := []Migration{{
		App: "blog", Version: 1, Name: "create_posts",
		DependsOn: []Key{{App: "gone", Version: 1}},
	}}
	if _, err := SortByDependency(ms); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestSortByDependencyCycle(t *testing.T) {
	ms := []Migration{
		{App: "a", Version: 1, Name: "one", DependsOn: []Key{{App: "b", Version: 1}}},
		{App: "b", Version: 1, Name: "one", DependsOn: []Key{{App: "a", Version: 1}}},
	}
	_, err := SortByDependency(ms)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var stateErr *StateError
	if !asStateError(err, &stateErr) {
		t.Fatalf("expected StateError, got %T: %v", err, err)
	}
}

func asStateError(err error, target **StateError) bool {
	se, ok := err.(*StateError)
	if ok {
		*target = se
	}
	return ok
}
