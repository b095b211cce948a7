// internal/scaffold/scaffold.go
package scaffold

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"groundwork/internal/interfaces"
)

// AppsDir is where app units live relative to the project root.
const AppsDir = "apps"

// registryFile lists the registered apps inside AppsDir.
const registryFile = "apps.json"

// manifestFile describes one app unit inside its directory.
const manifestFile = "app.json"

// Manifest is the per-app descriptor. Entities feed the content-type stale
// check; DependsOn blocks removal of apps other apps still need.
type Manifest struct {
	Name      string   `json:"name"`
	Entities  []string `json:"entities,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

type registry struct {
	Apps []string `json:"apps"`
}

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// reservedNames cannot be used as app names; they collide with project
// directories or builtin apps.
var reservedNames = map[string]bool{
	"config":       true,
	"internal":     true,
	"main":         true,
	"migrations":   true,
	"apps":         true,
	"accounts":     true,
	"contenttypes": true,
	"schema":       true,
	"groundwork":   true,
}

// builtinEntities are declared by the core itself rather than a scaffolded
// app.
var builtinEntities = map[string][]string{
	"accounts":     {"user", "passwordresettoken"},
	"contenttypes": {"contenttype"},
}

// Project operates on one project root.
type Project struct {
	Root string
}

func NewProject(root string) *Project {
	return &Project{Root: root}
}

// Create scaffolds a new app unit and registers it.
func (p *Project) Create(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	reg, err := p.loadRegistry()
	if err != nil {
		return err
	}
	for _, existing := range reg.Apps {
		if existing == name {
			return &interfaces.ScaffoldConflictError{Name: name}
		}
	}

	dir := p.appDir(name)
	if _, err := os.Stat(dir); err == nil {
		return &interfaces.ScaffoldConflictError{Name: name}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create app directory: %w", err)
	}

	if err := writeSkeleton(dir, name); err != nil {
		// Leave no half-created app behind.
		os.RemoveAll(dir)
		return err
	}

	if err := p.writeManifest(name, &Manifest{Name: name}); err != nil {
		os.RemoveAll(dir)
		return err
	}

	reg.Apps = append(reg.Apps, name)
	sort.Strings(reg.Apps)
	if err := p.saveRegistry(reg); err != nil {
		os.RemoveAll(dir)
		return err
	}
	return nil
}

// Remove deletes an app unit and deregisters it. It fails when another
// registered app declares a dependency on it.
func (p *Project) Remove(name string) error {
	reg, err := p.loadRegistry()
	if err != nil {
		return err
	}
	if !contains(reg.Apps, name) {
		return fmt.Errorf("app %q is not registered", name)
	}

	var dependents []string
	for _, other := range reg.Apps {
		if other == name {
			continue
		}
		m, err := p.LoadManifest(other)
		if err != nil {
			return err
		}
		if contains(m.DependsOn, name) {
			dependents = append(dependents, other)
		}
	}
	if len(dependents) > 0 {
		return &interfaces.ScaffoldConflictError{Name: name, Dependents: dependents}
	}

	if err := os.RemoveAll(p.appDir(name)); err != nil {
		return fmt.Errorf("failed to remove app directory: %w", err)
	}

	reg.Apps = remove(reg.Apps, name)
	return p.saveRegistry(reg)
}

// Rename moves an app to a new name. If registration under the new name
// fails, the original name is restored.
func (p *Project) Rename(oldName, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}

	reg, err := p.loadRegistry()
	if err != nil {
		return err
	}
	if !contains(reg.Apps, oldName) {
		return fmt.Errorf("app %q is not registered", oldName)
	}
	if contains(reg.Apps, newName) {
		return &interfaces.ScaffoldConflictError{Name: newName}
	}
	if _, err := os.Stat(p.appDir(newName)); err == nil {
		return &interfaces.ScaffoldConflictError{Name: newName}
	}

	if err := os.Rename(p.appDir(oldName), p.appDir(newName)); err != nil {
		return fmt.Errorf("failed to move app directory: %w", err)
	}

	rollback := func() {
		_ = os.Rename(p.appDir(newName), p.appDir(oldName))
	}

	m, err := p.LoadManifest(newName)
	if err != nil {
		rollback()
		return err
	}
	m.Name = newName
	if err := p.writeManifest(newName, m); err != nil {
		rollback()
		return err
	}

	reg.Apps = remove(reg.Apps, oldName)
	reg.Apps = append(reg.Apps, newName)
	sort.Strings(reg.Apps)
	if err := p.saveRegistry(reg); err != nil {
		m.Name = oldName
		_ = p.writeManifest(newName, m)
		rollback()
		return err
	}

	// Dependency declarations in other apps follow the rename.
	for _, other := range reg.Apps {
		if other == newName {
			continue
		}
		om, err := p.LoadManifest(other)
		if err != nil {
			return err
		}
		if contains(om.DependsOn, oldName) {
			om.DependsOn = remove(om.DependsOn, oldName)
			om.DependsOn = append(om.DependsOn, newName)
			sort.Strings(om.DependsOn)
			if err := p.writeManifest(other, om); err != nil {
				return err
			}
		}
	}
	return nil
}

// Apps returns the registered app names.
func (p *Project) Apps() ([]string, error) {
	reg, err := p.loadRegistry()
	if err != nil {
		return nil, err
	}
	return reg.Apps, nil
}

// DeclaredEntities merges builtin entities with every registered app's
// manifest, keyed by app label.
func (p *Project) DeclaredEntities() (map[string][]string, error) {
	declared := make(map[string][]string, len(builtinEntities))
	for app, entities := range builtinEntities {
		declared[app] = append([]string(nil), entities...)
	}

	reg, err := p.loadRegistry()
	if err != nil {
		return nil, err
	}
	for _, app := range reg.Apps {
		m, err := p.LoadManifest(app)
		if err != nil {
			return nil, err
		}
		declared[app] = append(declared[app], m.Entities...)
	}
	return declared, nil
}

func (p *Project) LoadManifest(name string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(p.appDir(name), manifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest of %q: %w", name, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest of %q: %w", name, err)
	}
	return &m, nil
}

func (p *Project) writeManifest(name string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.appDir(name), manifestFile), append(data, '\n'), 0o644)
}

func (p *Project) appDir(name string) string {
	return filepath.Join(p.Root, AppsDir, name)
}

func (p *Project) loadRegistry() (*registry, error) {
	data, err := os.ReadFile(filepath.Join(p.Root, AppsDir, registryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &registry{}, nil
		}
		return nil, fmt.Errorf("failed to read app registry: %w", err)
	}
	var reg registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("invalid app registry: %w", err)
	}
	return &reg, nil
}

func (p *Project) saveRegistry(reg *registry) error {
	dir := filepath.Join(p.Root, AppsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, registryFile), append(data, '\n'), 0o644)
}

func validateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("invalid app name %q: must start with a letter and contain only lowercase letters, digits and underscores", name)
	}
	if reservedNames[name] {
		return fmt.Errorf("%q is a reserved name, choose a different one", name)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
