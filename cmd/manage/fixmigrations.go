// cmd/manage/fixmigrations.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"groundwork/internal/db/migrations"
	"groundwork/internal/scaffold"
)

var (
	fixDryRun          bool
	fixForce           bool
	fixFakeInitial     bool
	fixContentTypes    bool
	fixMigrationsDir   string
	fixProjectRootFlag string
)

var fixMigrationsCmd = &cobra.Command{
	Use:   "fixmigrations",
	Short: "Inspect and repair migration bookkeeping",
	Long: `Scan the declared migration graph against the recorded applied set
and repair inconsistencies: out-of-order dependencies, ghost records,
unrecorded migrations and (optionally) stale content types.

--dry-run prints the plan and performs zero writes. Repair never touches
application data, only migration bookkeeping and orphaned type metadata.`,
	RunE: runFixMigrations,
}

func init() {
	fixMigrationsCmd.Flags().BoolVar(&fixDryRun, "dry-run", false, "Show what would be done without making changes")
	fixMigrationsCmd.Flags().BoolVar(&fixForce, "force", false, "Fix without confirmation")
	fixMigrationsCmd.Flags().BoolVar(&fixFakeInitial, "fake-initial", false, "Record missing migrations whose schema already exists without re-running them")
	fixMigrationsCmd.Flags().BoolVar(&fixContentTypes, "fix-contenttypes", false, "Remove stale content types")
	fixMigrationsCmd.Flags().StringVar(&fixMigrationsDir, "migrations-dir", migrations.DefaultDir, "Directory holding per-app migration files")
	fixMigrationsCmd.Flags().StringVar(&fixProjectRootFlag, "root", ".", "Project root containing the apps directory")
}

func runFixMigrations(cmd *cobra.Command, args []string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	declared, err := scaffold.NewProject(fixProjectRootFlag).DeclaredEntities()
	if err != nil {
		return err
	}

	repairer := migrations.NewRepairer(database, fixMigrationsDir, declared)

	fmt.Println("Scanning for migration issues...")
	diff, err := repairer.Inspect(cmd.Context(), migrations.InspectOptions{ContentTypes: fixContentTypes})
	if err != nil {
		return err
	}

	if diff.Empty() {
		fmt.Println("No migration issues found!")
		return nil
	}

	printDiff(diff)

	if fixDryRun {
		fmt.Println("\nDry run - no changes will be made.")
		fmt.Println("Run without --dry-run to fix these issues.")
		return nil
	}

	warning := "\nFixing migration issues modifies the migration bookkeeping. " +
		"MAKE A BACKUP FIRST!\nAre you sure you want to proceed? [y/N]: "
	if !confirm(warning, "y", fixForce) {
		fmt.Println("Migration fix cancelled.")
		return nil
	}

	fmt.Println("\nFixing migration issues...")
	result, err := repairer.Apply(cmd.Context(), diff, migrations.ApplyOptions{
		FakeInitial:     fixFakeInitial,
		FixContentTypes: fixContentTypes,
	})
	printResult(result)
	if err != nil {
		return fmt.Errorf("repair stopped: %w", err)
	}

	fmt.Println("\nMigration issues have been fixed!")
	return nil
}

func printDiff(diff *migrations.Diff) {
	if len(diff.Inconsistencies) > 0 {
		fmt.Println("\nFound migration inconsistencies:")
		for _, inc := range diff.Inconsistencies {
			fmt.Printf("  - Migration %s is applied before its dependency %s\n", inc.Applied, inc.Dependency)
		}
	}

	if len(diff.Ghosts) > 0 {
		fmt.Println("\nFound ghost migrations (in DB but files missing):")
		for _, g := range diff.Ghosts {
			fmt.Printf("  - %s\n", g.Key())
		}
	}

	if len(diff.Missing) > 0 {
		fmt.Println("\nFound missing migrations (files exist but not in DB):")
		for _, m := range diff.Missing {
			if m.SafeToFake {
				fmt.Printf("  - %s (safe to fake-apply)\n", m.Key())
			} else {
				fmt.Printf("  - %s (must run)\n", m.Key())
			}
		}
	}

	if len(diff.StaleContentTypes) > 0 {
		fmt.Println("\nFound stale content types:")
		for _, ct := range diff.StaleContentTypes {
			fmt.Printf("  - %s.%s (id: %d)\n", ct.AppLabel, ct.Model, ct.ID)
		}
	}
}

func printResult(result *migrations.Result) {
	if result == nil {
		return
	}
	for _, fixed := range result.Fixed {
		fmt.Printf("  - %s\n", fixed)
	}
	for _, skipped := range result.SkippedContentTypes {
		fmt.Printf("  - skipped content type %s\n", skipped)
	}
}
