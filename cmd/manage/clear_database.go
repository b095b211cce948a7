// cmd/manage/clear_database.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"groundwork/internal/config"
	"groundwork/internal/db"
	"groundwork/internal/services"
)

var (
	clearForce              bool
	clearPreserveMigrations bool
	clearTruncate           bool
	clearSkipSnapshot       bool
)

var clearDatabaseCmd = &cobra.Command{
	Use:   "clear_database",
	Short: "Drop or truncate all tables (WARNING: destructive)",
	Long: `Remove every table from the database. With --truncate, tables are
emptied instead of dropped. A snapshot of the migration bookkeeping is
uploaded to the configured S3 bucket first, unless --skip-snapshot is set.`,
	RunE: runClearDatabase,
}

func init() {
	clearDatabaseCmd.Flags().BoolVar(&clearForce, "force", false, "Clear without confirmation")
	clearDatabaseCmd.Flags().BoolVar(&clearPreserveMigrations, "preserve-migrations", false, "Keep the schema_migrations table")
	clearDatabaseCmd.Flags().BoolVar(&clearTruncate, "truncate", false, "Truncate tables instead of dropping them")
	clearDatabaseCmd.Flags().BoolVar(&clearSkipSnapshot, "skip-snapshot", false, "Do not upload a bookkeeping snapshot first")
}

func runClearDatabase(cmd *cobra.Command, args []string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	tables, err := db.ListTables(cmd.Context(), database)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		fmt.Println("No tables found in the database.")
		return nil
	}

	action := "DELETE"
	if clearTruncate {
		action = "TRUNCATE"
	}
	warning := fmt.Sprintf(
		"You are about to PERMANENTLY %s %d tables from your database!\n"+
			"This operation cannot be undone and will result in complete data loss.\n"+
			"Are you ABSOLUTELY sure you want to proceed? Type 'yes' to confirm: ",
		action, len(tables),
	)
	if !confirm(warning, "yes", clearForce) {
		fmt.Println("Database clearing cancelled.")
		return nil
	}

	if !clearSkipSnapshot {
		s3cfg, err := config.NewS3Config(cmd.Context())
		if err != nil {
			return fmt.Errorf("snapshot configuration failed: %w", err)
		}
		key, err := services.NewSnapshotter(s3cfg).Snapshot(cmd.Context(), database)
		if err != nil {
			return fmt.Errorf("snapshot upload failed: %w", err)
		}
		if key != "" {
			fmt.Printf("Uploaded bookkeeping snapshot: %s\n", key)
		}
	}

	cleared, err := db.ClearTables(cmd.Context(), database, tables, db.ClearOptions{
		PreserveMigrations: clearPreserveMigrations,
		Truncate:           clearTruncate,
	})
	for _, table := range cleared {
		fmt.Printf("Cleared table %q\n", table)
	}
	if err != nil {
		return err
	}

	verb := "dropped"
	if clearTruncate {
		verb = "truncated"
	}
	fmt.Printf("Successfully %s %d tables.\n", verb, len(cleared))
	return nil
}
