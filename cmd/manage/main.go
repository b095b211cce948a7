// cmd/manage/main.go
package main

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"groundwork/internal/config"
	"groundwork/internal/db"
)

// rootCmd is the management entry point. Subcommands mirror the operational
// surface of the project: app scaffolding, migration repair and database
// clearing.
var rootCmd = &cobra.Command{
	Use:   "manage",
	Short: "Management commands for the groundwork project",
	Long: `Operational commands for the groundwork backend.

Available commands:
  createapp      - Scaffold a new app unit
  removeapp      - Remove an app unit
  renameapp      - Rename an app unit
  fixmigrations  - Inspect and repair migration bookkeeping
  clear_database - Drop or truncate all tables`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(createAppCmd, removeAppCmd, renameAppCmd, fixMigrationsCmd, clearDatabaseCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openDatabase connects using the standard configuration.
func openDatabase() (*sql.DB, *config.Config, error) {
	cfg := config.Load()
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	return database.DB, cfg, nil
}

// confirm asks on stdin unless force is set. expected is matched
// case-insensitively ("y" or "yes").
func confirm(prompt string, expected string, force bool) bool {
	if force {
		return true
	}
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(answer), expected)
}
