// cmd/manage/apps.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"groundwork/internal/scaffold"
)

var appsProjectRoot string

var createAppCmd = &cobra.Command{
	Use:   "createapp <name>",
	Short: "Scaffold a new app unit",
	Long: `Create a new app unit under apps/<name> with route and handler
skeletons, and register it in apps/apps.json.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		project := scaffold.NewProject(appsProjectRoot)
		if err := project.Create(name); err != nil {
			return err
		}
		fmt.Printf("App %q created successfully in %s/%s/\n", name, scaffold.AppsDir, name)
		fmt.Printf("Test endpoint scaffolded at /%s/test\n", name)
		return nil
	},
}

var removeAppForce bool

var removeAppCmd = &cobra.Command{
	Use:   "removeapp <name>",
	Short: "Remove an app unit",
	Long: `Delete an app unit's files and deregister it. Fails when another
registered app declares a dependency on it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !confirm(fmt.Sprintf("Remove app %q and all of its files? [y/N]: ", name), "y", removeAppForce) {
			fmt.Println("App removal cancelled.")
			return nil
		}

		project := scaffold.NewProject(appsProjectRoot)
		if err := project.Remove(name); err != nil {
			return err
		}
		fmt.Printf("App %q removed.\n", name)
		return nil
	},
}

var renameAppCmd = &cobra.Command{
	Use:   "renameapp <old> <new>",
	Short: "Rename an app unit",
	Long: `Rename an app unit and its registration. Migration bookkeeping rows
for the app are relabelled when the database is reachable.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		oldName, newName := args[0], args[1]

		project := scaffold.NewProject(appsProjectRoot)
		if err := project.Rename(oldName, newName); err != nil {
			return err
		}
		fmt.Printf("App %q renamed to %q.\n", oldName, newName)

		// Relabel migration records so history follows the app.
		database, _, err := openDatabase()
		if err != nil {
			fmt.Printf("Warning: could not relabel migration records: %v\n", err)
			return nil
		}
		defer database.Close()

		res, err := database.ExecContext(cmd.Context(),
			"UPDATE schema_migrations SET app = $1 WHERE app = $2", newName, oldName)
		if err != nil {
			fmt.Printf("Warning: could not relabel migration records: %v\n", err)
			return nil
		}
		if n, err := res.RowsAffected(); err == nil {
			fmt.Printf("Updated %d migration records in database.\n", n)
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{createAppCmd, removeAppCmd, renameAppCmd} {
		cmd.Flags().StringVar(&appsProjectRoot, "root", ".", "Project root containing the apps directory")
	}
	removeAppCmd.Flags().BoolVar(&removeAppForce, "force", false, "Remove without confirmation")
}
