package interfaces

import (
	"fmt"
	"strings"
)

// ScaffoldConflictError blocks an app scaffold mutation: either the name is
// already taken, or other registered apps still depend on the app.
type ScaffoldConflictError struct {
	Name       string
	Dependents []string
}

func (e *ScaffoldConflictError) Error() string {
	if len(e.Dependents) > 0 {
		return fmt.Sprintf("app %q cannot be removed: required by %s", e.Name, strings.Join(e.Dependents, ", "))
	}
	return fmt.Sprintf("app %q already exists", e.Name)
}
