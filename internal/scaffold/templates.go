// internal/scaffold/templates.go
package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

var routesTemplate = template.Must(template.New("routes").Parse(`package {{.Name}}

import (
	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router) {
	r.Route("/{{.Name}}", func(r chi.Router) {
		r.Get("/test", TestHandler)
	})
}
`))

var handlersTemplate = template.Must(template.New("handlers").Parse(`package {{.Name}}

import (
	"encoding/json"
	"net/http"
)

func TestHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"app":     "{{.Name}}",
		"status":  "ok",
		"message": "This is a test endpoint for the {{.Name}} app.",
	})
}
`))

var docTemplate = template.Must(template.New("doc").Parse(`// Package {{.Name}} is a scaffolded app unit. Register its routes from the
// API router and declare its entities in app.json.
package {{.Name}}
`))

func writeSkeleton(dir, name string) error {
	files := map[string]*template.Template{
		"routes.go":   routesTemplate,
		"handlers.go": handlersTemplate,
		"doc.go":      docTemplate,
	}

	for filename, tmpl := range files {
		f, err := os.Create(filepath.Join(dir, filename))
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", filename, err)
		}
		err = tmpl.Execute(f, struct{ Name string }{Name: name})
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", filename, err)
		}
	}
	return nil
}
