package routes

import (
	"database/sql"

	"github.com/go-chi/chi/v5"

	"groundwork/internal/config"
	"groundwork/internal/handlers"
	"groundwork/internal/middleware"
	"groundwork/internal/repository"
)

func RegisterUserRoutes(router chi.Router, db *sql.DB, cfg *config.Config) {
	userHandler := handlers.NewUserHandler(repository.NewUserRepository(db))

	router.Route("/users", func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.JWTSecret))

		r.Get("/", userHandler.ListUsers)
		r.Get("/{id}", userHandler.GetUser)
		r.Patch("/{id}", userHandler.UpdateUser)
		r.Delete("/{id}", userHandler.DeleteUser)
		r.Post("/{id}/password", userHandler.ChangePassword)
	})
}
