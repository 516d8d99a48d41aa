package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ucsal/oraculo-anonimo/internal/handler/intake"
	"github.com/ucsal/oraculo-anonimo/internal/logger"
	middlewarePkg "github.com/ucsal/oraculo-anonimo/internal/middleware"
	"github.com/ucsal/oraculo-anonimo/pkg/utils"
)

// NewRouter wires HTTP routes to the intake state machine.
func NewRouter(conversations intake.Conversations, log logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	intakeHandler := intake.New(conversations, log)

	r.Route("/api", func(api chi.Router) {
		intakeHandler.RegisterRoutes(api)
	})

	return r
}
