package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/status", s.handleSetDeviceStatus)
				r.Get("/history", s.handleGetDeviceHistory)
			})
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Post("/toggle", s.handleToggleRule)
				r.Get("/runs", s.handleListRuns)
			})
		})

		r.Route("/routines", func(r chi.Router) {
			r.Get("/", s.handleListRoutines)
			r.Post("/", s.handleCreateRoutine)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRoutine)
				r.Put("/", s.handleUpdateRoutine)
				r.Delete("/", s.handleDeleteRoutine)
				r.Post("/toggle", s.handleToggleRoutine)
				r.Post("/run", s.handleRunRoutine)
				r.Get("/runs", s.handleListRuns)
			})
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", s.handleListScenarios)
			r.Post("/", s.handleCreateScenario)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetScenario)
				r.Put("/", s.handleUpdateScenario)
				r.Delete("/", s.handleDeleteScenario)
				r.Post("/execute", s.handleExecuteScenario)
				r.Get("/runs", s.handleListRuns)
			})
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Get("/{id}", s.handleGetAlert)
			r.Post("/{id}/acknowledge", s.handleAcknowledgeAlert)
		})

		r.Route("/suggestions", func(r chi.Router) {
			r.Get("/", s.handleListSuggestions)
			r.Post("/", s.handleRequestSuggestions)
			r.Get("/{id}", s.handleGetSuggestion)
			r.Post("/{id}/accept", s.handleAcceptSuggestion)
			r.Delete("/{id}", s.handleRejectSuggestion)
		})

		r.Route("/triggers", func(r chi.Router) {
			r.Post("/location", s.handleLocationTrigger)
			r.Post("/voice", s.handleVoiceTrigger)
		})

		r.Get("/audit", s.handleListAudit)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
