package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/middleware"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/rbac"
)

// RegisterPublic регистрирует endpoints без аутентификации.
func (h *APIHandler) RegisterPublic(r chi.Router) {
	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Get("/metrics", h.GetMetrics)
}

// RegisterAPI регистрирует /api/v1. Роутер должен быть уже обёрнут
// JWT middleware: обработчики ожидают model.Actor в контексте.
// Права на операции проверяет сервисный слой, здесь - только
// администрирование ролей.
func (h *APIHandler) RegisterAPI(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/me", h.GetMe)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Post("/", h.CreateProject)
			r.Get("/{id}", h.GetProject)
			r.Put("/{id}", h.UpdateProject)
		})

		r.Route("/processes", func(r chi.Router) {
			r.Get("/", h.ListProcesses)
			r.Post("/", h.CreateProcess)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetProcess)
				r.Put("/", h.UpdateProcess)
				r.Delete("/", h.DeleteProcess)
				r.Patch("/status", h.UpdateProcessStatus)
				r.Get("/events", h.ListProcessEvents)
				r.Get("/availability", h.GetAvailability)
				r.Get("/automation", h.GetAutomation)
				r.Put("/automation", h.ConfigureAutomation)
				r.Post("/automation/entries", h.RecordAutomationEntry)
			})
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.CreateRequest)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRequest)
				r.Get("/history", h.GetRequestHistory)
				r.Post("/approve", h.AssignRequest)
				r.Post("/withdraw", h.WithdrawRequest)
				r.Post("/start", h.StartRequest)
				r.Post("/complete", h.CompleteRequest)
				r.Post("/submit", h.SubmitRequest)
				r.Post("/review", h.ReviewRequest)
				r.Post("/reassign", h.ReassignRequest)
				r.Post("/requeue", h.RequeueRequest)
			})
		})

		r.Route("/role-overrides", func(r chi.Router) {
			r.Use(middleware.RequireRole(rbac.RoleAdmin))
			r.Get("/", h.ListRoleOverrides)
			r.Put("/{user_id}", h.SetRoleOverride)
			r.Delete("/{user_id}", h.DeleteRoleOverride)
		})
	})
}
