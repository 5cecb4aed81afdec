// projects.go - обработчики /api/v1/me и /api/v1/projects.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/dto"
	apierrors "github.com/mohanmorkel7/glow-den21-sub001/internal/api/errors"
)

// GetMe - GET /api/v1/me. Текущий пользователь и эффективная роль.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dto.FromActor(actor))
}

// ListProjects - GET /api/v1/projects.
func (h *APIHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	p, err := bindPage(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	limit, offset := paginationDefaults(p)

	items, total, err := h.svc.Projects.List(r.Context(), limit, offset)
	if err != nil {
		h.handleError(w, r, err, "Ошибка получения списка проектов")
		return
	}
	writeJSON(w, http.StatusOK, dto.NewList(dto.Map(items, dto.FromProject), total, limit, offset))
}

// CreateProject - POST /api/v1/projects. Доступ: project_manager+.
func (h *APIHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.CreateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.svc.Projects.Create(r.Context(), actor, req.Name, req.Description)
	if err != nil {
		h.handleError(w, r, err, "Ошибка создания проекта")
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromProject(p))
}

// GetProject - GET /api/v1/projects/{id}.
func (h *APIHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	p, err := h.svc.Projects.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err, "Ошибка получения проекта")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromProject(p))
}

// UpdateProject - PUT /api/v1/projects/{id}. Доступ: project_manager+.
func (h *APIHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.UpdateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.svc.Projects.Update(r.Context(), actor, chi.URLParam(r, "id"), req.Name, req.Description)
	if err != nil {
		h.handleError(w, r, err, "Ошибка обновления проекта")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromProject(p))
}
