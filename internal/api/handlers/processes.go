// processes.go - обработчики /api/v1/processes: реестр процессов,
// статусы и сводка по строкам.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/dto"
	apierrors "github.com/mohanmorkel7/glow-den21-sub001/internal/api/errors"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/workflow"
)

// ListProcesses - GET /api/v1/processes.
// Фильтры: project_id, status, type.
func (h *APIHandler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	p, err := bindPage(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	limit, offset := paginationDefaults(p)

	filters, err := processFilters(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	items, total, err := h.svc.Processes.List(r.Context(), filters, limit, offset)
	if err != nil {
		h.handleError(w, r, err, "Ошибка получения списка процессов")
		return
	}
	writeJSON(w, http.StatusOK, dto.NewList(dto.Map(items, dto.FromProcess), total, limit, offset))
}

func processFilters(r *http.Request) (model.ProcessFilters, error) {
	var f model.ProcessFilters
	var err error

	if f.ProjectID, err = bindOptionalString(r, "project_id"); err != nil {
		return f, err
	}

	status, err := bindOptionalString(r, "status")
	if err != nil {
		return f, err
	}
	if status != nil {
		st, err := workflow.ParseProcessStatus(*status)
		if err != nil {
			return f, err
		}
		f.Status = &st
	}

	ptype, err := bindOptionalString(r, "type")
	if err != nil {
		return f, err
	}
	if ptype != nil {
		t, err := workflow.ParseProcessType(*ptype)
		if err != nil {
			return f, err
		}
		f.Type = &t
	}
	return f, nil
}

// CreateProcess - POST /api/v1/processes. Доступ: project_manager+.
func (h *APIHandler) CreateProcess(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.CreateProcessRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.svc.Processes.Create(r.Context(), actor, req.ToInput())
	if err != nil {
		h.handleError(w, r, err, "Ошибка создания процесса")
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromProcess(p))
}

// GetProcess - GET /api/v1/processes/{id}.
func (h *APIHandler) GetProcess(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	p, err := h.svc.Processes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err, "Ошибка получения процесса")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromProcess(p))
}

// UpdateProcess - PUT /api/v1/processes/{id}. Счётчики строк не меняются.
func (h *APIHandler) UpdateProcess(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.UpdateProcessRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.svc.Processes.Update(r.Context(), actor, chi.URLParam(r, "id"), req.ToInput())
	if err != nil {
		h.handleError(w, r, err, "Ошибка обновления процесса")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromProcess(p))
}

// DeleteProcess - DELETE /api/v1/processes/{id}. Мягкое удаление,
// 409 при наличии незавершённых заявок.
func (h *APIHandler) DeleteProcess(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := h.svc.Processes.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.handleError(w, r, err, "Ошибка удаления процесса")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateProcessStatus - PATCH /api/v1/processes/{id}/status.
func (h *APIHandler) UpdateProcessStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := workflow.ParseProcessStatus(req.Status)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	p, err := h.svc.Processes.UpdateStatus(r.Context(), actor, chi.URLParam(r, "id"), status)
	if err != nil {
		h.handleError(w, r, err, "Ошибка смены статуса процесса")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromProcess(p))
}

// ListProcessEvents - GET /api/v1/processes/{id}/events.
func (h *APIHandler) ListProcessEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	items, err := h.svc.Processes.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err, "Ошибка получения журнала процесса")
		return
	}
	writeJSON(w, http.StatusOK, dto.NewList(dto.Map(items, dto.FromProcessEvent), len(items), len(items), 0))
}

// GetAvailability - GET /api/v1/processes/{id}/availability.
func (h *APIHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	a, err := h.svc.Processes.GetAvailability(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err, "Ошибка получения доступности строк")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromAvailability(a))
}
