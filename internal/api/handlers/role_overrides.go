// role_overrides.go - обработчики /api/v1/role-overrides.
// Доступ: admin (проверяется и middleware, и сервисом).
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/dto"
	apierrors "github.com/mohanmorkel7/glow-den21-sub001/internal/api/errors"
)

// ListRoleOverrides - GET /api/v1/role-overrides.
func (h *APIHandler) ListRoleOverrides(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	p, err := bindPage(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	limit, offset := paginationDefaults(p)

	items, total, err := h.svc.RoleOverrides.List(r.Context(), actor, limit, offset)
	if err != nil {
		h.handleError(w, r, err, "Ошибка получения role overrides")
		return
	}
	writeJSON(w, http.StatusOK, dto.NewList(dto.Map(items, dto.FromRoleOverride), total, limit, offset))
}

// SetRoleOverride - PUT /api/v1/role-overrides/{user_id}.
func (h *APIHandler) SetRoleOverride(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.SetRoleOverrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ro, err := h.svc.RoleOverrides.Set(r.Context(), actor, chi.URLParam(r, "user_id"), req.Username, req.Role)
	if err != nil {
		h.handleError(w, r, err, "Ошибка установки role override")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromRoleOverride(ro))
}

// DeleteRoleOverride - DELETE /api/v1/role-overrides/{user_id}.
func (h *APIHandler) DeleteRoleOverride(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := h.svc.RoleOverrides.Delete(r.Context(), actor, chi.URLParam(r, "user_id")); err != nil {
		h.handleError(w, r, err, "Ошибка удаления role override")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
