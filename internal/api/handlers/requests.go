// requests.go - обработчики /api/v1/requests: очередь заявок,
// переходы жизненного цикла и проверка результатов.
package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/dto"
	apierrors "github.com/mohanmorkel7/glow-den21-sub001/internal/api/errors"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/workflow"
)

// ListRequests - GET /api/v1/requests.
// Работник видит только свои заявки.
func (h *APIHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
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

	filters, err := requestFilters(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	items, total, err := h.svc.Requests.List(r.Context(), actor, filters, limit, offset)
	if err != nil {
		h.handleError(w, r, err, "Ошибка получения списка заявок")
		return
	}
	writeJSON(w, http.StatusOK, dto.NewList(dto.Map(items, dto.FromRequest), total, limit, offset))
}

func requestFilters(r *http.Request) (model.RequestFilters, error) {
	var f model.RequestFilters
	var err error

	if f.ProcessID, err = bindOptionalString(r, "process_id"); err != nil {
		return f, err
	}
	if f.UserID, err = bindOptionalString(r, "user_id"); err != nil {
		return f, err
	}

	status, err := bindOptionalString(r, "status")
	if err != nil {
		return f, err
	}
	if status != nil {
		st, err := workflow.ParseRequestStatus(*status)
		if err != nil {
			return f, err
		}
		f.Status = &st
	}
	return f, nil
}

// CreateRequest - POST /api/v1/requests. Заявка создаётся от имени инициатора.
func (h *APIHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.CreateRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fr, err := h.svc.Requests.Create(r.Context(), actor, req.ProcessID, req.Count)
	if err != nil {
		h.handleError(w, r, err, "Ошибка создания заявки")
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromRequest(fr))
}

// GetRequest - GET /api/v1/requests/{id}.
func (h *APIHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	fr, err := h.svc.Requests.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err, "Ошибка получения заявки")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromRequest(fr))
}

// GetRequestHistory - GET /api/v1/requests/{id}/history.
func (h *APIHandler) GetRequestHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	items, err := h.svc.Requests.History(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err, "Ошибка получения истории заявки")
		return
	}
	writeJSON(w, http.StatusOK, dto.NewList(dto.Map(items, dto.FromRequestEvent), len(items), len(items), 0))
}

// transitionFunc - переход заявки без параметров.
type transitionFunc func(ctx context.Context, actor model.Actor, id string) (*model.FileRequest, error)

// runTransition выполняет переход и отвечает обновлённой заявкой.
func (h *APIHandler) runTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc, msg string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	fr, err := fn(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err, msg)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromRequest(fr))
}

// AssignRequest - POST /api/v1/requests/{id}/approve.
// Одобрение заявки: выдача диапазона строк. Доступ: project_manager+.
func (h *APIHandler) AssignRequest(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.svc.Requests.Assign, "Ошибка назначения заявки")
}

// WithdrawRequest - POST /api/v1/requests/{id}/withdraw. Только владелец.
func (h *APIHandler) WithdrawRequest(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.svc.Requests.Withdraw, "Ошибка отзыва заявки")
}

// StartRequest - POST /api/v1/requests/{id}/start. Только исполнитель.
func (h *APIHandler) StartRequest(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.svc.Requests.Start, "Ошибка начала работы по заявке")
}

// CompleteRequest - POST /api/v1/requests/{id}/complete. Только исполнитель.
func (h *APIHandler) CompleteRequest(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.svc.Requests.Complete, "Ошибка завершения заявки")
}

// RequeueRequest - POST /api/v1/requests/{id}/requeue. Доступ: project_manager+.
func (h *APIHandler) RequeueRequest(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.svc.Requests.Requeue, "Ошибка возврата заявки в очередь")
}

// SubmitRequest - POST /api/v1/requests/{id}/submit.
func (h *APIHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fr, err := h.svc.Requests.Submit(r.Context(), actor, chi.URLParam(r, "id"), req.UploadRef)
	if err != nil {
		h.handleError(w, r, err, "Ошибка отправки результата")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromRequest(fr))
}

// ReviewRequest - POST /api/v1/requests/{id}/review. Доступ: project_manager+.
func (h *APIHandler) ReviewRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.ReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		h.handleError(w, r, err, "Ошибка проверки заявки")
		return
	}

	fr, err := h.svc.Verification.Review(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		h.handleError(w, r, err, "Ошибка проверки заявки")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromRequest(fr))
}

// ReassignRequest - POST /api/v1/requests/{id}/reassign. Доступ: project_manager+.
func (h *APIHandler) ReassignRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.ReassignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fr, err := h.svc.Requests.Reassign(r.Context(), actor, chi.URLParam(r, "id"), req.UserID, req.Username)
	if err != nil {
		h.handleError(w, r, err, "Ошибка переназначения заявки")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromRequest(fr))
}
