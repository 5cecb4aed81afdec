// handler.go - основной обработчик API.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/mohanmorkel7/glow-den21-sub001/internal/api/errors"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/middleware"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/service"
)

// Services - зависимости обработчиков из сервисного слоя.
type Services struct {
	Projects      *service.ProjectService
	Processes     *service.ProcessRegistry
	Requests      *service.RequestQueue
	Verification  *service.VerificationGate
	Automation    *service.AutomationTracker
	RoleOverrides *service.RoleOverrideService
}

// APIHandler - основной обработчик API Allocation Service.
type APIHandler struct {
	health *HealthHandler
	svc    Services
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(health *HealthHandler, svc Services, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health: health,
		svc:    svc,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive - liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady - readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics - Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса. При ошибке отвечает 400 и
// возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			apierrors.ValidationError(w, "Пустое тело запроса")
			return false
		}
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// actorFrom извлекает инициатора. При отсутствии отвечает 401.
func actorFrom(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return model.Actor{}, false
	}
	return actor, true
}

// handleError отвечает на ошибку сервиса. Нераспознанные ошибки
// логируются и превращаются в 500 с сообщением msg.
func (h *APIHandler) handleError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if apierrors.FromService(w, err) {
		return
	}
	h.logger.Error(msg,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	apierrors.InternalError(w, msg)
}

// pageParams - параметры пагинации списков.
type pageParams struct {
	Page   *int
	Limit  *int
	Offset *int
}

// bindPage разбирает page, limit и offset из query.
func bindPage(r *http.Request) (pageParams, error) {
	var p pageParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "page", q, &p.Page); err != nil {
		return p, fmt.Errorf("параметр page: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &p.Limit); err != nil {
		return p, fmt.Errorf("параметр limit: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", q, &p.Offset); err != nil {
		return p, fmt.Errorf("параметр offset: %w", err)
	}
	return p, nil
}

// paginationDefaults нормализует параметры пагинации.
// offset имеет приоритет над page.
func paginationDefaults(p pageParams) (int, int) {
	l := 50
	o := 0

	if p.Limit != nil {
		l = *p.Limit
		if l < 1 {
			l = 1
		}
		if l > 500 {
			l = 500
		}
	}

	switch {
	case p.Offset != nil:
		o = *p.Offset
	case p.Page != nil && *p.Page > 1:
		o = (*p.Page - 1) * l
	}
	if o < 0 {
		o = 0
	}

	return l, o
}

// bindOptionalString разбирает необязательный строковый query-параметр.
func bindOptionalString(r *http.Request, name string) (*string, error) {
	var v *string
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), &v); err != nil {
		return nil, fmt.Errorf("параметр %s: %w", name, err)
	}
	if v != nil && *v == "" {
		return nil, nil
	}
	return v, nil
}
