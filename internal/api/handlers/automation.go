// automation.go - обработчики automation-процессов: настройки
// инструмента и ежедневные отчёты.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/dto"
)

// GetAutomation - GET /api/v1/processes/{id}/automation.
func (h *APIHandler) GetAutomation(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	l, err := h.svc.Automation.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err, "Ошибка получения automation-процесса")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromAutomation(l))
}

// ConfigureAutomation - PUT /api/v1/processes/{id}/automation.
func (h *APIHandler) ConfigureAutomation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.ConfigureAutomationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	l, err := h.svc.Automation.Configure(r.Context(), actor, chi.URLParam(r, "id"), req.ToolName, req.DailyTarget)
	if err != nil {
		h.handleError(w, r, err, "Ошибка настройки automation-процесса")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromAutomation(l))
}

// RecordAutomationEntry - POST /api/v1/processes/{id}/automation/entries.
// Повторный отчёт за ту же дату заменяет прежний.
func (h *APIHandler) RecordAutomationEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req dto.RecordEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, p, err := h.svc.Automation.RecordDailyCompletion(r.Context(), actor,
		chi.URLParam(r, "id"), req.Date.Time, req.CompletedCount)
	if err != nil {
		h.handleError(w, r, err, "Ошибка записи отчёта automation")
		return
	}
	writeJSON(w, http.StatusOK, dto.AutomationRecord{
		Entry:   dto.FromAutomationEntry(entry),
		Process: dto.FromProcess(p),
	})
}
