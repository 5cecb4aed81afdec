// Пакет errors - единый формат ошибок HTTP API.
// Тело ответа: {"error": {"code": "...", "message": "..."}}.
// Все ответы с ошибками должны проходить через WriteError или FromService.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/service"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeConflict             = "CONFLICT"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeInsufficientCapacity = "INSUFFICIENT_CAPACITY"
	CodeAlreadyReviewed      = "ALREADY_REVIEWED"
	CodeProcessNotUpdatable  = "PROCESS_NOT_UPDATABLE"
	CodeUploadsUnavailable   = "UPLOADS_UNAVAILABLE"
	CodeInternalError        = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Role и Required заполняются только для 403
	Role     string `json:"role,omitempty"`
	Required string `json:"required,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode - HTTP статус-код, code - машиночитаемый код, message - описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	write(w, statusCode, errorDetail{Code: code, Message: message})
}

func write(w http.ResponseWriter, statusCode int, d errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: d})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError - 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound - 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized - 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden - 403 недостаточно прав.
// role - эффективная роль пользователя, required - чего не хватило.
func Forbidden(w http.ResponseWriter, message, role, required string) {
	write(w, http.StatusForbidden, errorDetail{
		Code:     CodeForbidden,
		Message:  message,
		Role:     role,
		Required: required,
	})
}

// Conflict - 409 конфликт.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// InternalError - 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// FromService преобразует ошибку сервисного слоя в HTTP-ответ.
// Возвращает false, если ошибка не распознана: вызывающий код
// логирует её и отвечает 500.
func FromService(w http.ResponseWriter, err error) bool {
	var fe *service.ForbiddenError
	switch {
	case stderrors.As(err, &fe):
		Forbidden(w, err.Error(), fe.Role, fe.Required)
	case stderrors.Is(err, service.ErrForbidden):
		Forbidden(w, err.Error(), "", "")
	case stderrors.Is(err, service.ErrValidation):
		ValidationError(w, err.Error())
	case stderrors.Is(err, service.ErrNotFound):
		NotFound(w, err.Error())
	case stderrors.Is(err, service.ErrInsufficientCapacity):
		WriteError(w, http.StatusConflict, CodeInsufficientCapacity, err.Error())
	case stderrors.Is(err, service.ErrAlreadyReviewed):
		WriteError(w, http.StatusConflict, CodeAlreadyReviewed, err.Error())
	case stderrors.Is(err, service.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, CodeInvalidTransition, err.Error())
	case stderrors.Is(err, service.ErrProcessNotUpdatable):
		WriteError(w, http.StatusConflict, CodeProcessNotUpdatable, err.Error())
	case stderrors.Is(err, service.ErrConflict):
		Conflict(w, err.Error())
	case stderrors.Is(err, service.ErrUploadsUnavailable):
		WriteError(w, http.StatusBadGateway, CodeUploadsUnavailable, err.Error())
	default:
		return false
	}
	return true
}
