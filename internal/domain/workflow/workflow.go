// Пакет workflow - конечные автоматы заявок и процессов.
//
// Жизненный цикл заявки:
//
//	pending → assigned → in_progress → [completed →] pending_verification → verified | rejected
//
// Отклонённая заявка с разрешённой доработкой может быть отправлена
// повторно (→ pending_verification) или возвращена в очередь (→ pending).
// Отклонение без доработки, verified и withdrawn - конечные состояния.
//
// Пакет не хранит состояния: сериализация переходов обеспечивается
// блокировкой процесса на уровне хранилища.
package workflow

import (
	"fmt"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
)

// Action - действие над заявкой.
type Action string

const (
	ActAssign   Action = "assign"
	ActWithdraw Action = "withdraw"
	ActStart    Action = "start"
	ActComplete Action = "complete"
	ActSubmit   Action = "submit"
	ActApprove  Action = "approve"
	ActReject   Action = "reject"
	ActReassign Action = "reassign"
	ActRequeue  Action = "requeue"
)

// Коды ошибок переходов.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeAlreadyReviewed   = "ALREADY_REVIEWED"
	CodeInvalidStatus     = "INVALID_STATUS"
)

// requestTransitions - матрица допустимых переходов заявки.
// Ключ - текущий статус, значение - действие → целевой статус.
var requestTransitions = map[model.RequestStatus]map[Action]model.RequestStatus{
	model.RequestPending: {
		ActAssign:   model.RequestAssigned,
		ActWithdraw: model.RequestWithdrawn,
	},
	model.RequestAssigned: {
		ActStart:    model.RequestInProgress,
		ActReassign: model.RequestAssigned,
	},
	model.RequestInProgress: {
		ActComplete: model.RequestCompleted,
		ActSubmit:   model.RequestPendingVerification,
		ActReassign: model.RequestInProgress,
	},
	model.RequestCompleted: {
		ActSubmit:   model.RequestPendingVerification,
		ActReassign: model.RequestCompleted,
	},
	model.RequestPendingVerification: {
		ActApprove: model.RequestVerified,
		ActReject:  model.RequestRejected,
	},
	// Только при rework_allowed и неосвобождённом диапазоне
	model.RequestRejected: {
		ActSubmit:  model.RequestPendingVerification,
		ActRequeue: model.RequestPending,
	},
	model.RequestVerified:  {},
	model.RequestWithdrawn: {},
}

// NextRequestStatus возвращает статус, в который перейдёт заявка
// после действия, или *TransitionError, если переход недопустим.
//
// Для approve/reject вне pending_verification возвращается код
// ALREADY_REVIEWED.
func NextRequestStatus(r *model.FileRequest, act Action) (model.RequestStatus, error) {
	if act == ActApprove || act == ActReject {
		if r.Status != model.RequestPendingVerification {
			return "", &TransitionError{
				Code:    CodeAlreadyReviewed,
				Message: fmt.Sprintf("заявка в статусе %s не ожидает проверки", r.Status),
			}
		}
	}

	actions, ok := requestTransitions[r.Status]
	if !ok {
		return "", &TransitionError{
			Code:    CodeInvalidStatus,
			Message: fmt.Sprintf("неизвестный статус заявки: %q", r.Status),
		}
	}

	next, ok := actions[act]
	if !ok {
		return "", &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("действие %s недопустимо в статусе %s", act, r.Status),
		}
	}

	if r.Status == model.RequestRejected && (!r.ReworkAllowed || r.RangeReleased) {
		return "", &TransitionError{
			Code:    CodeInvalidTransition,
			Message: "заявка отклонена без права доработки",
		}
	}

	return next, nil
}

// AllowedActions возвращает действия, допустимые для заявки.
func AllowedActions(r *model.FileRequest) []Action {
	result := make([]Action, 0, 2)
	for _, act := range actionOrder {
		if _, err := NextRequestStatus(r, act); err == nil {
			result = append(result, act)
		}
	}
	return result
}

// actionOrder - стабильный порядок для AllowedActions.
var actionOrder = []Action{
	ActAssign, ActWithdraw, ActStart, ActComplete, ActSubmit,
	ActApprove, ActReject, ActReassign, ActRequeue,
}

// ParseRequestStatus преобразует строку в RequestStatus.
func ParseRequestStatus(s string) (model.RequestStatus, error) {
	st := model.RequestStatus(s)
	if _, ok := requestTransitions[st]; !ok {
		return "", fmt.Errorf("недопустимый статус заявки: %q", s)
	}
	return st, nil
}

// TransitionError - ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, ALREADY_REVIEWED, INVALID_STATUS)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
