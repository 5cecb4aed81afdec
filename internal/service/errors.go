// errors.go - ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/ledger"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/workflow"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

var (
	// ErrNotFound - ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict - конфликт с текущим состоянием (дубликат, открытые заявки).
	ErrConflict = errors.New("конфликт")
	// ErrValidation - ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrInvalidTransition - недопустимая смена статуса.
	ErrInvalidTransition = errors.New("недопустимый переход")
	// ErrInsufficientCapacity - запрошено больше строк, чем можно выдать.
	ErrInsufficientCapacity = errors.New("недостаточно доступных строк")
	// ErrAlreadyReviewed - заявка уже проверена.
	ErrAlreadyReviewed = errors.New("заявка уже проверена")
	// ErrProcessNotUpdatable - процесс не принимает дневные отчёты.
	ErrProcessNotUpdatable = errors.New("процесс не принимает отчёты")
	// ErrForbidden - недостаточно прав.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrUploadsUnavailable - объектное хранилище загрузок недоступно.
	ErrUploadsUnavailable = errors.New("хранилище загрузок недоступно")
)

// ForbiddenError - отказ в доступе с контекстом для диагностики.
// errors.Is(err, ErrForbidden) == true.
type ForbiddenError struct {
	// Role - эффективная роль инициатора
	Role string
	// Required - требуемая роль или отношение (assignee, owner)
	Required string
	// Reason - описание действия
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s: %s (роль %s, требуется %s)", ErrForbidden, e.Reason, e.Role, e.Required)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// mapRepoError переводит ошибки репозитория в ошибки сервиса.
func mapRepoError(err error, what string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, err)
	default:
		return err
	}
}

// mapTransitionError переводит *workflow.TransitionError в ошибку сервиса.
func mapTransitionError(err error) error {
	var te *workflow.TransitionError
	if !errors.As(err, &te) {
		return err
	}
	switch te.Code {
	case workflow.CodeAlreadyReviewed:
		return fmt.Errorf("%w: %s", ErrAlreadyReviewed, te.Message)
	case workflow.CodeInvalidStatus:
		return fmt.Errorf("%w: %s", ErrValidation, te.Message)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidTransition, te.Message)
	}
}

// mapLedgerError переводит ошибки учёта строк в ошибки сервиса.
// ErrUnbalanced не переводится: это внутренняя ошибка.
func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNonPositive):
		return fmt.Errorf("%w: %s", ErrValidation, err)
	case errors.Is(err, ledger.ErrInsufficient), errors.Is(err, ledger.ErrFragmented):
		return fmt.Errorf("%w: %s", ErrInsufficientCapacity, err)
	default:
		return err
	}
}
