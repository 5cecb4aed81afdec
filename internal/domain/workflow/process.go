package workflow

import (
	"fmt"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
)

// processStatuses - допустимые статусы процесса.
var processStatuses = map[model.ProcessStatus]bool{
	model.ProcessPending:    true,
	model.ProcessActive:     true,
	model.ProcessInProgress: true,
	model.ProcessPaused:     true,
	model.ProcessCompleted:  true,
}

// ParseProcessStatus преобразует строку в ProcessStatus.
func ParseProcessStatus(s string) (model.ProcessStatus, error) {
	st := model.ProcessStatus(s)
	if !processStatuses[st] {
		return "", fmt.Errorf("недопустимый статус процесса: %q, допустимые: pending, active, in_progress, paused, completed", s)
	}
	return st, nil
}

// ParseProcessType преобразует строку в ProcessType.
func ParseProcessType(s string) (model.ProcessType, error) {
	switch t := model.ProcessType(s); t {
	case model.ProcessTypeManual, model.ProcessTypeAutomation:
		return t, nil
	default:
		return "", fmt.Errorf("недопустимый тип процесса: %q, допустимые: manual, automation", s)
	}
}

// CheckProcessTransition проверяет ручную смену статуса процесса.
//
// Переходы между pending, active, in_progress и paused не ограничены.
// В completed - только при available == 0. Из completed вручную выйти
// нельзя: процесс переоткрывается только при освобождении диапазона.
// Смена на тот же статус допустима (no-op).
func CheckProcessTransition(p *model.FileProcess, target model.ProcessStatus) error {
	if !processStatuses[target] {
		return &TransitionError{
			Code:    CodeInvalidStatus,
			Message: fmt.Sprintf("недопустимый статус процесса: %q", target),
		}
	}

	if p.Status == target {
		return nil
	}

	if p.Status == model.ProcessCompleted {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: "завершённый процесс нельзя вернуть вручную",
		}
	}

	if target == model.ProcessCompleted && p.AvailableRows > 0 {
		return &TransitionError{
			Code: CodeInvalidTransition,
			Message: fmt.Sprintf("процесс нельзя завершить: доступно ещё %d строк",
				p.AvailableRows),
		}
	}

	return nil
}

// CanAllocate проверяет, принимает ли процесс новые заявки и назначения.
func CanAllocate(p *model.FileProcess) error {
	if p.Type != model.ProcessTypeManual {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: "automation-процесс не распределяет строки по заявкам",
		}
	}
	switch p.Status {
	case model.ProcessPaused, model.ProcessCompleted:
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("процесс в статусе %s не принимает назначения", p.Status),
		}
	}
	return nil
}

// CanRecordAutomation проверяет, принимает ли процесс дневные отчёты.
func CanRecordAutomation(p *model.FileProcess) bool {
	if p.Type != model.ProcessTypeAutomation {
		return false
	}
	return p.Status == model.ProcessActive || p.Status == model.ProcessInProgress
}
