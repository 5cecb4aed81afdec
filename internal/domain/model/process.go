// Пакет model - доменные модели Allocation Service.
package model

import "time"

// ProcessType - тип процесса обработки файла.
type ProcessType string

const (
	// ProcessTypeManual - строки распределяются между исполнителями диапазонами
	ProcessTypeManual ProcessType = "manual"
	// ProcessTypeAutomation - прогресс фиксируется ежедневными отчётами инструмента
	ProcessTypeAutomation ProcessType = "automation"
)

// ProcessStatus - статус процесса.
type ProcessStatus string

const (
	ProcessPending    ProcessStatus = "pending"
	ProcessActive     ProcessStatus = "active"
	ProcessInProgress ProcessStatus = "in_progress"
	ProcessPaused     ProcessStatus = "paused"
	ProcessCompleted  ProcessStatus = "completed"
)

// FileProcess - процесс обработки одного набора данных.
// Хранится в таблице file_processes.
type FileProcess struct {
	// ID - UUID процесса
	ID string
	// Name - название процесса
	Name string
	// ProjectID - UUID проекта (не владеющая ссылка)
	ProjectID string
	// Type - manual или automation
	Type ProcessType
	// Status - текущий статус
	Status ProcessStatus
	// TotalRows - общее количество строк, включая заголовочные
	TotalRows int64
	// HeaderRows - заголовочные строки (не распределяются)
	HeaderRows int64
	// AvailableRows - строки, доступные для распределения
	AvailableRows int64
	// AllocatedRows - строки, выданные незавершённым заявкам
	AllocatedRows int64
	// ProcessedRows - проверенные (manual) или отчитанные (automation) строки
	ProcessedRows int64
	// HighWaterRow - максимальный end_row, выданный когда-либо
	HighWaterRow int64
	// FileRef - ссылка на исходный набор данных (только manual)
	FileRef *string
	// DailyTarget - дневной план (только automation)
	DailyTarget *int64
	// CreatedBy - создатель (username)
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	// DeletedAt - время мягкого удаления (nil - процесс не удалён)
	DeletedAt *time.Time
}

// DataRows возвращает количество строк, подлежащих обработке.
func (p *FileProcess) DataRows() int64 {
	return p.TotalRows - p.HeaderRows
}

// CommittedRows возвращает строки, уже выданные или обработанные.
func (p *FileProcess) CommittedRows() int64 {
	return p.AllocatedRows + p.ProcessedRows
}

// IsDeleted сообщает, удалён ли процесс.
func (p *FileProcess) IsDeleted() bool {
	return p.DeletedAt != nil
}

// ProcessFilters - фильтры для списка процессов.
type ProcessFilters struct {
	ProjectID *string
	Status    *ProcessStatus
	Type      *ProcessType
}

// ProcessEvent - запись журнала изменений статуса процесса.
// Хранится в таблице process_events.
type ProcessEvent struct {
	ID         string
	ProcessID  string
	FromStatus ProcessStatus
	ToStatus   ProcessStatus
	// Actor - инициатор (username или "system")
	Actor string
	// Reason - причина (created, manual, auto_complete, reopen, first_record,
	// first_allocation)
	Reason    string
	CreatedAt time.Time
}

// Причины изменения статуса процесса.
const (
	ReasonCreated         = "created"
	ReasonManual          = "manual"
	ReasonAutoComplete    = "auto_complete"
	ReasonReopen          = "reopen"
	ReasonFirstRecord     = "first_record"
	ReasonFirstAllocation = "first_allocation"
)

// ActorSystem - инициатор системных переходов.
const ActorSystem = "system"
