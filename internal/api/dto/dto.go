// Пакет dto - адаптер между доменными моделями и JSON-схемой API.
//
// Вся трансляция domain ↔ wire сосредоточена здесь: обработчики не
// формируют JSON из моделей напрямую. Поля в JSON - snake_case,
// необязательные значения опускаются, если не заданы.
package dto

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/workflow"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/service"
)

// --- Ответы ---

// List - конверт списочных ответов.
type List[T any] struct {
	Data    []T  `json:"data"`
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
}

// NewList собирает конверт. page вычисляется из offset и limit (с 1).
func NewList[T any](data []T, total, limit, offset int) List[T] {
	if data == nil {
		data = []T{}
	}
	page := 1
	if limit > 0 {
		page = offset/limit + 1
	}
	return List[T]{
		Data:    data,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: offset+len(data) < total,
	}
}

// Me - текущий пользователь.
type Me struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Project - проект.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Process - процесс обработки файла со счётчиками строк.
type Process struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ProjectID     string    `json:"project_id"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	TotalRows     int64     `json:"total_rows"`
	HeaderRows    int64     `json:"header_rows"`
	DataRows      int64     `json:"data_rows"`
	AvailableRows int64     `json:"available_rows"`
	AllocatedRows int64     `json:"allocated_rows"`
	ProcessedRows int64     `json:"processed_rows"`
	CommittedRows int64     `json:"committed_rows"`
	FileRef       *string   `json:"file_ref,omitempty"`
	DailyTarget   *int64    `json:"daily_target,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProcessEvent - запись журнала статусов процесса.
type ProcessEvent struct {
	ID         string    `json:"id"`
	FromStatus *string   `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// Availability - сводка по строкам процесса.
type Availability struct {
	ProcessID     string `json:"process_id"`
	Status        string `json:"status"`
	TotalRows     int64  `json:"total_rows"`
	HeaderRows    int64  `json:"header_rows"`
	AvailableRows int64  `json:"available_rows"`
	AllocatedRows int64  `json:"allocated_rows"`
	ProcessedRows int64  `json:"processed_rows"`
	CommittedRows int64  `json:"committed_rows"`
	MaxContiguous int64  `json:"max_contiguous"`
}

// Request - заявка на строки. AllowedActions вычисляется по матрице
// переходов и не учитывает роль инициатора.
type Request struct {
	ID             string     `json:"id"`
	ProcessID      string     `json:"process_id"`
	UserID         string     `json:"user_id"`
	Username       string     `json:"username"`
	RequestedCount int64      `json:"requested_count"`
	AssignedCount  int64      `json:"assigned_count"`
	Status         string     `json:"status"`
	StartRow       *int64     `json:"start_row,omitempty"`
	EndRow         *int64     `json:"end_row,omitempty"`
	AssignedBy     *string    `json:"assigned_by,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	UploadRef      *string    `json:"upload_ref,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	ReviewedBy     *string    `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes    *string    `json:"review_notes,omitempty"`
	ReworkAllowed  bool       `json:"rework_allowed"`
	RangeReleased  bool       `json:"range_released"`
	AllowedActions []string   `json:"allowed_actions"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RequestEvent - запись аудита заявки.
type RequestEvent struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	FromStatus *string   `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor"`
	Notes      *string   `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AutomationEntry - дневной отчёт инструмента.
type AutomationEntry struct {
	Date           openapi_types.Date `json:"date"`
	CompletedCount int64              `json:"completed_count"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Automation - процесс, настройки инструмента и отчёты.
type Automation struct {
	Process       Process           `json:"process"`
	ToolName      string            `json:"tool_name"`
	LastUpdatedAt *time.Time        `json:"last_updated_at,omitempty"`
	Entries       []AutomationEntry `json:"entries"`
}

// AutomationRecord - результат записи отчёта.
type AutomationRecord struct {
	Entry   AutomationEntry `json:"entry"`
	Process Process         `json:"process"`
}

// RoleOverride - локальное дополнение роли.
type RoleOverride struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	AdditionalRole string    `json:"additional_role"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// --- domain → wire ---

// FromActor конвертирует инициатора.
func FromActor(a model.Actor) Me {
	return Me{UserID: a.UserID, Username: a.Username, Role: a.Role}
}

// FromProject конвертирует проект.
func FromProject(p *model.Project) Project {
	return Project{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// FromProcess конвертирует процесс.
func FromProcess(p *model.FileProcess) Process {
	return Process{
		ID:            p.ID,
		Name:          p.Name,
		ProjectID:     p.ProjectID,
		Type:          string(p.Type),
		Status:        string(p.Status),
		TotalRows:     p.TotalRows,
		HeaderRows:    p.HeaderRows,
		DataRows:      p.DataRows(),
		AvailableRows: p.AvailableRows,
		AllocatedRows: p.AllocatedRows,
		ProcessedRows: p.ProcessedRows,
		CommittedRows: p.CommittedRows(),
		FileRef:       p.FileRef,
		DailyTarget:   p.DailyTarget,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// FromProcessEvent конвертирует запись журнала процесса.
// Пустой FromStatus (создание процесса) в JSON опускается.
func FromProcessEvent(e *model.ProcessEvent) ProcessEvent {
	var from *string
	if e.FromStatus != "" {
		s := string(e.FromStatus)
		from = &s
	}
	return ProcessEvent{
		ID:         e.ID,
		FromStatus: from,
		ToStatus:   string(e.ToStatus),
		Actor:      e.Actor,
		Reason:     e.Reason,
		CreatedAt:  e.CreatedAt,
	}
}

// FromAvailability конвертирует сводку.
func FromAvailability(a *service.Availability) Availability {
	return Availability{
		ProcessID:     a.ProcessID,
		Status:        string(a.Status),
		TotalRows:     a.TotalRows,
		HeaderRows:    a.HeaderRows,
		AvailableRows: a.AvailableRows,
		AllocatedRows: a.AllocatedRows,
		ProcessedRows: a.ProcessedRows,
		CommittedRows: a.CommittedRows,
		MaxContiguous: a.MaxContiguous,
	}
}

// FromRequest конвертирует заявку.
func FromRequest(r *model.FileRequest) Request {
	actions := workflow.AllowedActions(r)
	allowed := make([]string, len(actions))
	for i, a := range actions {
		allowed[i] = string(a)
	}
	return Request{
		ID:             r.ID,
		ProcessID:      r.ProcessID,
		UserID:         r.UserID,
		Username:       r.Username,
		RequestedCount: r.RequestedCount,
		AssignedCount:  r.AssignedCount,
		Status:         string(r.Status),
		StartRow:       r.StartRow,
		EndRow:         r.EndRow,
		AssignedBy:     r.AssignedBy,
		AssignedAt:     r.AssignedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		UploadRef:      r.UploadRef,
		SubmittedAt:    r.SubmittedAt,
		ReviewedBy:     r.ReviewedBy,
		ReviewedAt:     r.ReviewedAt,
		ReviewNotes:    r.ReviewNotes,
		ReworkAllowed:  r.ReworkAllowed,
		RangeReleased:  r.RangeReleased,
		AllowedActions: allowed,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// FromRequestEvent конвертирует запись аудита заявки.
func FromRequestEvent(e *model.RequestEvent) RequestEvent {
	var from *string
	if e.FromStatus != nil {
		s := string(*e.FromStatus)
		from = &s
	}
	return RequestEvent{
		ID:         e.ID,
		RequestID:  e.RequestID,
		FromStatus: from,
		ToStatus:   string(e.ToStatus),
		Actor:      e.Actor,
		Notes:      e.Notes,
		CreatedAt:  e.CreatedAt,
	}
}

// FromAutomationEntry конвертирует дневной отчёт.
func FromAutomationEntry(e *model.AutomationEntry) AutomationEntry {
	return AutomationEntry{
		Date:           openapi_types.Date{Time: e.Date},
		CompletedCount: e.CompletedCount,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// FromAutomation конвертирует процесс с настройками и отчётами.
func FromAutomation(l *service.AutomationLedger) Automation {
	entries := make([]AutomationEntry, len(l.Entries))
	for i, e := range l.Entries {
		entries[i] = FromAutomationEntry(e)
	}
	out := Automation{
		Process: FromProcess(l.Process),
		Entries: entries,
	}
	if l.Config != nil {
		out.ToolName = l.Config.ToolName
		out.LastUpdatedAt = l.Config.LastUpdatedAt
	}
	return out
}

// FromRoleOverride конвертирует override.
func FromRoleOverride(ro *model.RoleOverride) RoleOverride {
	return RoleOverride{
		UserID:         ro.UserID,
		Username:       ro.Username,
		AdditionalRole: ro.AdditionalRole,
		CreatedBy:      ro.CreatedBy,
		CreatedAt:      ro.CreatedAt,
		UpdatedAt:      ro.UpdatedAt,
	}
}

// Map применяет конвертер к срезу.
func Map[S any, T any](items []S, fn func(S) T) []T {
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = fn(it)
	}
	return out
}
