package dto

import (
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/service"
)

// --- Тела запросов ---

// CreateProjectRequest - POST /projects.
type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// UpdateProjectRequest - PUT /projects/{id}.
type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// CreateProcessRequest - POST /processes.
// Project - UUID или название проекта.
type CreateProcessRequest struct {
	Name        string  `json:"name"`
	Project     string  `json:"project"`
	Type        string  `json:"type"`
	TotalRows   int64   `json:"total_rows"`
	HeaderRows  *int64  `json:"header_rows,omitempty"`
	FileRef     *string `json:"file_ref,omitempty"`
	DailyTarget *int64  `json:"daily_target,omitempty"`
	ToolName    *string `json:"tool_name,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// ToInput переводит тело в параметры сервиса.
// header_rows по умолчанию 0, начальный статус по умолчанию pending.
func (r CreateProcessRequest) ToInput() service.CreateProcessInput {
	in := service.CreateProcessInput{
		Name:        r.Name,
		Project:     r.Project,
		Type:        model.ProcessType(r.Type),
		TotalRows:   r.TotalRows,
		FileRef:     r.FileRef,
		DailyTarget: r.DailyTarget,
		ToolName:    r.ToolName,
		Status:      model.ProcessPending,
	}
	if r.HeaderRows != nil {
		in.HeaderRows = *r.HeaderRows
	}
	if r.Status != nil {
		in.Status = model.ProcessStatus(*r.Status)
	}
	return in
}

// UpdateProcessRequest - PUT /processes/{id}. Отсутствующие поля не меняются.
type UpdateProcessRequest struct {
	Name        *string `json:"name,omitempty"`
	FileRef     *string `json:"file_ref,omitempty"`
	DailyTarget *int64  `json:"daily_target,omitempty"`
	ToolName    *string `json:"tool_name,omitempty"`
}

// ToInput переводит тело в параметры сервиса.
func (r UpdateProcessRequest) ToInput() service.UpdateProcessInput {
	return service.UpdateProcessInput{
		Name:        r.Name,
		FileRef:     r.FileRef,
		DailyTarget: r.DailyTarget,
		ToolName:    r.ToolName,
	}
}

// UpdateStatusRequest - PATCH /processes/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// ConfigureAutomationRequest - PUT /processes/{id}/automation.
type ConfigureAutomationRequest struct {
	ToolName    *string `json:"tool_name,omitempty"`
	DailyTarget *int64  `json:"daily_target,omitempty"`
}

// RecordEntryRequest - POST /processes/{id}/automation/entries.
type RecordEntryRequest struct {
	Date           openapi_types.Date `json:"date"`
	CompletedCount int64              `json:"completed_count"`
}

// CreateRequestRequest - POST /requests.
type CreateRequestRequest struct {
	ProcessID string `json:"process_id"`
	Count     int64  `json:"count"`
}

// SubmitRequest - POST /requests/{id}/submit.
type SubmitRequest struct {
	UploadRef string `json:"upload_ref"`
}

// ReviewRequest - POST /requests/{id}/review.
type ReviewRequest struct {
	Decision    string  `json:"decision"`
	Notes       *string `json:"notes,omitempty"`
	AllowRework *bool   `json:"allow_rework,omitempty"`
}

// ToInput переводит тело в параметры сервиса. allow_rework по умолчанию false.
func (r ReviewRequest) ToInput() (service.ReviewInput, error) {
	d, err := service.ParseDecision(r.Decision)
	if err != nil {
		return service.ReviewInput{}, err
	}
	in := service.ReviewInput{Decision: d, Notes: r.Notes}
	if r.AllowRework != nil {
		in.AllowRework = *r.AllowRework
	}
	return in, nil
}

// ReassignRequest - POST /requests/{id}/reassign.
type ReassignRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// SetRoleOverrideRequest - PUT /role-overrides/{user_id}.
type SetRoleOverrideRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}
