package model

import "time"

// RequestStatus - статус заявки на строки.
type RequestStatus string

const (
	RequestPending             RequestStatus = "pending"
	RequestAssigned            RequestStatus = "assigned"
	RequestInProgress          RequestStatus = "in_progress"
	RequestCompleted           RequestStatus = "completed"
	RequestPendingVerification RequestStatus = "pending_verification"
	RequestVerified            RequestStatus = "verified"
	RequestRejected            RequestStatus = "rejected"
	RequestWithdrawn           RequestStatus = "withdrawn"
)

// FileRequest - заявка исполнителя на диапазон строк процесса.
// Хранится в таблице file_requests, никогда не удаляется.
type FileRequest struct {
	ID        string
	ProcessID string
	// UserID - sub исполнителя (владелец заявки)
	UserID   string
	Username string
	// RequestedCount - запрошенное количество строк
	RequestedCount int64
	Status         RequestStatus
	// StartRow, EndRow - выданный диапазон (включительно), nil до назначения
	StartRow *int64
	EndRow   *int64
	// AssignedCount - размер выданного диапазона
	AssignedCount int64
	AssignedBy    *string
	AssignedAt    *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	// UploadRef - ссылка на загруженный результат работы
	UploadRef   *string
	SubmittedAt *time.Time
	ReviewedBy  *string
	ReviewedAt  *time.Time
	ReviewNotes *string
	// ReworkAllowed - отклонённую заявку можно отправить повторно
	ReworkAllowed bool
	// RangeReleased - диапазон возвращён в пул свободных строк
	RangeReleased bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Range возвращает выданный диапазон, если он назначен.
func (r *FileRequest) Range() (RowRange, bool) {
	if r.StartRow == nil || r.EndRow == nil {
		return RowRange{}, false
	}
	return RowRange{Start: *r.StartRow, End: *r.EndRow}, true
}

// HoldsRange сообщает, удерживает ли заявка выданный диапазон.
// Проверенные заявки удерживают диапазон навсегда.
func (r *FileRequest) HoldsRange() bool {
	if r.StartRow == nil || r.RangeReleased {
		return false
	}
	switch r.Status {
	case RequestAssigned, RequestInProgress, RequestCompleted,
		RequestPendingVerification, RequestVerified, RequestRejected:
		return true
	default:
		return false
	}
}

// IsOpen сообщает, находится ли заявка в незавершённом состоянии.
func (r *FileRequest) IsOpen() bool {
	switch r.Status {
	case RequestPending, RequestAssigned, RequestInProgress,
		RequestCompleted, RequestPendingVerification:
		return true
	case RequestRejected:
		return r.ReworkAllowed && !r.RangeReleased
	default:
		return false
	}
}

// RequestFilters - фильтры для списка заявок.
type RequestFilters struct {
	ProcessID *string
	UserID    *string
	Status    *RequestStatus
}

// RequestEvent - запись аудита перехода заявки.
// Хранится в таблице file_request_events (только добавление).
type RequestEvent struct {
	ID         string
	RequestID  string
	ProcessID  string
	FromStatus *RequestStatus
	ToStatus   RequestStatus
	Actor      string
	Notes      *string
	CreatedAt  time.Time
}

// RowRange - непрерывный диапазон строк [Start, End] включительно.
type RowRange struct {
	Start int64
	End   int64
}

// Len возвращает количество строк в диапазоне.
func (r RowRange) Len() int64 {
	return r.End - r.Start + 1
}

// Overlaps сообщает, пересекаются ли два диапазона.
func (r RowRange) Overlaps(o RowRange) bool {
	return r.Start <= o.End && o.Start <= r.End
}
