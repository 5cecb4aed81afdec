package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/dto"
)

// PageOptions - пагинация списков. Нулевые значения не передаются.
type PageOptions struct {
	Page  int
	Limit int
}

func (p PageOptions) values() url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

// ProcessFilter - фильтры списка процессов.
type ProcessFilter struct {
	PageOptions
	ProjectID string
	Status    string
	Type      string
}

// RequestFilter - фильтры списка заявок.
type RequestFilter struct {
	PageOptions
	ProcessID string
	UserID    string
	Status    string
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

// getList запрашивает список. Принимает как конверт {data: [...]},
// так и голый массив.
func getList[T any](ctx context.Context, c *Client, path string, q url.Values) (*dto.List[T], error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, q, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[T](raw)
}

func decodeList[T any](raw []byte) (*dto.List[T], error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("декодирование списка: %w", err)
		}
		return &dto.List[T]{Data: items, Total: len(items), Page: 1, Limit: len(items)}, nil
	}

	var list dto.List[T]
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("декодирование списка: %w", err)
	}
	if list.Data == nil {
		list.Data = []T{}
	}
	return &list, nil
}

// --- Пользователь и проекты ---

// Me возвращает текущего пользователя и его эффективную роль.
func (c *Client) Me(ctx context.Context) (*dto.Me, error) {
	var out dto.Me
	if err := c.do(ctx, http.MethodGet, "/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProjects возвращает страницу проектов.
func (c *Client) ListProjects(ctx context.Context, opts PageOptions) (*dto.List[dto.Project], error) {
	return getList[dto.Project](ctx, c, "/projects", opts.values())
}

// CreateProject создаёт проект.
func (c *Client) CreateProject(ctx context.Context, in dto.CreateProjectRequest) (*dto.Project, error) {
	var out dto.Project
	if err := c.do(ctx, http.MethodPost, "/projects", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Процессы ---

// ListProcesses возвращает страницу процессов.
func (c *Client) ListProcesses(ctx context.Context, f ProcessFilter) (*dto.List[dto.Process], error) {
	q := f.values()
	setIf(q, "project_id", f.ProjectID)
	setIf(q, "status", f.Status)
	setIf(q, "type", f.Type)
	return getList[dto.Process](ctx, c, "/processes", q)
}

// GetProcess возвращает процесс.
func (c *Client) GetProcess(ctx context.Context, id string) (*dto.Process, error) {
	var out dto.Process
	if err := c.do(ctx, http.MethodGet, "/processes/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProcess регистрирует процесс.
func (c *Client) CreateProcess(ctx context.Context, in dto.CreateProcessRequest) (*dto.Process, error) {
	var out dto.Process
	if err := c.do(ctx, http.MethodPost, "/processes", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProcessStatus меняет статус процесса.
func (c *Client) UpdateProcessStatus(ctx context.Context, id, status string) (*dto.Process, error) {
	var out dto.Process
	body := dto.UpdateStatusRequest{Status: status}
	if err := c.do(ctx, http.MethodPatch, "/processes/"+url.PathEscape(id)+"/status", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProcess удаляет процесс без заявок.
func (c *Client) DeleteProcess(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/processes/"+url.PathEscape(id), nil, nil, nil)
}

// Availability возвращает сводку по строкам процесса.
func (c *Client) Availability(ctx context.Context, id string) (*dto.Availability, error) {
	var out dto.Availability
	if err := c.do(ctx, http.MethodGet, "/processes/"+url.PathEscape(id)+"/availability", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAutomation возвращает настройки инструмента и дневные отчёты.
func (c *Client) GetAutomation(ctx context.Context, processID string) (*dto.Automation, error) {
	var out dto.Automation
	if err := c.do(ctx, http.MethodGet, "/processes/"+url.PathEscape(processID)+"/automation", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordAutomationEntry записывает дневной отчёт инструмента.
func (c *Client) RecordAutomationEntry(ctx context.Context, processID string, date time.Time, completed int64) (*dto.AutomationRecord, error) {
	var out dto.AutomationRecord
	body := dto.RecordEntryRequest{Date: openapi_types.Date{Time: date}, CompletedCount: completed}
	if err := c.do(ctx, http.MethodPost, "/processes/"+url.PathEscape(processID)+"/automation/entries", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Заявки ---

// ListRequests возвращает страницу заявок.
func (c *Client) ListRequests(ctx context.Context, f RequestFilter) (*dto.List[dto.Request], error) {
	q := f.values()
	setIf(q, "process_id", f.ProcessID)
	setIf(q, "user_id", f.UserID)
	setIf(q, "status", f.Status)
	return getList[dto.Request](ctx, c, "/requests", q)
}

// GetRequest возвращает заявку.
func (c *Client) GetRequest(ctx context.Context, id string) (*dto.Request, error) {
	var out dto.Request
	if err := c.do(ctx, http.MethodGet, "/requests/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestHistory возвращает аудит заявки.
func (c *Client) RequestHistory(ctx context.Context, id string, opts PageOptions) (*dto.List[dto.RequestEvent], error) {
	return getList[dto.RequestEvent](ctx, c, "/requests/"+url.PathEscape(id)+"/history", opts.values())
}

// CreateRequest создаёт заявку на count строк процесса.
func (c *Client) CreateRequest(ctx context.Context, processID string, count int64) (*dto.Request, error) {
	var out dto.Request
	body := dto.CreateRequestRequest{ProcessID: processID, Count: count}
	if err := c.do(ctx, http.MethodPost, "/requests", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) action(ctx context.Context, id, name string, body any) (*dto.Request, error) {
	var out dto.Request
	if err := c.do(ctx, http.MethodPost, "/requests/"+url.PathEscape(id)+"/"+name, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve назначает строки по заявке.
func (c *Client) Approve(ctx context.Context, id string) (*dto.Request, error) {
	return c.action(ctx, id, "approve", nil)
}

// Withdraw отзывает заявку в статусе pending.
func (c *Client) Withdraw(ctx context.Context, id string) (*dto.Request, error) {
	return c.action(ctx, id, "withdraw", nil)
}

// Start переводит заявку в работу.
func (c *Client) Start(ctx context.Context, id string) (*dto.Request, error) {
	return c.action(ctx, id, "start", nil)
}

// Complete отмечает обработку завершённой.
func (c *Client) Complete(ctx context.Context, id string) (*dto.Request, error) {
	return c.action(ctx, id, "complete", nil)
}

// Submit отправляет результат на проверку.
func (c *Client) Submit(ctx context.Context, id, uploadRef string) (*dto.Request, error) {
	return c.action(ctx, id, "submit", dto.SubmitRequest{UploadRef: uploadRef})
}

// Review принимает или отклоняет результат.
func (c *Client) Review(ctx context.Context, id string, in dto.ReviewRequest) (*dto.Request, error) {
	return c.action(ctx, id, "review", in)
}

// Reassign передаёт заявку другому исполнителю.
func (c *Client) Reassign(ctx context.Context, id, userID, username string) (*dto.Request, error) {
	return c.action(ctx, id, "reassign", dto.ReassignRequest{UserID: userID, Username: username})
}

// Requeue возвращает отклонённую заявку в очередь.
func (c *Client) Requeue(ctx context.Context, id string) (*dto.Request, error) {
	return c.action(ctx, id, "requeue", nil)
}
