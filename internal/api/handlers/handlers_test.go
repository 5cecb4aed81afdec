package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/middleware"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/validation"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/rbac"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository/memory"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/service"
)

var (
	admin   = model.Actor{UserID: "u-admin", Username: "root", Role: rbac.RoleAdmin}
	manager = model.Actor{UserID: "u-pm", Username: "pm", Role: rbac.RoleProjectManager}
	alice   = model.Actor{UserID: "u-alice", Username: "alice", Role: rbac.RoleWorker}
	bob     = model.Actor{UserID: "u-bob", Username: "bob", Role: rbac.RoleWorker}
)

// actorHeader - заголовок, через который тесты подставляют инициатора
// вместо JWT: "user_id|username|role".
const actorHeader = "X-Test-Actor"

func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Header.Get(actorHeader); v != "" {
			parts := strings.SplitN(v, "|", 3)
			r = r.WithContext(middleware.WithActor(r.Context(), model.Actor{
				UserID: parts[0], Username: parts[1], Role: parts[2],
			}))
		}
		next.ServeHTTP(w, r)
	})
}

type testAPI struct {
	t      *testing.T
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	alloc := service.NewAllocator(store, nil, logger)

	h := NewAPIHandler(
		NewHealthHandler(ReadinessFunc(func() (string, string) { return "ok", "memory" }), nil),
		Services{
			Projects:      service.NewProjectService(store, logger),
			Processes:     service.NewProcessRegistry(store, nil, logger),
			Requests:      service.NewRequestQueue(store, alloc, nil, nil, logger),
			Verification:  service.NewVerificationGate(store, nil, logger),
			Automation:    service.NewAutomationTracker(store, nil, logger),
			RoleOverrides: service.NewRoleOverrideService(store, logger),
		},
		logger,
	)

	v, err := validation.New(logger)
	require.NoError(t, err)

	r := chi.NewRouter()
	h.RegisterPublic(r)
	r.Group(func(r chi.Router) {
		r.Use(fakeAuth)
		r.Use(v.Middleware())
		h.RegisterAPI(r)
	})
	return &testAPI{t: t, router: r}
}

// call выполняет запрос и декодирует ответ в out (если не nil).
func (a *testAPI) call(actor *model.Actor, method, path string, body any, out any) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != nil {
		req.Header.Set(actorHeader, actor.UserID+"|"+actor.Username+"|"+actor.Role)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

type errorResp struct {
	Error struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Role     string `json:"role"`
		Required string `json:"required"`
	} `json:"error"`
}

type processResp struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	AvailableRows int64  `json:"available_rows"`
	AllocatedRows int64  `json:"allocated_rows"`
	ProcessedRows int64  `json:"processed_rows"`
}

type requestResp struct {
	ID             string   `json:"id"`
	Status         string   `json:"status"`
	StartRow       *int64   `json:"start_row"`
	EndRow         *int64   `json:"end_row"`
	AllowedActions []string `json:"allowed_actions"`
}

// setupProcess создаёт проект и активный manual-процесс.
func (a *testAPI) setupProcess(total, header int64) processResp {
	a.t.Helper()
	var proj struct {
		ID string `json:"id"`
	}
	rec := a.call(&manager, http.MethodPost, "/api/v1/projects", map[string]any{"name": "Claims 2024"}, &proj)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())

	var p processResp
	rec = a.call(&manager, http.MethodPost, "/api/v1/processes", map[string]any{
		"name":        "claims-batch-1",
		"project":     proj.ID,
		"type":        "manual",
		"file_ref":    "s3://datasets/claims-batch-1.csv",
		"total_rows":  total,
		"header_rows": header,
		"status":      "active",
	}, &p)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return p
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.call(nil, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Keycloak checker не задан → fail
	var ready struct {
		Status string `json:"status"`
	}
	rec = api.call(nil, http.MethodGet, "/health/ready", nil, &ready)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "fail", ready.Status)
}

func TestOverallStatus(t *testing.T) {
	assert.Equal(t, "ok", overallStatus("ok", "ok"))
	assert.Equal(t, "degraded", overallStatus("ok", "degraded"))
	assert.Equal(t, "fail", overallStatus("degraded", "fail"))
}

func TestGetMe(t *testing.T) {
	api := newTestAPI(t)

	var me struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	rec := api.call(&alice, http.MethodGet, "/api/v1/me", nil, &me)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice.UserID, me.UserID)
	assert.Equal(t, rbac.RoleWorker, me.Role)

	rec = api.call(nil, http.MethodGet, "/api/v1/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	p := api.setupProcess(1001, 1)
	assert.Equal(t, int64(1000), p.AvailableRows)

	var req requestResp
	rec := api.call(&alice, http.MethodPost, "/api/v1/requests",
		map[string]any{"process_id": p.ID, "count": 300}, &req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", req.Status)
	assert.Equal(t, []string{"assign", "withdraw"}, req.AllowedActions)

	base := "/api/v1/requests/" + req.ID
	rec = api.call(&manager, http.MethodPost, base+"/approve", nil, &req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "assigned", req.Status)
	require.NotNil(t, req.StartRow)
	assert.Equal(t, int64(2), *req.StartRow)
	assert.Equal(t, int64(301), *req.EndRow)

	rec = api.call(&alice, http.MethodPost, base+"/start", nil, &req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in_progress", req.Status)

	rec = api.call(&alice, http.MethodPost, base+"/submit",
		map[string]any{"upload_ref": "s3://uploads/alice/batch1.csv"}, &req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "pending_verification", req.Status)

	rec = api.call(&manager, http.MethodPost, base+"/review",
		map[string]any{"decision": "approve"}, &req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "verified", req.Status)
	assert.Empty(t, req.AllowedActions)

	var got processResp
	rec = api.call(&alice, http.MethodGet, "/api/v1/processes/"+p.ID, nil, &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(700), got.AvailableRows)
	assert.Equal(t, int64(0), got.AllocatedRows)
	assert.Equal(t, int64(300), got.ProcessedRows)

	var history struct {
		Data []struct {
			ToStatus string `json:"to_status"`
		} `json:"data"`
		Total int `json:"total"`
	}
	rec = api.call(&alice, http.MethodGet, base+"/history", nil, &history)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, history.Total)
}

func TestInsufficientCapacityOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	p := api.setupProcess(100, 0)

	var req requestResp
	rec := api.call(&alice, http.MethodPost, "/api/v1/requests",
		map[string]any{"process_id": p.ID, "count": 80}, &req)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = api.call(&manager, http.MethodPost, "/api/v1/requests/"+req.ID+"/approve", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.call(&bob, http.MethodPost, "/api/v1/requests",
		map[string]any{"process_id": p.ID, "count": 30}, &req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var errBody errorResp
	rec = api.call(&manager, http.MethodPost, "/api/v1/requests/"+req.ID+"/approve", nil, &errBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INSUFFICIENT_CAPACITY", errBody.Error.Code)

	// Заявка осталась в очереди
	rec = api.call(&bob, http.MethodGet, "/api/v1/requests/"+req.ID, nil, &req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", req.Status)
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	p := api.setupProcess(100, 0)

	var req requestResp
	rec := api.call(&alice, http.MethodPost, "/api/v1/requests",
		map[string]any{"process_id": p.ID, "count": 10}, &req)
	require.Equal(t, http.StatusCreated, rec.Code)
	base := "/api/v1/requests/" + req.ID

	t.Run("worker cannot approve", func(t *testing.T) {
		var e errorResp
		rec := api.call(&bob, http.MethodPost, base+"/approve", nil, &e)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "FORBIDDEN", e.Error.Code)
		assert.Equal(t, rbac.RoleWorker, e.Error.Role)
		assert.Equal(t, rbac.RoleProjectManager, e.Error.Required)
	})

	t.Run("start before assign", func(t *testing.T) {
		var e errorResp
		rec := api.call(&alice, http.MethodPost, base+"/start", nil, &e)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "INVALID_TRANSITION", e.Error.Code)
	})

	t.Run("other worker cannot see request", func(t *testing.T) {
		rec := api.call(&bob, http.MethodGet, base, nil, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown request", func(t *testing.T) {
		var e errorResp
		rec := api.call(&manager, http.MethodGet, "/api/v1/requests/1b4e28ba-2fa1-11d2-883f-0016d3cca427", nil, &e)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", e.Error.Code)
	})

	t.Run("reject without notes", func(t *testing.T) {
		var e errorResp
		rec := api.call(&manager, http.MethodPost, base+"/review", map[string]any{"decision": "reject"}, &e)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", e.Error.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		var e errorResp
		rec := api.call(&alice, http.MethodPost, "/api/v1/requests", map[string]any{"count": 5}, &e)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", e.Error.Code)
	})

	t.Run("delete process with open requests", func(t *testing.T) {
		var e errorResp
		rec := api.call(&manager, http.MethodDelete, "/api/v1/processes/"+p.ID, nil, &e)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "CONFLICT", e.Error.Code)
	})

	t.Run("withdraw then delete", func(t *testing.T) {
		rec := api.call(&alice, http.MethodPost, base+"/withdraw", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = api.call(&manager, http.MethodDelete, "/api/v1/processes/"+p.ID, nil, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestListEnvelopeAndVisibility(t *testing.T) {
	api := newTestAPI(t)
	p := api.setupProcess(1000, 0)

	for _, w := range []model.Actor{alice, alice, bob} {
		rec := api.call(&w, http.MethodPost, "/api/v1/requests", map[string]any{"process_id": p.ID, "count": 10}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var list struct {
		Data    []requestResp `json:"data"`
		Total   int           `json:"total"`
		Page    int           `json:"page"`
		Limit   int           `json:"limit"`
		HasMore bool          `json:"has_more"`
	}
	rec := api.call(&manager, http.MethodGet, "/api/v1/requests?limit=2&page=1", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, list.Total)
	assert.Len(t, list.Data, 2)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, 2, list.Limit)
	assert.True(t, list.HasMore)

	rec = api.call(&manager, http.MethodGet, "/api/v1/requests?limit=2&page=2", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, list.Data, 1)
	assert.Equal(t, 2, list.Page)
	assert.False(t, list.HasMore)

	rec = api.call(&alice, http.MethodGet, "/api/v1/requests", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, list.Total)

	rec = api.call(&alice, http.MethodGet, "/api/v1/requests?user_id="+bob.UserID, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAutomationOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	var proj struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusCreated,
		api.call(&manager, http.MethodPost, "/api/v1/projects", map[string]any{"name": "OCR"}, &proj).Code)

	var p processResp
	rec := api.call(&manager, http.MethodPost, "/api/v1/processes", map[string]any{
		"name":         "ocr-run",
		"project":      "OCR",
		"type":         "automation",
		"total_rows":   10000,
		"daily_target": 5000,
		"tool_name":    "ocr-bot",
		"status":       "active",
	}, &p)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	entries := "/api/v1/processes/" + p.ID + "/automation/entries"
	var out struct {
		Entry struct {
			Date           string `json:"date"`
			CompletedCount int64  `json:"completed_count"`
		} `json:"entry"`
		Process processResp `json:"process"`
	}
	rec = api.call(&manager, http.MethodPost, entries, map[string]any{"date": "2024-03-01", "completed_count": 5000}, &out)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-03-01", out.Entry.Date)
	assert.Equal(t, int64(5000), out.Process.ProcessedRows)
	assert.Equal(t, "in_progress", out.Process.Status)

	// Исправление за ту же дату применяет разницу
	rec = api.call(&manager, http.MethodPost, entries, map[string]any{"date": "2024-03-01", "completed_count": 4800}, &out)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(4800), out.Process.ProcessedRows)
	assert.Equal(t, int64(5200), out.Process.AvailableRows)

	var ledger struct {
		ToolName string `json:"tool_name"`
		Entries  []struct {
			Date string `json:"date"`
		} `json:"entries"`
	}
	rec = api.call(&alice, http.MethodGet, "/api/v1/processes/"+p.ID+"/automation", nil, &ledger)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ocr-bot", ledger.ToolName)
	assert.Len(t, ledger.Entries, 1)

	var e errorResp
	rec = api.call(&alice, http.MethodPost, entries, map[string]any{"date": "2024-03-02", "completed_count": 10}, &e)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoleOverridesAdminOnly(t *testing.T) {
	api := newTestAPI(t)

	var e errorResp
	rec := api.call(&manager, http.MethodGet, "/api/v1/role-overrides", nil, &e)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, rbac.RoleAdmin, e.Error.Required)

	var ro struct {
		UserID         string `json:"user_id"`
		AdditionalRole string `json:"additional_role"`
	}
	rec = api.call(&admin, http.MethodPut, "/api/v1/role-overrides/"+alice.UserID,
		map[string]any{"username": "alice", "role": "project_manager"}, &ro)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, rbac.RoleProjectManager, ro.AdditionalRole)

	var list struct {
		Total int `json:"total"`
	}
	rec = api.call(&admin, http.MethodGet, "/api/v1/role-overrides", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, list.Total)

	rec = api.call(&admin, http.MethodDelete, "/api/v1/role-overrides/"+alice.UserID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.call(&admin, http.MethodDelete, "/api/v1/role-overrides/"+alice.UserID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaginationDefaults(t *testing.T) {
	ip := func(v int) *int { return &v }
	tests := []struct {
		name       string
		in         pageParams
		wantLimit  int
		wantOffset int
	}{
		{"defaults", pageParams{}, 50, 0},
		{"page", pageParams{Page: ip(3), Limit: ip(20)}, 20, 40},
		{"offset wins", pageParams{Page: ip(3), Limit: ip(20), Offset: ip(5)}, 20, 5},
		{"clamped", pageParams{Limit: ip(10000), Offset: ip(-1)}, 500, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, o := paginationDefaults(tt.in)
			assert.Equal(t, tt.wantLimit, l)
			assert.Equal(t, tt.wantOffset, o)
		})
	}
}

func TestProcessStatusAndJournalOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	p := api.setupProcess(11, 1)
	base := "/api/v1/processes/" + p.ID

	var e errorResp
	rec := api.call(&manager, http.MethodPatch, base+"/status", map[string]any{"status": "completed"}, &e)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", e.Error.Code)

	rec = api.call(&alice, http.MethodPatch, base+"/status", map[string]any{"status": "paused"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var got processResp
	rec = api.call(&manager, http.MethodPatch, base+"/status", map[string]any{"status": "paused"}, &got)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paused", got.Status)

	var journal struct {
		Data []struct {
			ToStatus string `json:"to_status"`
			Reason   string `json:"reason"`
		} `json:"data"`
		Total int `json:"total"`
	}
	rec = api.call(&alice, http.MethodGet, base+"/events", nil, &journal)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, journal.Data, 2)
	assert.Equal(t, "created", journal.Data[0].Reason)
	assert.Equal(t, "paused", journal.Data[1].ToStatus)
	assert.Equal(t, "manual", journal.Data[1].Reason)
}

func TestProjectGetAndUpdateOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	var proj struct {
		ID          string  `json:"id"`
		Name        string  `json:"name"`
		Description *string `json:"description"`
	}
	rec := api.call(&manager, http.MethodPost, "/api/v1/projects", map[string]any{"name": "Invoices"}, &proj)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	path := "/api/v1/projects/" + proj.ID
	rec = api.call(&alice, http.MethodPut, path, map[string]any{"name": "Hijack"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.call(&manager, http.MethodPut, path, map[string]any{"description": "Q3 batch"}, &proj)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.call(&alice, http.MethodGet, path, nil, &proj)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Invoices", proj.Name)
	require.NotNil(t, proj.Description)
	assert.Equal(t, "Q3 batch", *proj.Description)
}
