package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/ledger"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/rbac"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/events"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository/memory"
)

var (
	adminActor   = model.Actor{UserID: "u-admin", Username: "admin", Role: rbac.RoleAdmin}
	managerActor = model.Actor{UserID: "u-pm", Username: "pm", Role: rbac.RoleProjectManager}
	alice        = model.Actor{UserID: "u-alice", Username: "alice", Role: rbac.RoleWorker}
	bob          = model.Actor{UserID: "u-bob", Username: "bob", Role: rbac.RoleWorker}
)

// mockUploads - mock UploadChecker с полями-функциями.
type mockUploads struct {
	existsFn func(ctx context.Context, ref string) (bool, error)
}

func (m *mockUploads) Exists(ctx context.Context, ref string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, ref)
	}
	return true, nil
}

// testEnv - сервисы поверх in-memory хранилища.
type testEnv struct {
	store      *memory.Store
	recorder   *events.Recorder
	uploads    *mockUploads
	projects   *ProjectService
	registry   *ProcessRegistry
	allocator  *Allocator
	queue      *RequestQueue
	gate       *VerificationGate
	automation *AutomationTracker
	overrides  *RoleOverrideService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	rec := events.NewRecorder(1000)
	uploads := &mockUploads{}
	alloc := NewAllocator(store, rec, logger)

	return &testEnv{
		store:      store,
		recorder:   rec,
		uploads:    uploads,
		projects:   NewProjectService(store, logger),
		registry:   NewProcessRegistry(store, rec, logger),
		allocator:  alloc,
		queue:      NewRequestQueue(store, alloc, uploads, rec, logger),
		gate:       NewVerificationGate(store, rec, logger),
		automation: NewAutomationTracker(store, rec, logger),
		overrides:  NewRoleOverrideService(store, logger),
	}
}

func (e *testEnv) project(t *testing.T, name string) *model.Project {
	t.Helper()
	p, err := e.projects.Create(context.Background(), managerActor, name, nil)
	require.NoError(t, err)
	return p
}

func (e *testEnv) manualProcess(t *testing.T, total, header int64) *model.FileProcess {
	t.Helper()
	proj := e.project(t, "proj-"+uuid.NewString()[:8])
	ref := "s3://datasets/input.csv"
	p, err := e.registry.Create(context.Background(), managerActor, CreateProcessInput{
		Name:       "manual",
		Project:    proj.ID,
		Type:       model.ProcessTypeManual,
		TotalRows:  total,
		HeaderRows: header,
		FileRef:    &ref,
		Status:     model.ProcessActive,
	})
	require.NoError(t, err)
	e.recorder.Types()
	return p
}

func (e *testEnv) automationProcess(t *testing.T, total, target int64) *model.FileProcess {
	t.Helper()
	proj := e.project(t, "auto-"+uuid.NewString()[:8])
	tool := "ocr-bot"
	p, err := e.registry.Create(context.Background(), managerActor, CreateProcessInput{
		Name:        "automation",
		Project:     proj.Name,
		Type:        model.ProcessTypeAutomation,
		TotalRows:   total,
		DailyTarget: &target,
		ToolName:    &tool,
		Status:      model.ProcessActive,
	})
	require.NoError(t, err)
	e.recorder.Types()
	return p
}

// assigned создаёт заявку работника и назначает её.
func (e *testEnv) assigned(t *testing.T, processID string, worker model.Actor, n int64) *model.FileRequest {
	t.Helper()
	ctx := context.Background()
	req, err := e.queue.Create(ctx, worker, processID, n)
	require.NoError(t, err)
	req, err = e.queue.Assign(ctx, managerActor, req.ID)
	require.NoError(t, err)
	return req
}

// submitted проводит заявку до pending_verification.
func (e *testEnv) submitted(t *testing.T, processID string, worker model.Actor, n int64) *model.FileRequest {
	t.Helper()
	ctx := context.Background()
	req := e.assigned(t, processID, worker, n)
	_, err := e.queue.Start(ctx, worker, req.ID)
	require.NoError(t, err)
	req, err = e.queue.Submit(ctx, worker, req.ID, "results/"+req.ID+".csv")
	require.NoError(t, err)
	return req
}

func (e *testEnv) process(t *testing.T, id string) *model.FileProcess {
	t.Helper()
	p, err := e.registry.Get(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, ledger.Check(p))
	return p
}

func rangeOf(t *testing.T, r *model.FileRequest) model.RowRange {
	t.Helper()
	rng, ok := r.Range()
	require.True(t, ok, "заявка %s без диапазона", r.ID)
	return rng
}
