package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/rbac"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/events"
)

func ptr[T any](v T) *T { return &v }

func TestProcessRegistryCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	proj := env.project(t, "Claims")

	valid := func() CreateProcessInput {
		return CreateProcessInput{
			Name:      "Batch 1",
			Project:   proj.ID,
			Type:      model.ProcessTypeManual,
			TotalRows: 100,
			FileRef:   ptr("s3://datasets/batch1.csv"),
		}
	}

	tests := []struct {
		name   string
		modify func(in *CreateProcessInput)
	}{
		{"пустое имя", func(in *CreateProcessInput) { in.Name = "  " }},
		{"total равен header", func(in *CreateProcessInput) { in.HeaderRows = 100 }},
		{"total меньше header", func(in *CreateProcessInput) { in.TotalRows = 5; in.HeaderRows = 10 }},
		{"отрицательный header", func(in *CreateProcessInput) { in.HeaderRows = -1 }},
		{"неизвестный тип", func(in *CreateProcessInput) { in.Type = "batch" }},
		{"manual без file_ref", func(in *CreateProcessInput) { in.FileRef = nil }},
		{"manual с daily_target", func(in *CreateProcessInput) { in.DailyTarget = ptr(int64(10)) }},
		{"automation без daily_target", func(in *CreateProcessInput) {
			in.Type = model.ProcessTypeAutomation
			in.ToolName = ptr("bot")
		}},
		{"automation без tool_name", func(in *CreateProcessInput) {
			in.Type = model.ProcessTypeAutomation
			in.DailyTarget = ptr(int64(10))
		}},
		{"automation с нулевым планом", func(in *CreateProcessInput) {
			in.Type = model.ProcessTypeAutomation
			in.DailyTarget = ptr(int64(0))
			in.ToolName = ptr("bot")
		}},
		{"несуществующий проект", func(in *CreateProcessInput) { in.Project = "nope" }},
		{"пустой проект", func(in *CreateProcessInput) { in.Project = "" }},
		{"начальный статус completed", func(in *CreateProcessInput) { in.Status = model.ProcessCompleted }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.modify(&in)
			_, err := env.registry.Create(context.Background(), managerActor, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	t.Run("валидный ввод", func(t *testing.T) {
		p, err := env.registry.Create(context.Background(), managerActor, valid())
		require.NoError(t, err)
		assert.Equal(t, model.ProcessPending, p.Status)
	})
}

func TestProcessRegistryCreateInitialisesLedger(t *testing.T) {
	env := newTestEnv(t)
	proj := env.project(t, "Claims")

	p, err := env.registry.Create(context.Background(), adminActor, CreateProcessInput{
		Name:       "With header",
		Project:    "Claims",
		Type:       model.ProcessTypeManual,
		TotalRows:  1001,
		HeaderRows: 1,
		FileRef:    ptr("batch.csv"),
	})
	require.NoError(t, err)

	assert.Equal(t, proj.ID, p.ProjectID, "проект найден по имени")
	assert.Equal(t, int64(1000), p.AvailableRows)
	assert.Equal(t, int64(1), p.HighWaterRow)
	assert.Equal(t, "admin", p.CreatedBy)

	evs, err := env.registry.Events(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, model.ReasonCreated, evs[0].Reason)
	assert.Equal(t, model.ProcessPending, evs[0].ToStatus)

	assert.Equal(t, []string{events.ProcessCreated}, env.recorder.Types())
}

func TestProcessRegistryCreateAutomationConfig(t *testing.T) {
	env := newTestEnv(t)
	p := env.automationProcess(t, 10000, 5000)

	l, err := env.automation.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ocr-bot", l.Config.ToolName)
	assert.Nil(t, l.Config.LastUpdatedAt)
	require.NotNil(t, l.Process.DailyTarget)
	assert.Equal(t, int64(5000), *l.Process.DailyTarget)
	assert.Empty(t, l.Entries)
}

func TestProcessRegistryForbiddenForWorker(t *testing.T) {
	env := newTestEnv(t)
	env.project(t, "Claims")

	_, err := env.registry.Create(context.Background(), alice, CreateProcessInput{Name: "x"})

	var fe *ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, rbac.RoleWorker, fe.Role)
	assert.Equal(t, rbac.RoleProjectManager, fe.Required)
}

func TestProcessRegistryUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.manualProcess(t, 100, 0)

	for _, st := range []model.ProcessStatus{model.ProcessPaused, model.ProcessInProgress, model.ProcessPending, model.ProcessActive} {
		got, err := env.registry.UpdateStatus(ctx, managerActor, p.ID, st)
		require.NoError(t, err, "переход в %s", st)
		assert.Equal(t, st, got.Status)
	}

	_, err := env.registry.UpdateStatus(ctx, managerActor, p.ID, model.ProcessCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition, "available > 0")

	_, err = env.registry.UpdateStatus(ctx, managerActor, p.ID, "archived")
	assert.ErrorIs(t, err, ErrValidation)

	// тот же статус - без записи в журнал
	_, err = env.registry.UpdateStatus(ctx, managerActor, p.ID, model.ProcessActive)
	require.NoError(t, err)

	evs, err := env.registry.Events(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, evs, 5)
	assert.Equal(t, model.ProcessPaused, evs[1].ToStatus)
	assert.Equal(t, model.ProcessActive, evs[1].FromStatus)
	assert.Equal(t, "pm", evs[1].Actor)
}

func TestProcessRegistryCompletedIsTerminalForManualChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.manualProcess(t, 10, 0)

	_, err := env.allocator.Allocate(ctx, p.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessCompleted, env.process(t, p.ID).Status)

	_, err = env.registry.UpdateStatus(ctx, adminActor, p.ID, model.ProcessActive)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestProcessRegistryAvailability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.manualProcess(t, 101, 1)

	env.submitted(t, p.ID, alice, 30)
	req := env.submitted(t, p.ID, bob, 20)
	_, err := env.gate.Review(ctx, managerActor, req.ID, ReviewInput{Decision: DecisionApprove})
	require.NoError(t, err)

	a, err := env.registry.GetAvailability(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), a.AvailableRows)
	assert.Equal(t, int64(30), a.AllocatedRows)
	assert.Equal(t, int64(20), a.ProcessedRows)
	assert.Equal(t, int64(50), a.CommittedRows)
	assert.Equal(t, a.TotalRows-a.HeaderRows, a.AvailableRows+a.CommittedRows)
	assert.Equal(t, int64(50), a.MaxContiguous)

	_, err = env.registry.GetAvailability(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcessRegistryUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	manual := env.manualProcess(t, 100, 0)
	auto := env.automationProcess(t, 100, 10)

	got, err := env.registry.Update(ctx, managerActor, manual.ID, UpdateProcessInput{
		Name:    ptr("Renamed"),
		FileRef: ptr("s3://datasets/v2.csv"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "s3://datasets/v2.csv", *got.FileRef)

	_, err = env.registry.Update(ctx, managerActor, manual.ID, UpdateProcessInput{FileRef: ptr(" ")})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.registry.Update(ctx, managerActor, manual.ID, UpdateProcessInput{DailyTarget: ptr(int64(5))})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.registry.Update(ctx, managerActor, manual.ID, UpdateProcessInput{ToolName: ptr("bot")})
	assert.ErrorIs(t, err, ErrValidation)

	got, err = env.registry.Update(ctx, managerActor, auto.ID, UpdateProcessInput{
		DailyTarget: ptr(int64(20)),
		ToolName:    ptr("ocr-bot-v2"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), *got.DailyTarget)

	l, err := env.automation.Get(ctx, auto.ID)
	require.NoError(t, err)
	assert.Equal(t, "ocr-bot-v2", l.Config.ToolName)

	// неудачное обновление не меняет процесс
	assert.Equal(t, "Renamed", env.process(t, manual.ID).Name)
}

func TestProcessRegistryDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.manualProcess(t, 100, 0)

	req, err := env.queue.Create(ctx, alice, p.ID, 10)
	require.NoError(t, err)

	err = env.registry.Delete(ctx, managerActor, p.ID)
	assert.ErrorIs(t, err, ErrConflict, "открытая заявка блокирует удаление")

	_, err = env.queue.Withdraw(ctx, alice, req.ID)
	require.NoError(t, err)

	require.NoError(t, env.registry.Delete(ctx, managerActor, p.ID))

	_, err = env.registry.Get(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	items, total, err := env.registry.List(ctx, model.ProcessFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, total)

	assert.ErrorIs(t, env.registry.Delete(ctx, managerActor, p.ID), ErrNotFound)
}

func TestProcessRegistryList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.manualProcess(t, 100, 0)
	env.manualProcess(t, 100, 0)
	auto := env.automationProcess(t, 100, 10)

	typ := model.ProcessTypeAutomation
	items, total, err := env.registry.List(ctx, model.ProcessFilters{Type: &typ}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, auto.ID, items[0].ID)

	items, total, err = env.registry.List(ctx, model.ProcessFilters{}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 2)

	pid := auto.ProjectID
	_, total, err = env.registry.List(ctx, model.ProcessFilters{ProjectID: &pid}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
