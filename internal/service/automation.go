package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/ledger"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/workflow"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/events"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

// AutomationLedger - процесс, его настройки и дневные отчёты.
type AutomationLedger struct {
	Process *model.FileProcess
	Config  *model.AutomationConfig
	Entries []*model.AutomationEntry
}

// AutomationTracker - учёт прогресса automation-процессов по дням.
type AutomationTracker struct {
	store  repository.Store
	notify notifier
	logger *slog.Logger
}

// NewAutomationTracker создаёт AutomationTracker.
func NewAutomationTracker(store repository.Store, publisher EventPublisher, logger *slog.Logger) *AutomationTracker {
	logger = logger.With(slog.String("component", "automation_tracker"))
	return &AutomationTracker{
		store:  store,
		notify: notifier{publisher: publisher, logger: logger},
		logger: logger,
	}
}

// RecordDailyCompletion записывает количество строк, обработанных
// инструментом за дату. Повторный отчёт за ту же дату заменяет прежний:
// к счётчикам применяется разница, а не сумма.
func (t *AutomationTracker) RecordDailyCompletion(ctx context.Context, actor model.Actor, processID string,
	date time.Time, count int64) (*model.AutomationEntry, *model.FileProcess, error) {
	if err := requireManager(actor, "запись отчёта automation"); err != nil {
		return nil, nil, err
	}
	if count < 0 {
		return nil, nil, fmt.Errorf("%w: completed_count не может быть отрицательным", ErrValidation)
	}
	if date.IsZero() {
		return nil, nil, fmt.Errorf("%w: дата отчёта обязательна", ErrValidation)
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	var (
		entry *model.AutomationEntry
		p     *model.FileProcess
		delta int64
		evs   []events.Event
	)
	err := t.store.RunInTx(ctx, func(r *repository.Repositories) error {
		var err error
		p, err = r.Processes.GetForUpdate(ctx, processID)
		if err != nil {
			return mapRepoError(err, "процесс "+processID)
		}
		if !workflow.CanRecordAutomation(p) {
			return fmt.Errorf("%w: процесс %s (%s, %s)", ErrProcessNotUpdatable, p.ID, p.Type, p.Status)
		}

		var old int64
		prev, err := r.Automation.GetEntry(ctx, p.ID, day)
		switch {
		case err == nil:
			old = prev.CompletedCount
		case errors.Is(err, repository.ErrNotFound):
		default:
			return err
		}

		if err := ledger.ApplyAutomationDelta(p, old, count); err != nil {
			return mapLedgerError(err)
		}
		if err := ledger.Check(p); err != nil {
			return err
		}
		delta = count - old

		entry = &model.AutomationEntry{ProcessID: p.ID, Date: day, CompletedCount: count}
		if err := r.Automation.UpsertEntry(ctx, entry); err != nil {
			return err
		}

		cfg, err := r.Automation.GetConfig(ctx, p.ID)
		if err != nil {
			return mapRepoError(err, "настройки automation "+p.ID)
		}
		now := utcNow()
		cfg.LastUpdatedAt = &now
		if err := r.Automation.UpdateConfig(ctx, cfg); err != nil {
			return err
		}

		if p.Status == model.ProcessActive {
			if _, err := setProcessStatus(ctx, r, p, model.ProcessInProgress, actor.Username, model.ReasonFirstRecord); err != nil {
				return err
			}
			evs = append(evs, events.New(events.ProcessStatusChanged, actor.Username, p.ID).
				With("from_status", string(model.ProcessActive)).
				With("to_status", string(model.ProcessInProgress)))
		}

		done, err := autoComplete(ctx, r, p)
		if err != nil {
			return err
		}
		evs = append(evs, done...)

		return r.Processes.Update(ctx, p)
	})
	if err != nil {
		return nil, nil, err
	}

	automationRecordsTotal.Inc()
	t.logger.Info("Отчёт automation записан",
		slog.String("process_id", p.ID),
		slog.String("date", day.Format(time.DateOnly)),
		slog.Int64("completed_count", count),
		slog.Int64("delta", delta),
		slog.Int64("available_rows", p.AvailableRows),
	)
	t.notify.publish(ctx, append([]events.Event{
		events.New(events.AutomationRecorded, actor.Username, p.ID).
			With("date", day.Format(time.DateOnly)).
			With("completed_count", count).
			With("delta", delta),
	}, evs...))
	return entry, p, nil
}

// Get возвращает процесс, его настройки и отчёты по возрастанию даты.
func (t *AutomationTracker) Get(ctx context.Context, processID string) (*AutomationLedger, error) {
	repos := t.store.Repos()

	p, err := repos.Processes.GetByID(ctx, processID)
	if err != nil {
		return nil, mapRepoError(err, "процесс "+processID)
	}
	if p.Type != model.ProcessTypeAutomation {
		return nil, fmt.Errorf("%w: процесс %s не является automation-процессом", ErrValidation, p.ID)
	}

	cfg, err := repos.Automation.GetConfig(ctx, processID)
	if err != nil {
		return nil, mapRepoError(err, "настройки automation "+processID)
	}
	entries, err := repos.Automation.ListEntries(ctx, processID)
	if err != nil {
		return nil, err
	}

	return &AutomationLedger{Process: p, Config: cfg, Entries: entries}, nil
}

// Entries возвращает дневные отчёты по возрастанию даты.
func (t *AutomationTracker) Entries(ctx context.Context, processID string) ([]*model.AutomationEntry, error) {
	l, err := t.Get(ctx, processID)
	if err != nil {
		return nil, err
	}
	return l.Entries, nil
}

// Configure меняет инструмент и дневной план. nil - без изменений.
func (t *AutomationTracker) Configure(ctx context.Context, actor model.Actor, processID string,
	toolName *string, dailyTarget *int64) (*AutomationLedger, error) {
	if err := requireManager(actor, "настройка automation"); err != nil {
		return nil, err
	}

	err := t.store.RunInTx(ctx, func(r *repository.Repositories) error {
		p, err := r.Processes.GetForUpdate(ctx, processID)
		if err != nil {
			return mapRepoError(err, "процесс "+processID)
		}
		if p.Type != model.ProcessTypeAutomation {
			return fmt.Errorf("%w: процесс %s не является automation-процессом", ErrValidation, p.ID)
		}

		if toolName != nil {
			if err := updateToolName(ctx, r, p, *toolName); err != nil {
				return err
			}
		}
		if dailyTarget != nil {
			if *dailyTarget <= 0 {
				return fmt.Errorf("%w: daily_target должен быть больше нуля", ErrValidation)
			}
			target := *dailyTarget
			p.DailyTarget = &target
			return r.Processes.Update(ctx, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("Настройки automation обновлены",
		slog.String("process_id", processID),
		slog.String("actor", actor.Username),
	)
	return t.Get(ctx, processID)
}
