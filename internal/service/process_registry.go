package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/ledger"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/workflow"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/events"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

// CreateProcessInput - параметры создания процесса.
type CreateProcessInput struct {
	Name string
	// Project - ID или имя проекта
	Project     string
	Type        model.ProcessType
	TotalRows   int64
	HeaderRows  int64
	FileRef     *string
	DailyTarget *int64
	ToolName    *string
	// Status - начальный статус: pending (по умолчанию) или active
	Status model.ProcessStatus
}

// UpdateProcessInput - изменяемые поля процесса. nil - без изменений.
type UpdateProcessInput struct {
	Name        *string
	FileRef     *string
	DailyTarget *int64
	ToolName    *string
}

// Availability - снимок счётчиков процесса.
type Availability struct {
	ProcessID     string
	Status        model.ProcessStatus
	TotalRows     int64
	HeaderRows    int64
	AvailableRows int64
	AllocatedRows int64
	ProcessedRows int64
	CommittedRows int64
	// MaxContiguous - наибольший диапазон, который можно выдать одной заявке
	MaxContiguous int64
}

// ProcessRegistry - создание процессов и управление их статусом.
type ProcessRegistry struct {
	store  repository.Store
	notify notifier
	logger *slog.Logger
}

// NewProcessRegistry создаёт реестр процессов.
func NewProcessRegistry(store repository.Store, publisher EventPublisher, logger *slog.Logger) *ProcessRegistry {
	logger = logger.With(slog.String("component", "process_registry"))
	return &ProcessRegistry{
		store:  store,
		notify: notifier{publisher: publisher, logger: logger},
		logger: logger,
	}
}

// Create валидирует параметры и создаёт процесс.
// Для automation-процесса в той же транзакции создаются его настройки.
func (s *ProcessRegistry) Create(ctx context.Context, actor model.Actor, in CreateProcessInput) (*model.FileProcess, error) {
	if err := requireManager(actor, "создание процесса"); err != nil {
		return nil, err
	}

	p, toolName, err := buildProcess(in)
	if err != nil {
		return nil, err
	}
	p.CreatedBy = actor.Username

	err = s.store.RunInTx(ctx, func(r *repository.Repositories) error {
		project, err := resolveProject(ctx, r, in.Project)
		if err != nil {
			return err
		}
		p.ProjectID = project.ID

		if err := r.Processes.Create(ctx, p); err != nil {
			return mapRepoError(err, "процесс")
		}

		if p.Type == model.ProcessTypeAutomation {
			if err := r.Automation.CreateConfig(ctx, &model.AutomationConfig{
				ProcessID: p.ID,
				ToolName:  toolName,
			}); err != nil {
				return mapRepoError(err, "настройки automation")
			}
		}

		return r.Processes.AddEvent(ctx, &model.ProcessEvent{
			ID:        uuid.New().String(),
			ProcessID: p.ID,
			ToStatus:  p.Status,
			Actor:     actor.Username,
			Reason:    model.ReasonCreated,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Процесс создан",
		slog.String("id", p.ID),
		slog.String("name", p.Name),
		slog.String("type", string(p.Type)),
		slog.Int64("data_rows", p.DataRows()),
		slog.String("created_by", actor.Username),
	)
	s.notify.publish(ctx, []events.Event{
		events.New(events.ProcessCreated, actor.Username, p.ID).
			With("type", string(p.Type)).
			With("available_rows", p.AvailableRows),
	})
	return p, nil
}

// buildProcess проверяет входные данные и заполняет счётчики.
func buildProcess(in CreateProcessInput) (*model.FileProcess, string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, "", fmt.Errorf("%w: название процесса обязательно", ErrValidation)
	}

	ptype, err := workflow.ParseProcessType(string(in.Type))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrValidation, err)
	}

	if in.HeaderRows < 0 {
		return nil, "", fmt.Errorf("%w: header_rows не может быть отрицательным", ErrValidation)
	}
	if in.TotalRows <= in.HeaderRows {
		return nil, "", fmt.Errorf("%w: total_rows (%d) должен быть больше header_rows (%d)",
			ErrValidation, in.TotalRows, in.HeaderRows)
	}

	status := in.Status
	if status == "" {
		status = model.ProcessPending
	}
	if status != model.ProcessPending && status != model.ProcessActive {
		return nil, "", fmt.Errorf("%w: начальный статус - pending или active", ErrValidation)
	}

	p := &model.FileProcess{
		ID:         uuid.New().String(),
		Name:       name,
		Type:       ptype,
		Status:     status,
		TotalRows:  in.TotalRows,
		HeaderRows: in.HeaderRows,
		FileRef:    trimmed(in.FileRef),
	}

	var toolName string
	switch ptype {
	case model.ProcessTypeManual:
		if p.FileRef == nil {
			return nil, "", fmt.Errorf("%w: file_ref обязателен для manual-процесса", ErrValidation)
		}
		if in.DailyTarget != nil || trimmed(in.ToolName) != nil {
			return nil, "", fmt.Errorf("%w: daily_target и tool_name допустимы только для automation-процесса", ErrValidation)
		}
	case model.ProcessTypeAutomation:
		if in.DailyTarget == nil || *in.DailyTarget <= 0 {
			return nil, "", fmt.Errorf("%w: daily_target должен быть больше нуля", ErrValidation)
		}
		tool := trimmed(in.ToolName)
		if tool == nil {
			return nil, "", fmt.Errorf("%w: tool_name обязателен для automation-процесса", ErrValidation)
		}
		target := *in.DailyTarget
		p.DailyTarget = &target
		toolName = *tool
	}

	ledger.Init(p)
	return p, toolName, nil
}

// Get возвращает процесс по ID.
func (s *ProcessRegistry) Get(ctx context.Context, id string) (*model.FileProcess, error) {
	p, err := s.store.Repos().Processes.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "процесс "+id)
	}
	return p, nil
}

// List возвращает процессы по фильтрам и общее количество.
func (s *ProcessRegistry) List(ctx context.Context, filters model.ProcessFilters, limit, offset int) ([]*model.FileProcess, int, error) {
	limit, offset = clampPage(limit, offset)
	repos := s.store.Repos()

	items, err := repos.Processes.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := repos.Processes.Count(ctx, filters)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update изменяет описательные поля процесса.
func (s *ProcessRegistry) Update(ctx context.Context, actor model.Actor, id string, in UpdateProcessInput) (*model.FileProcess, error) {
	if err := requireManager(actor, "изменение процесса"); err != nil {
		return nil, err
	}

	var p *model.FileProcess
	err := s.store.RunInTx(ctx, func(r *repository.Repositories) error {
		var err error
		p, err = r.Processes.GetForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err, "процесс "+id)
		}

		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return fmt.Errorf("%w: название процесса не может быть пустым", ErrValidation)
			}
			p.Name = name
		}

		if in.FileRef != nil {
			ref := trimmed(in.FileRef)
			if ref == nil && p.Type == model.ProcessTypeManual {
				return fmt.Errorf("%w: file_ref обязателен для manual-процесса", ErrValidation)
			}
			p.FileRef = ref
		}

		if in.DailyTarget != nil {
			if p.Type != model.ProcessTypeAutomation {
				return fmt.Errorf("%w: daily_target допустим только для automation-процесса", ErrValidation)
			}
			if *in.DailyTarget <= 0 {
				return fmt.Errorf("%w: daily_target должен быть больше нуля", ErrValidation)
			}
			target := *in.DailyTarget
			p.DailyTarget = &target
		}

		if in.ToolName != nil {
			if err := updateToolName(ctx, r, p, *in.ToolName); err != nil {
				return err
			}
		}

		return r.Processes.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Процесс обновлён",
		slog.String("id", p.ID),
		slog.String("updated_by", actor.Username),
	)
	return p, nil
}

// updateToolName меняет инструмент automation-процесса.
func updateToolName(ctx context.Context, r *repository.Repositories, p *model.FileProcess, name string) error {
	if p.Type != model.ProcessTypeAutomation {
		return fmt.Errorf("%w: tool_name допустим только для automation-процесса", ErrValidation)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: tool_name не может быть пустым", ErrValidation)
	}
	cfg, err := r.Automation.GetConfig(ctx, p.ID)
	if err != nil {
		return mapRepoError(err, "настройки automation "+p.ID)
	}
	cfg.ToolName = name
	return r.Automation.UpdateConfig(ctx, cfg)
}

// UpdateStatus меняет статус процесса вручную.
func (s *ProcessRegistry) UpdateStatus(ctx context.Context, actor model.Actor, id string, status model.ProcessStatus) (*model.FileProcess, error) {
	if err := requireManager(actor, "смена статуса процесса"); err != nil {
		return nil, err
	}

	var (
		p    *model.FileProcess
		from model.ProcessStatus
		evs  []events.Event
	)
	err := s.store.RunInTx(ctx, func(r *repository.Repositories) error {
		var err error
		p, err = r.Processes.GetForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err, "процесс "+id)
		}
		if err := workflow.CheckProcessTransition(p, status); err != nil {
			return mapTransitionError(err)
		}
		from = p.Status
		if from == status {
			return nil
		}

		if _, err := setProcessStatus(ctx, r, p, status, actor.Username, model.ReasonManual); err != nil {
			return err
		}
		if err := r.Processes.Update(ctx, p); err != nil {
			return err
		}

		evs = append(evs, events.New(events.ProcessStatusChanged, actor.Username, p.ID).
			With("from_status", string(from)).
			With("to_status", string(status)))
		if status == model.ProcessCompleted {
			processCompletionsTotal.WithLabelValues(model.ReasonManual).Inc()
			evs = append(evs, events.New(events.ProcessCompleted, actor.Username, p.ID).
				With("reason", model.ReasonManual))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(evs) > 0 {
		s.logger.Info("Статус процесса изменён",
			slog.String("id", p.ID),
			slog.String("from", string(from)),
			slog.String("to", string(p.Status)),
			slog.String("actor", actor.Username),
		)
	}
	s.notify.publish(ctx, evs)
	return p, nil
}

// GetAvailability возвращает зафиксированные счётчики процесса.
func (s *ProcessRegistry) GetAvailability(ctx context.Context, id string) (*Availability, error) {
	repos := s.store.Repos()
	p, err := repos.Processes.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "процесс "+id)
	}

	free, err := repos.Processes.FreeRanges(ctx, id)
	if err != nil {
		return nil, err
	}

	maxContiguous := int64(0)
	if p.Type == model.ProcessTypeManual {
		maxContiguous = ledger.MaxContiguous(p, free)
	}

	return &Availability{
		ProcessID:     p.ID,
		Status:        p.Status,
		TotalRows:     p.TotalRows,
		HeaderRows:    p.HeaderRows,
		AvailableRows: p.AvailableRows,
		AllocatedRows: p.AllocatedRows,
		ProcessedRows: p.ProcessedRows,
		CommittedRows: p.CommittedRows(),
		MaxContiguous: maxContiguous,
	}, nil
}

// Delete мягко удаляет процесс без открытых заявок.
func (s *ProcessRegistry) Delete(ctx context.Context, actor model.Actor, id string) error {
	if err := requireManager(actor, "удаление процесса"); err != nil {
		return err
	}

	err := s.store.RunInTx(ctx, func(r *repository.Repositories) error {
		p, err := r.Processes.GetForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err, "процесс "+id)
		}

		open, err := r.Requests.CountOpen(ctx, id)
		if err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: у процесса %d открытых заявок", ErrConflict, open)
		}

		now := utcNow()
		p.DeletedAt = &now
		return r.Processes.Update(ctx, p)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Процесс удалён",
		slog.String("id", id),
		slog.String("deleted_by", actor.Username),
	)
	return nil
}

// Events возвращает журнал статусов процесса.
func (s *ProcessRegistry) Events(ctx context.Context, id string) ([]*model.ProcessEvent, error) {
	repos := s.store.Repos()
	if _, err := repos.Processes.GetByID(ctx, id); err != nil {
		return nil, mapRepoError(err, "процесс "+id)
	}
	return repos.Processes.ListEvents(ctx, id)
}
