package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/ledger"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/workflow"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/events"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

// Allocator выдаёт непересекающиеся диапазоны строк manual-процесса.
//
// Выдача выполняется под блокировкой строки процесса, поэтому две
// конкурентные выдачи не могут вычислить один и тот же диапазон.
type Allocator struct {
	store  repository.Store
	notify notifier
	logger *slog.Logger
}

// NewAllocator создаёт Allocator.
func NewAllocator(store repository.Store, publisher EventPublisher, logger *slog.Logger) *Allocator {
	logger = logger.With(slog.String("component", "allocator"))
	return &Allocator{
		store:  store,
		notify: notifier{publisher: publisher, logger: logger},
		logger: logger,
	}
}

// Allocate выдаёт n строк процесса в отдельной транзакции.
func (a *Allocator) Allocate(ctx context.Context, processID string, n int64) (model.RowRange, error) {
	var (
		issued model.RowRange
		evs    []events.Event
	)
	err := a.store.RunInTx(ctx, func(r *repository.Repositories) error {
		p, err := r.Processes.GetForUpdate(ctx, processID)
		if err != nil {
			return mapRepoError(err, "процесс "+processID)
		}
		issued, evs, err = a.allocateLocked(ctx, r, p, n, model.ActorSystem)
		return err
	})
	if err != nil {
		a.observeFailure(err)
		return model.RowRange{}, err
	}

	a.observeSuccess(processID, issued)
	a.notify.publish(ctx, evs)
	return issued, nil
}

// allocateLocked выдаёт диапазон процессу p, уже заблокированному
// вызывающим кодом в транзакции r. При ошибке p не изменяется.
// Первая выдача переводит pending/active процесс в in_progress.
func (a *Allocator) allocateLocked(ctx context.Context, r *repository.Repositories, p *model.FileProcess, n int64, actor string) (model.RowRange, []events.Event, error) {
	if n <= 0 {
		return model.RowRange{}, nil, fmt.Errorf("%w: количество строк должно быть больше нуля", ErrValidation)
	}
	if n > p.AvailableRows {
		return model.RowRange{}, nil, fmt.Errorf("%w: запрошено %d, доступно %d",
			ErrInsufficientCapacity, n, p.AvailableRows)
	}
	if err := workflow.CanAllocate(p); err != nil {
		return model.RowRange{}, nil, mapTransitionError(err)
	}

	free, err := r.Processes.FreeRanges(ctx, p.ID)
	if err != nil {
		return model.RowRange{}, nil, err
	}

	next := *p
	issued, rest, err := ledger.Allocate(&next, free, n)
	if err != nil {
		return model.RowRange{}, nil, mapLedgerError(err)
	}
	if err := ledger.Check(&next); err != nil {
		return model.RowRange{}, nil, err
	}

	held, err := r.Requests.HeldRanges(ctx, p.ID)
	if err != nil {
		return model.RowRange{}, nil, err
	}
	for _, h := range held {
		if h.Overlaps(issued) {
			return model.RowRange{}, nil, fmt.Errorf("диапазон %d-%d пересекается с выданным %d-%d",
				issued.Start, issued.End, h.Start, h.End)
		}
	}

	if len(free) > 0 {
		if err := r.Processes.ReplaceFreeRanges(ctx, p.ID, rest); err != nil {
			return model.RowRange{}, nil, err
		}
	}

	*p = next
	var evs []events.Event
	if p.Status == model.ProcessPending || p.Status == model.ProcessActive {
		from := p.Status
		if _, err := setProcessStatus(ctx, r, p, model.ProcessInProgress, actor, model.ReasonFirstAllocation); err != nil {
			return model.RowRange{}, nil, err
		}
		a.logger.Info("Процесс переведён в работу первой выдачей",
			slog.String("process_id", p.ID),
			slog.String("from", string(from)),
		)
		evs = append(evs, events.New(events.ProcessStatusChanged, actor, p.ID).
			With("from_status", string(from)).
			With("to_status", string(model.ProcessInProgress)).
			With("reason", model.ReasonFirstAllocation))
	}

	done, err := autoComplete(ctx, r, p)
	if err != nil {
		return model.RowRange{}, nil, err
	}
	evs = append(evs, done...)
	if err := r.Processes.Update(ctx, p); err != nil {
		return model.RowRange{}, nil, err
	}
	return issued, evs, nil
}

func (a *Allocator) observeSuccess(processID string, issued model.RowRange) {
	allocationsTotal.Inc()
	allocatedRowsTotal.Add(float64(issued.Len()))
	a.logger.Info("Диапазон выдан",
		slog.String("process_id", processID),
		slog.Int64("start_row", issued.Start),
		slog.Int64("end_row", issued.End),
	)
}

func (a *Allocator) observeFailure(err error) {
	if errors.Is(err, ErrInsufficientCapacity) {
		capacityRejectionsTotal.Inc()
	}
}
