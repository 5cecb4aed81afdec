package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/ledger"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/rbac"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/workflow"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/events"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

// RequestQueue - заявки работников на строки manual-процессов.
type RequestQueue struct {
	transitions
	allocator *Allocator
	uploads   UploadChecker
}

// NewRequestQueue создаёт очередь заявок.
// uploads может быть nil - тогда upload_ref не проверяется.
func NewRequestQueue(store repository.Store, allocator *Allocator, uploads UploadChecker,
	publisher EventPublisher, logger *slog.Logger) *RequestQueue {
	logger = logger.With(slog.String("component", "request_queue"))
	return &RequestQueue{
		transitions: transitions{
			store:  store,
			notify: notifier{publisher: publisher, logger: logger},
			logger: logger,
		},
		allocator: allocator,
		uploads:   uploads,
	}
}

// Create создаёт заявку инициатора на count строк процесса.
func (q *RequestQueue) Create(ctx context.Context, actor model.Actor, processID string, count int64) (*model.FileRequest, error) {
	if err := requireRole(actor, rbac.RoleWorker, "создание заявки"); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: количество строк должно быть больше нуля", ErrValidation)
	}

	req := &model.FileRequest{
		ID:             uuid.New().String(),
		ProcessID:      processID,
		UserID:         actor.UserID,
		Username:       actor.Username,
		RequestedCount: count,
		Status:         model.RequestPending,
	}

	err := q.store.RunInTx(ctx, func(r *repository.Repositories) error {
		p, err := r.Processes.GetForUpdate(ctx, processID)
		if err != nil {
			return mapRepoError(err, "процесс "+processID)
		}
		if err := workflow.CanAllocate(p); err != nil {
			return mapTransitionError(err)
		}
		if count > p.DataRows() {
			return fmt.Errorf("%w: запрошено %d строк, в процессе %d",
				ErrValidation, count, p.DataRows())
		}

		if err := r.Requests.Create(ctx, req); err != nil {
			return mapRepoError(err, "заявка")
		}
		return r.Requests.AddEvent(ctx, newRequestEvent(req, nil, actor.Username, nil))
	})
	if err != nil {
		return nil, err
	}

	q.logger.Info("Заявка создана",
		slog.String("id", req.ID),
		slog.String("process_id", processID),
		slog.Int64("requested_count", count),
		slog.String("user", actor.Username),
	)
	q.notify.publish(ctx, []events.Event{
		requestEvent(events.RequestCreated, actor, req, "").With("requested_count", count),
	})
	return req, nil
}

// Withdraw отзывает заявку. Только автор и только в статусе pending.
func (q *RequestQueue) Withdraw(ctx context.Context, actor model.Actor, id string) (*model.FileRequest, error) {
	req, _, err := q.run(ctx, actor, id, step{
		action: workflow.ActWithdraw,
		event:  events.RequestWithdrawn,
		guard: func(req *model.FileRequest) error {
			if actor.UserID != req.UserID {
				return &ForbiddenError{Role: actor.Role, Required: requiredOwner, Reason: "отзыв чужой заявки"}
			}
			return nil
		},
	})
	return req, err
}

// Assign одобряет заявку: выдаёт диапазон в той же транзакции.
func (q *RequestQueue) Assign(ctx context.Context, actor model.Actor, id string) (*model.FileRequest, error) {
	if err := requireManager(actor, "назначение заявки"); err != nil {
		return nil, err
	}

	req, _, err := q.run(ctx, actor, id, step{
		action: workflow.ActAssign,
		event:  events.RequestAssigned,
		apply: func(ctx context.Context, r *repository.Repositories, p *model.FileProcess,
			req *model.FileRequest, now time.Time) ([]events.Event, error) {
			issued, evs, err := q.allocator.allocateLocked(ctx, r, p, req.RequestedCount, actor.Username)
			if err != nil {
				return nil, err
			}
			start, end := issued.Start, issued.End
			by := actor.Username
			req.StartRow = &start
			req.EndRow = &end
			req.AssignedCount = issued.Len()
			req.AssignedBy = &by
			req.AssignedAt = &now
			return evs, nil
		},
	})
	if err != nil {
		q.allocator.observeFailure(err)
		return nil, err
	}

	rng, _ := req.Range()
	q.allocator.observeSuccess(req.ProcessID, rng)
	return req, nil
}

// Start - исполнитель приступает к работе.
func (q *RequestQueue) Start(ctx context.Context, actor model.Actor, id string) (*model.FileRequest, error) {
	req, _, err := q.run(ctx, actor, id, step{
		action: workflow.ActStart,
		event:  events.RequestStarted,
		guard: func(req *model.FileRequest) error {
			return requireAssignee(actor, req, "начало работы по заявке")
		},
		apply: func(_ context.Context, _ *repository.Repositories, _ *model.FileProcess,
			req *model.FileRequest, now time.Time) ([]events.Event, error) {
			req.StartedAt = &now
			return nil, nil
		},
	})
	return req, err
}

// Complete - исполнитель отмечает работу выполненной (до загрузки результата).
func (q *RequestQueue) Complete(ctx context.Context, actor model.Actor, id string) (*model.FileRequest, error) {
	req, _, err := q.run(ctx, actor, id, step{
		action: workflow.ActComplete,
		event:  events.RequestCompleted,
		guard: func(req *model.FileRequest) error {
			return requireAssignee(actor, req, "завершение заявки")
		},
		apply: func(_ context.Context, _ *repository.Repositories, _ *model.FileProcess,
			req *model.FileRequest, now time.Time) ([]events.Event, error) {
			req.CompletedAt = &now
			return nil, nil
		},
	})
	return req, err
}

// Submit отправляет результат на проверку.
// Если настроено хранилище загрузок, upload_ref должен существовать.
func (q *RequestQueue) Submit(ctx context.Context, actor model.Actor, id, uploadRef string) (*model.FileRequest, error) {
	ref := strings.TrimSpace(uploadRef)
	if ref == "" {
		return nil, fmt.Errorf("%w: upload_ref обязателен", ErrValidation)
	}

	cur, err := q.store.Repos().Requests.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "заявка "+id)
	}
	if err := requireAssignee(actor, cur, "отправка результата"); err != nil {
		return nil, err
	}
	if err := q.checkUpload(ctx, ref); err != nil {
		return nil, err
	}

	req, _, err := q.run(ctx, actor, id, step{
		action: workflow.ActSubmit,
		event:  events.RequestSubmitted,
		guard: func(req *model.FileRequest) error {
			return requireAssignee(actor, req, "отправка результата")
		},
		apply: func(_ context.Context, _ *repository.Repositories, _ *model.FileProcess,
			req *model.FileRequest, now time.Time) ([]events.Event, error) {
			if req.CompletedAt == nil {
				req.CompletedAt = &now
			}
			req.UploadRef = &ref
			req.SubmittedAt = &now
			req.ReworkAllowed = false
			return nil, nil
		},
	})
	return req, err
}

func (q *RequestQueue) checkUpload(ctx context.Context, ref string) error {
	if q.uploads == nil {
		return nil
	}
	ok, err := q.uploads.Exists(ctx, ref)
	if err != nil {
		q.logger.Warn("Не удалось проверить загрузку",
			slog.String("upload_ref", ref),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s", ErrUploadsUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: загрузка %q не найдена", ErrValidation, ref)
	}
	return nil
}

// Reassign передаёт удерживаемый диапазон другому работнику.
func (q *RequestQueue) Reassign(ctx context.Context, actor model.Actor, id, userID, username string) (*model.FileRequest, error) {
	if err := requireManager(actor, "переназначение заявки"); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id обязателен", ErrValidation)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = userID
	}

	var notes *string
	req, _, err := q.run(ctx, actor, id, step{
		action: workflow.ActReassign,
		event:  events.RequestReassigned,
		guard: func(req *model.FileRequest) error {
			if req.UserID == userID {
				return fmt.Errorf("%w: заявка уже назначена пользователю %s", ErrValidation, username)
			}
			n := fmt.Sprintf("переназначена: %s → %s", req.Username, username)
			notes = &n
			return nil
		},
		apply: func(_ context.Context, _ *repository.Repositories, _ *model.FileProcess,
			req *model.FileRequest, _ time.Time) ([]events.Event, error) {
			req.UserID = userID
			req.Username = username
			return nil, nil
		},
		notes: func() *string { return notes },
	})
	return req, err
}

// Requeue возвращает отклонённую на доработку заявку в очередь:
// диапазон освобождается, заявка снова ждёт назначения.
func (q *RequestQueue) Requeue(ctx context.Context, actor model.Actor, id string) (*model.FileRequest, error) {
	if err := requireManager(actor, "возврат заявки в очередь"); err != nil {
		return nil, err
	}

	req, _, err := q.run(ctx, actor, id, step{
		action: workflow.ActRequeue,
		event:  events.RequestRequeued,
		apply: func(ctx context.Context, r *repository.Repositories, p *model.FileProcess,
			req *model.FileRequest, _ time.Time) ([]events.Event, error) {
			evs, err := releaseRange(ctx, r, p, req, actor.Username)
			if err != nil {
				return nil, err
			}
			req.StartRow = nil
			req.EndRow = nil
			req.AssignedCount = 0
			req.AssignedBy = nil
			req.AssignedAt = nil
			req.StartedAt = nil
			req.CompletedAt = nil
			req.UploadRef = nil
			req.SubmittedAt = nil
			req.ReworkAllowed = false
			return evs, nil
		},
	})
	return req, err
}

// releaseRange возвращает диапазон заявки в список свободных и при
// необходимости переоткрывает процесс. Процесс сохраняется.
func releaseRange(ctx context.Context, r *repository.Repositories, p *model.FileProcess,
	req *model.FileRequest, actor string) ([]events.Event, error) {
	rng, ok := req.Range()
	if !ok {
		return nil, fmt.Errorf("заявка %s не удерживает диапазон", req.ID)
	}

	free, err := r.Processes.FreeRanges(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	rest := ledger.Release(p, free, rng)
	if err := ledger.Check(p); err != nil {
		return nil, err
	}
	if err := r.Processes.ReplaceFreeRanges(ctx, p.ID, rest); err != nil {
		return nil, err
	}

	evs, err := reopenProcess(ctx, r, p, actor)
	if err != nil {
		return nil, err
	}
	if err := r.Processes.Update(ctx, p); err != nil {
		return nil, err
	}
	return evs, nil
}

// Get возвращает заявку. Работник видит только свои заявки.
func (q *RequestQueue) Get(ctx context.Context, actor model.Actor, id string) (*model.FileRequest, error) {
	req, err := q.store.Repos().Requests.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "заявка "+id)
	}
	if !canSeeRequest(actor, req) {
		return nil, &ForbiddenError{Role: actor.Role, Required: rbac.RoleProjectManager, Reason: "просмотр чужой заявки"}
	}
	return req, nil
}

// List возвращает заявки по фильтрам. Для работника фильтр по
// пользователю принудительно равен его ID.
func (q *RequestQueue) List(ctx context.Context, actor model.Actor, filters model.RequestFilters, limit, offset int) ([]*model.FileRequest, int, error) {
	if !rbac.CanManage(actor.Role) {
		if filters.UserID != nil && *filters.UserID != actor.UserID {
			return nil, 0, &ForbiddenError{Role: actor.Role, Required: rbac.RoleProjectManager, Reason: "просмотр чужих заявок"}
		}
		uid := actor.UserID
		filters.UserID = &uid
	}

	limit, offset = clampPage(limit, offset)
	repos := q.store.Repos()

	items, err := repos.Requests.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := repos.Requests.Count(ctx, filters)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// History возвращает журнал переходов заявки.
func (q *RequestQueue) History(ctx context.Context, actor model.Actor, id string) ([]*model.RequestEvent, error) {
	if _, err := q.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return q.store.Repos().Requests.ListEvents(ctx, id)
}
