package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/workflow"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/events"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

// step - описание одного перехода заявки.
type step struct {
	action workflow.Action
	event  string
	// guard проверяет права инициатора на заблокированной заявке
	guard func(req *model.FileRequest) error
	// noop - переход уже выполнен, заявка возвращается без изменений
	noop func(req *model.FileRequest) bool
	// apply изменяет заявку (статус уже выставлен) и, при необходимости,
	// процесс. Процесс apply сохраняет сам.
	apply func(ctx context.Context, r *repository.Repositories, p *model.FileProcess,
		req *model.FileRequest, now time.Time) ([]events.Event, error)
	// notes - комментарий для журнала заявки, вычисляется после apply
	notes func() *string
}

// transitions выполняет переходы заявок в транзакции хранилища.
type transitions struct {
	store  repository.Store
	notify notifier
	logger *slog.Logger
}

// run блокирует процесс, затем заявку, проверяет переход и сохраняет
// результат вместе с записью журнала. Возвращает заявку и признак того,
// что изменений не было.
func (t *transitions) run(ctx context.Context, actor model.Actor, id string, st step) (*model.FileRequest, bool, error) {
	var (
		req  *model.FileRequest
		from model.RequestStatus
		noop bool
		evs  []events.Event
	)

	err := t.store.RunInTx(ctx, func(r *repository.Repositories) error {
		cur, err := r.Requests.GetByID(ctx, id)
		if err != nil {
			return mapRepoError(err, "заявка "+id)
		}

		p, err := r.Processes.GetForUpdate(ctx, cur.ProcessID)
		if err != nil {
			return mapRepoError(err, "процесс "+cur.ProcessID)
		}

		req, err = r.Requests.GetForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err, "заявка "+id)
		}

		if st.guard != nil {
			if err := st.guard(req); err != nil {
				return err
			}
		}
		if st.noop != nil && st.noop(req) {
			noop = true
			return nil
		}

		next, err := workflow.NextRequestStatus(req, st.action)
		if err != nil {
			return mapTransitionError(err)
		}

		from = req.Status
		req.Status = next
		now := utcNow()

		if st.apply != nil {
			extra, err := st.apply(ctx, r, p, req, now)
			if err != nil {
				return err
			}
			evs = append(evs, extra...)
		}

		if err := r.Requests.Update(ctx, req); err != nil {
			return mapRepoError(err, "заявка "+id)
		}
		var notes *string
		if st.notes != nil {
			notes = st.notes()
		}
		if err := r.Requests.AddEvent(ctx, newRequestEvent(req, &from, actor.Username, notes)); err != nil {
			return err
		}

		evs = append([]events.Event{requestEvent(st.event, actor, req, from)}, evs...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if noop {
		return req, true, nil
	}

	requestTransitionsTotal.WithLabelValues(string(st.action)).Inc()
	t.logger.Info("Статус заявки изменён",
		slog.String("id", req.ID),
		slog.String("process_id", req.ProcessID),
		slog.String("action", string(st.action)),
		slog.String("from", string(from)),
		slog.String("to", string(req.Status)),
		slog.String("actor", actor.Username),
	)
	t.notify.publish(ctx, evs)
	return req, false, nil
}

// requestEvent формирует событие перехода заявки.
func requestEvent(eventType string, actor model.Actor, req *model.FileRequest, from model.RequestStatus) events.Event {
	e := events.New(eventType, actor.Username, req.ProcessID).
		WithRequest(req.ID).
		With("user_id", req.UserID).
		With("to_status", string(req.Status))
	if from != "" {
		e = e.With("from_status", string(from))
	}
	if rng, ok := req.Range(); ok && !req.RangeReleased {
		e = e.With("start_row", rng.Start).With("end_row", rng.End)
	}
	return e
}
