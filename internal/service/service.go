// Пакет service - бизнес-логика Allocation Service.
//
// Каждая мутирующая операция выполняется в одной транзакции хранилища.
// Порядок блокировок: сначала процесс (GetForUpdate), затем заявка.
// События публикуются после фиксации транзакции.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/events"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

// EventPublisher - получатель событий жизненного цикла.
type EventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// UploadChecker проверяет существование загруженного результата.
type UploadChecker interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// notifier публикует накопленные события, логируя ошибки.
type notifier struct {
	publisher EventPublisher
	logger    *slog.Logger
}

func (n notifier) publish(ctx context.Context, evs []events.Event) {
	if n.publisher == nil {
		return
	}
	// Операция уже зафиксирована: отмена запроса клиентом не должна терять события
	ctx = context.WithoutCancel(ctx)
	for _, e := range evs {
		if err := n.publisher.Publish(ctx, e); err != nil {
			n.logger.Warn("Не удалось опубликовать событие",
				slog.String("type", e.Type),
				slog.String("event_id", e.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// setProcessStatus меняет статус процесса и пишет запись в process_events.
// Сохранение самого процесса - на вызывающем коде.
func setProcessStatus(ctx context.Context, r *repository.Repositories, p *model.FileProcess,
	to model.ProcessStatus, actor, reason string) (*model.ProcessEvent, error) {
	ev := &model.ProcessEvent{
		ID:         uuid.New().String(),
		ProcessID:  p.ID,
		FromStatus: p.Status,
		ToStatus:   to,
		Actor:      actor,
		Reason:     reason,
	}
	p.Status = to
	if err := r.Processes.AddEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// autoComplete завершает процесс, у которого не осталось доступных строк.
// Возвращает событие для публикации или nil.
func autoComplete(ctx context.Context, r *repository.Repositories, p *model.FileProcess) ([]events.Event, error) {
	if p.AvailableRows > 0 || p.Status == model.ProcessCompleted {
		return nil, nil
	}
	from := p.Status
	if _, err := setProcessStatus(ctx, r, p, model.ProcessCompleted, model.ActorSystem, model.ReasonAutoComplete); err != nil {
		return nil, err
	}
	processCompletionsTotal.WithLabelValues(model.ReasonAutoComplete).Inc()
	return []events.Event{
		events.New(events.ProcessCompleted, model.ActorSystem, p.ID).
			With("from_status", string(from)).
			With("reason", model.ReasonAutoComplete),
	}, nil
}

// reopenProcess возвращает завершённый процесс в работу после
// освобождения строк.
func reopenProcess(ctx context.Context, r *repository.Repositories, p *model.FileProcess, actor string) ([]events.Event, error) {
	if p.Status != model.ProcessCompleted || p.AvailableRows == 0 {
		return nil, nil
	}
	if _, err := setProcessStatus(ctx, r, p, model.ProcessInProgress, actor, model.ReasonReopen); err != nil {
		return nil, err
	}
	return []events.Event{
		events.New(events.ProcessReopened, actor, p.ID).
			With("available_rows", p.AvailableRows),
	}, nil
}

// newRequestEvent создаёт запись журнала заявки.
func newRequestEvent(req *model.FileRequest, from *model.RequestStatus, actor string, notes *string) *model.RequestEvent {
	return &model.RequestEvent{
		ID:         uuid.New().String(),
		RequestID:  req.ID,
		ProcessID:  req.ProcessID,
		FromStatus: from,
		ToStatus:   req.Status,
		Actor:      actor,
		Notes:      notes,
	}
}

// utcNow - текущее время в UTC.
func utcNow() time.Time {
	return time.Now().UTC()
}

// trimmed возвращает nil для пустой строки после TrimSpace.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// clampPage нормализует limit/offset списков.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
