// Пакет events - публикация событий жизненного цикла процессов и заявок.
//
// События публикуются после фиксации транзакции. Ошибка публикации
// логируется и не отменяет операцию.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Типы событий (routing key в topic exchange).
const (
	RequestCreated    = "request.created"
	RequestAssigned   = "request.assigned"
	RequestWithdrawn  = "request.withdrawn"
	RequestStarted    = "request.started"
	RequestCompleted  = "request.completed"
	RequestSubmitted  = "request.submitted"
	RequestVerified   = "request.verified"
	RequestRejected   = "request.rejected"
	RequestReassigned = "request.reassigned"
	RequestRequeued   = "request.requeued"

	ProcessCreated       = "process.created"
	ProcessStatusChanged = "process.status_changed"
	ProcessCompleted     = "process.completed"
	ProcessReopened      = "process.reopened"

	AutomationRecorded = "automation.recorded"
)

// Event - сообщение о зафиксированном изменении.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Actor      string         `json:"actor"`
	ProcessID  string         `json:"process_id"`
	RequestID  string         `json:"request_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// New создаёт событие с новым идентификатором и текущим временем.
func New(eventType, actor, processID string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Actor:      actor,
		ProcessID:  processID,
	}
}

// WithRequest привязывает событие к заявке.
func (e Event) WithRequest(requestID string) Event {
	e.RequestID = requestID
	return e
}

// With добавляет поле в Data.
func (e Event) With(key string, value any) Event {
	data := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Publisher - получатель событий.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher пишет события в лог. Используется, когда брокер
// не настроен.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher создаёт LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With(slog.String("component", "events"))}
}

// Publish записывает событие в лог уровня Info.
func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info("Событие",
		slog.String("event_id", e.ID),
		slog.String("type", e.Type),
		slog.String("process_id", e.ProcessID),
		slog.String("request_id", e.RequestID),
		slog.String("actor", e.Actor),
	)
	return nil
}

// Close ничего не делает.
func (p *LogPublisher) Close() error { return nil }

// Recorder запоминает опубликованные события. Используется в тестах.
type Recorder struct {
	ch chan Event
}

// NewRecorder создаёт Recorder с буфером на size событий.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

// Publish сохраняет событие; при заполненном буфере событие теряется.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	select {
	case r.ch <- e:
	default:
	}
	return nil
}

// Close ничего не делает.
func (r *Recorder) Close() error { return nil }

// Types возвращает типы накопленных событий и очищает буфер.
func (r *Recorder) Types() []string {
	var out []string
	for {
		select {
		case e := <-r.ch:
			out = append(out, e.Type)
		default:
			return out
		}
	}
}
