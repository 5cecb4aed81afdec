package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher публикует события в topic exchange RabbitMQ.
// Routing key - тип события. После обрыва соединения следующая
// публикация переподключается к брокеру.
type AMQPPublisher struct {
	mu       sync.Mutex
	url      string
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// NewAMQPPublisher подключается к брокеру и объявляет exchange.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		url:      url,
		exchange: exchange,
		logger:   logger.With(slog.String("component", "events.amqp")),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}

	p.logger.Info("Публикация событий в RabbitMQ включена",
		slog.String("exchange", exchange),
	)
	return p, nil
}

// connect открывает соединение и канал и объявляет exchange.
// Вызывается под p.mu либо до публикации экземпляра.
func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("ошибка подключения к RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("ошибка открытия канала RabbitMQ: %w", err)
	}

	err = channel.ExchangeDeclare(
		p.exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("ошибка объявления exchange %s: %w", p.exchange, err)
	}

	p.conn = conn
	p.channel = channel
	return nil
}

// ensureChannel переподключается, если соединение или канал закрыты.
func (p *AMQPPublisher) ensureChannel() error {
	if p.conn != nil && !p.conn.IsClosed() && p.channel != nil && !p.channel.IsClosed() {
		return nil
	}
	p.closeLocked()

	p.logger.Warn("Соединение с RabbitMQ потеряно, переподключение")
	if err := p.connect(); err != nil {
		return fmt.Errorf("переподключение: %w", err)
	}
	p.logger.Info("Соединение с RabbitMQ восстановлено")
	return nil
}

// message формирует AMQP-сообщение события.
func message(e Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("ошибка сериализации события: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    e.ID,
		Type:         e.Type,
		Timestamp:    e.OccurredAt,
		Body:         body,
	}, nil
}

// Publish сериализует событие в JSON и отправляет его в exchange.
// Если канал закрылся во время публикации, делается одна повторная
// попытка на новом соединении.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := message(e)
	if err != nil {
		return err
	}

	// amqp.Channel не допускает конкурентную публикацию
	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if err := p.ensureChannel(); err != nil {
			return fmt.Errorf("ошибка публикации события %s: %w", e.Type, err)
		}
		err = p.channel.PublishWithContext(ctx, p.exchange, e.Type, false, false, msg)
		if err == nil {
			break
		}
		if attempt > 0 || !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("ошибка публикации события %s: %w", e.Type, err)
		}
	}

	p.logger.Debug("Событие опубликовано",
		slog.String("type", e.Type),
		slog.String("event_id", e.ID),
	)
	return nil
}

// closeLocked закрывает канал и соединение. Вызывается под p.mu.
func (p *AMQPPublisher) closeLocked() error {
	var err error
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err = p.conn.Close()
		p.conn = nil
	}
	return err
}

// Close закрывает канал и соединение.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}
