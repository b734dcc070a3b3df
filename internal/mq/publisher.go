package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher публикует команды на сбор в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// PublishCollection публикует команду на сбор в collection.jobs.
// MessageId доставки — SeqId команды: внешний pipeline и DLQ-разбор
// идентифицируют сообщение по нему.
func (p *Publisher) PublishCollection(ctx context.Context, msg *CollectionMessage) error {
	return p.publish(ctx, ExchangeCollection, RoutingKeyJobs, msg.SeqID, msg)
}

// PublishResult публикует результат анализа в collection.results.
// В бою результаты шлёт pipeline; метод нужен интеграционным прогонам
// и ручному восстановлению из DLQ.
func (p *Publisher) PublishResult(ctx context.Context, msg *ResultMessage) error {
	return p.publish(ctx, ExchangeCollection, RoutingKeyResults, msg.SeqID, msg)
}

// publish сериализует и отправляет сообщение. Тело — голый JSON DTO,
// без внутреннего конверта (см. doc.go).
func (p *Publisher) publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    messageID,
				Timestamp:    time.Now(),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", messageID,
		)
		return nil
	})
}
