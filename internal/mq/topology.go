package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeCollection Exchange = "semaphore.collection"
	ExchangeDLQ        Exchange = "semaphore.dlq"
)

// Queues — имена очередей.
const (
	QueueCollectionJobs    Queue = "collection.jobs"
	QueueCollectionResults Queue = "collection.results"
	QueueDLQResults        Queue = "dlq.results"
)

// Routing keys.
const (
	RoutingKeyJobs       RoutingKey = "jobs"
	RoutingKeyResults    RoutingKey = "results"
	RoutingKeyDLQResults RoutingKey = "results"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeCollection, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Некорректные результаты уходят в DLQ, а не крутятся в requeue.
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQResults),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// collection.jobs — без DLQ: команды потребляет внешний pipeline.
		{QueueCollectionJobs, nil},

		// collection.results — с DLQ для битых сообщений.
		{QueueCollectionResults, dlqArgs},

		// dlq.results — сама DLQ очередь.
		{QueueDLQResults, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueCollectionJobs, RoutingKeyJobs, ExchangeCollection},
		{QueueCollectionResults, RoutingKeyResults, ExchangeCollection},
		{QueueDLQResults, RoutingKeyDLQResults, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}
