package mq_events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar_manager"
)

const (
	DefaultQueueName = "trade_calendar_events"
	publishTimeout   = 5 * time.Second
)

// AMQPChannel is the part of *amqp.Channel the publisher uses.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPConnection is the part of *amqp.Connection the publisher uses.
type AMQPConnection interface {
	Channel() (AMQPChannel, error)
	IsClosed() bool
	Close() error
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c amqpConnection) Channel() (AMQPChannel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c amqpConnection) Close() error {
	return c.conn.Close()
}

// dialAMQP is a package var so tests can replace the broker.
var dialAMQP = func(url string) (AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn: conn}, nil
}

// RabbitPublisher publishes calendar events as persistent JSON messages on a durable queue.
type RabbitPublisher struct {
	conn  AMQPConnection
	queue string
}

// DialRabbit connects to url and returns a publisher for queue.
func DialRabbit(url, queue string) (*RabbitPublisher, error) {
	conn, err := dialAMQP(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return NewRabbitPublisher(conn, queue), nil
}

func NewRabbitPublisher(conn AMQPConnection, queue string) *RabbitPublisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &RabbitPublisher{conn: conn, queue: queue}
}

// Publish opens a channel, declares the queue and publishes ev. The channel is
// closed before returning; the connection is left open.
func (p *RabbitPublisher) Publish(ctx context.Context, ev calendar_manager.Event) error {
	if p.conn == nil {
		return fmt.Errorf("rabbitmq connection cannot be nil")
	}
	if p.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a RabbitMQ channel: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare RabbitMQ queue '%s': %w", p.queue, err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON for RabbitMQ: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		"",      // exchange (default)
		p.queue, // routing key (queue name)
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    ev.ID.String(),
			Type:         string(ev.Type),
			Timestamp:    time.UnixMilli(ev.EmittedAt),
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event to RabbitMQ queue '%s': %w", p.queue, err)
	}
	logrus.WithFields(logrus.Fields{"queue": p.queue, "event": ev.Type}).Debug("Event published to RabbitMQ")
	return nil
}

func (p *RabbitPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}
