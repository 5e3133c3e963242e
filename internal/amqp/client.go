// Package amqp wraps the RabbitMQ connection shared by the mintify
// services: one durable topic exchange, per-consumer durable queues bound to
// the spending routing key, at-least-once delivery with manual acks.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"mintify/internal/event"
	"mintify/internal/metrics"
)

const publishTimeout = 5 * time.Second

// Client holds a connection and channel to the broker with the exchange
// already declared.
type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	routingKey   string
}

// NewClient dials the broker and declares the durable topic exchange.
func NewClient(url, exchangeName, routingKey string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		routingKey:   routingKey,
	}, nil
}

// PublishSpendingRecorded publishes one spending event, tagged persistent.
func (c *Client) PublishSpendingRecorded(ctx context.Context, evt *event.SpendingEvent) error {
	body, err := evt.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.routingKey,   // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	metrics.SpendingEventsPublished.Inc()
	slog.InfoContext(ctx, "Published spending event",
		"transaction_id", evt.TransactionID,
		"user_id", evt.UserID,
		"exchange", c.exchangeName,
		"routing_key", c.routingKey)

	return nil
}

// Handler processes one decoded spending event. A returned error rejects
// the delivery without requeue.
type Handler func(ctx context.Context, evt *event.SpendingEvent) error

// Consume declares the named durable queue, binds it to the exchange under
// the spending routing key, and dispatches deliveries to the handler until
// the context is cancelled.
//
// Acknowledgement policy: a delivery is acked once the handler resolves.
// Unparseable payloads and handler errors are rejected without requeue —
// poison messages are dropped rather than retried forever, and must be
// inspected out of band.
func (c *Client) Consume(ctx context.Context, queueName string, handler Handler) error {
	queue, err := c.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		queue.Name,     // queue name
		c.routingKey,   // routing key
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	msgs, err := c.channel.Consume(
		queue.Name, // queue
		"",         // consumer tag (auto-generated)
		false,      // auto-ack (we ack manually)
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming spending events",
		"queue", queue.Name,
		"exchange", c.exchangeName,
		"routing_key", c.routingKey)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.dispatch(ctx, queueName, delivery, handler)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, queueName string, delivery amqp091.Delivery, handler Handler) {
	evt, err := event.SpendingEventFromJSON(delivery.Body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal message, dropping",
			"error", err, "queue", queueName)
		metrics.PoisonMessagesDropped.WithLabelValues(queueName).Inc()
		_ = delivery.Nack(false, false)
		return
	}

	if err := handler(ctx, evt); err != nil {
		slog.ErrorContext(ctx, "Failed to handle message, dropping",
			"error", err,
			"queue", queueName,
			"transaction_id", evt.TransactionID)
		metrics.PoisonMessagesDropped.WithLabelValues(queueName).Inc()
		_ = delivery.Nack(false, false)
		return
	}

	_ = delivery.Ack(false)
}

// Close releases the channel and connection.
func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
