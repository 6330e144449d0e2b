// Package amqp consumes booking-system events from RabbitMQ as an
// alternative intake to the HTTP event endpoint. Both intakes feed the same
// reconciler, so a producer may switch transports without double sends.
package amqp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/internal/service"
	"github.com/wanderlynx/whatsapp-inbox/pkg/errs"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

// Exchange is the topic exchange booking systems publish to. Routing keys are
// the event type names.
const Exchange = "wanderlynx.events"

const handleTimeout = 10 * time.Second

// Consumer pulls event deliveries off a queue and hands them to the
// reconciler.
type Consumer struct {
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	events *service.EventService
	logger *logger.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewConsumer dials the broker and declares the exchange.
func NewConsumer(url string, events *service.EventService, log *logger.Logger) (*Consumer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, errs.Internal("amqp dial failed", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errs.Internal("amqp channel failed", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errs.Internal("amqp exchange declare failed", err)
	}
	return &Consumer{
		conn:   conn,
		ch:     ch,
		events: events,
		logger: log,
		done:   make(chan struct{}),
	}, nil
}

// Start declares the queue, binds every known event type and begins
// consuming. It is safe to call once; later calls are no-ops.
func (c *Consumer) Start(queueName string) error {
	var startErr error
	c.once.Do(func() {
		if err := c.ch.Qos(10, 0, false); err != nil {
			startErr = errs.Internal("amqp qos failed", err)
			return
		}
		q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
		if err != nil {
			startErr = errs.Internal("amqp queue declare failed", err)
			return
		}
		for _, t := range []model.EventType{
			model.EventBookingConfirmed,
			model.EventPaymentPending,
			model.EventPaymentReceived,
			model.EventTripReminder,
		} {
			if err := c.ch.QueueBind(q.Name, string(t), Exchange, false, nil); err != nil {
				startErr = errs.Internal("amqp queue bind failed", err)
				return
			}
		}
		msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
		if err != nil {
			startErr = errs.Internal("amqp consume failed", err)
			return
		}

		c.wg.Add(1)
		go c.loop(msgs)
		c.logger.Info("event consumer started", zap.String("queue", queueName))
	})
	return startErr
}

func (c *Consumer) loop(msgs <-chan amqp091.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(msg)
		}
	}
}

// handle processes one delivery. Malformed deliveries are dropped without
// requeue, so a poison message cannot wedge the queue. Internal failures are
// requeued because a later attempt may find the store healthy again.
func (c *Consumer) handle(msg amqp091.Delivery) {
	eventType := model.EventType(msg.RoutingKey)
	if !eventType.Valid() {
		c.logger.Warn("dropping delivery with unknown routing key",
			zap.String("routing_key", msg.RoutingKey))
		_ = msg.Nack(false, false)
		return
	}

	var payload model.EventPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.Warn("dropping malformed event delivery",
			zap.String("routing_key", msg.RoutingKey), zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	result, err := c.events.HandleEvent(ctx, eventType, &payload)
	if err != nil {
		if errs.CodeOf(err) == errs.CodeInvalidArgument {
			c.logger.Warn("dropping invalid event",
				zap.String("event_type", string(eventType)), zap.Error(err))
			_ = msg.Nack(false, false)
			return
		}
		c.logger.Error("event processing failed, requeueing",
			zap.String("event_type", string(eventType)), zap.Error(err))
		_ = msg.Nack(false, true)
		return
	}

	c.logger.Info("event consumed",
		zap.String("event_type", string(eventType)),
		zap.String("outcome", string(result.Outcome)))
	_ = msg.Ack(false)
}

// Close stops consuming and closes the connection.
func (c *Consumer) Close() error {
	close(c.done)
	c.wg.Wait()
	_ = c.ch.Close()
	return c.conn.Close()
}
