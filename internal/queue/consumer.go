package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/model"
)

// RegistrationStore persists registration records.
type RegistrationStore interface {
	PutRegistration(ctx context.Context, r model.RegistrationRecord) error
}

// RegistrationApplier folds a registration into live analytics.
type RegistrationApplier interface {
	ApplyRegistration(r model.RegistrationRecord)
}

// BadgeIssuer is satisfied by the badge registry.
type BadgeIssuer interface {
	RegisterParticipant(ctx context.Context, p model.Participant) error
	IssueBadge(ctx context.Context, b model.Badge) error
}

// Handler processes one delivery body. A returned error rejects the
// message without requeue.
type Handler func(ctx context.Context, body []byte) error

// Consumer subscribes to a set of durable queues and reconnects on broker
// failures until its context ends.
type Consumer struct {
	url      string
	log      *logger.Logger
	prefetch int
	handlers map[string]Handler
}

func NewConsumer(url string, log *logger.Logger) *Consumer {
	return &Consumer{
		url:      url,
		log:      log.With("component", "QueueConsumer"),
		prefetch: 50,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for deliveries on queue.
func (c *Consumer) Handle(queue string, h Handler) {
	c.handlers[queue] = h
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("failed to dial broker", "error", err, "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consume loop ended; reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type delivery struct {
	queue string
	amqp.Delivery
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.Warn("set QoS failed", "error", err)
	}

	merged := make(chan delivery)
	done := make(chan struct{})
	defer close(done)
	closed := make(chan string, len(c.handlers))
	for name := range c.handlers {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
		msgs, err := ch.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", name, err)
		}
		go func(name string, msgs <-chan amqp.Delivery) {
			for d := range msgs {
				select {
				case merged <- delivery{queue: name, Delivery: d}:
				case <-done:
					return
				}
			}
			closed <- name
		}(name, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case name := <-closed:
			return fmt.Errorf("deliveries channel for %s closed", name)
		case d := <-merged:
			if err := c.handleMessage(ctx, d.queue, d.Body); err != nil {
				c.log.Error("handle message failed", "queue", d.queue, "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, queue string, body []byte) error {
	h, ok := c.handlers[queue]
	if !ok {
		return fmt.Errorf("no handler for queue %s", queue)
	}
	return h(ctx, body)
}

// RegistrationHandler stores each registration and folds it into analytics.
func RegistrationHandler(store RegistrationStore, analytics RegistrationApplier) Handler {
	return func(ctx context.Context, body []byte) error {
		var ev RegistrationEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		rec, err := ev.Record()
		if err != nil {
			return err
		}
		if err := store.PutRegistration(ctx, rec); err != nil {
			return fmt.Errorf("store registration: %w", err)
		}
		analytics.ApplyRegistration(rec)
		return nil
	}
}

// BadgeIssuedHandler upserts the participant then issues the badge.
func BadgeIssuedHandler(reg BadgeIssuer) Handler {
	return func(ctx context.Context, body []byte) error {
		var ev BadgeIssuedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if ev.BadgeID == "" {
			return errors.New("badge.issued without badge_id")
		}
		if err := reg.RegisterParticipant(ctx, ev.Participant); err != nil {
			return fmt.Errorf("register participant: %w", err)
		}
		if err := reg.IssueBadge(ctx, ev.Badge()); err != nil {
			return fmt.Errorf("issue badge: %w", err)
		}
		return nil
	}
}
