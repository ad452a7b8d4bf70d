package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/model"
)

// Publisher forwards committed scans to the scan.committed queue. Scans are
// buffered and sent by a single goroutine so a slow or absent broker never
// delays the scan path; when the buffer is full the event is dropped and
// logged.
type Publisher struct {
	url     string
	log     *logger.Logger
	pending chan ScanCommittedEvent

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string, buffer int, log *logger.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Publisher{
		url:     url,
		log:     log.With("component", "QueuePublisher"),
		pending: make(chan ScanCommittedEvent, buffer),
	}
}

// Observe enqueues ev.
func (p *Publisher) Observe(_ context.Context, ev model.ScanEvent) {
	select {
	case p.pending <- NewScanCommittedEvent(ev):
	default:
		p.log.Warn("scan.committed buffer full; dropping event", "scan_id", ev.ID)
	}
}

// Run drains the buffer until ctx ends.
func (p *Publisher) Run(ctx context.Context) {
	defer p.close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.pending:
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := p.publish(pubCtx, ev); err != nil {
				p.log.Warn("publish scan.committed failed", "scan_id", ev.ScanID, "error", err)
				// next publish redials
				p.close()
			}
			cancel()
		}
	}
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, err
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(QueueScanCommitted, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) publish(ctx context.Context, ev ScanCommittedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", QueueScanCommitted, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.ScanID,
		Body:         body,
	})
}

func (p *Publisher) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
