package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitConfig selects the broker and queue naming.
type RabbitConfig struct {
	URL            string
	Queue          string
	QueuePrefix    string
	SpecificEvents []string
}

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type dialFunc func(url string) (io.Closer, amqpChannel, error)

func dialAMQP(url string) (io.Closer, amqpChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}
	return conn, ch, nil
}

// RabbitPublisher publishes events as persistent JSON messages to durable
// queues. Event types listed in SpecificEvents get their own queue. A lost
// connection is redialled on the next Publish.
type RabbitPublisher struct {
	mu             sync.Mutex
	url            string
	dial           dialFunc
	conn           io.Closer
	channel        amqpChannel
	queue          string
	prefix         string
	specificEvents map[string]bool
	declared       map[string]bool
}

// NewRabbitPublisher dials the broker and opens a channel.
func NewRabbitPublisher(cfg RabbitConfig) (*RabbitPublisher, error) {
	return newRabbitPublisher(cfg, dialAMQP)
}

func newRabbitPublisher(cfg RabbitConfig, dial dialFunc) (*RabbitPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL cannot be empty")
	}
	p := &RabbitPublisher{
		url:            cfg.URL,
		dial:           dial,
		queue:          cfg.Queue,
		prefix:         cfg.QueuePrefix,
		specificEvents: make(map[string]bool),
		declared:       make(map[string]bool),
	}
	if p.queue == "" {
		p.queue = "whatsapp_events"
	}
	for _, ev := range cfg.SpecificEvents {
		p.specificEvents[strings.TrimSpace(ev)] = true
	}

	if err := p.connect(); err != nil {
		return nil, err
	}

	log.Info().
		Str("queue", p.QueueName("")).
		Interface("specificEvents", p.specificEvents).
		Msg("RabbitMQ connection established")
	return p, nil
}

// connect replaces the current connection. Callers hold mu or own p.
func (p *RabbitPublisher) connect() error {
	p.closeLocked()
	conn, ch, err := p.dial(p.url)
	if err != nil {
		return err
	}
	p.conn = conn
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

// QueueName returns the queue an event type is routed to.
func (p *RabbitPublisher) QueueName(eventType string) string {
	return queueName(p.prefix, p.queue, eventType, p.specificEvents)
}

func queueName(prefix, queue, eventType string, specific map[string]bool) string {
	name := queue
	if specific[eventType] {
		name = strings.ToLower(strings.ReplaceAll(eventType, ".", "_"))
	}
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

func (p *RabbitPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	queue := p.QueueName(ev.Type)

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, queue, msg)
	if errors.Is(err, amqp.ErrClosed) {
		log.Warn().Str("queue", queue).Msg("RabbitMQ connection lost, reconnecting")
		if rerr := p.connect(); rerr != nil {
			log.Error().Err(rerr).Msg("Could not reconnect to RabbitMQ")
			return fmt.Errorf("publish to %s: %w", queue, rerr)
		}
		err = p.publishLocked(ctx, queue, msg)
	}
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Str("eventType", ev.Type).Msg("Could not publish to RabbitMQ")
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	log.Debug().Str("queue", queue).Str("eventType", ev.Type).Str("eventID", ev.ID).Msg("Published event to RabbitMQ")
	return nil
}

// publishLocked declares queue once per connection and publishes msg. A
// closed or missing channel reports amqp.ErrClosed.
func (p *RabbitPublisher) publishLocked(ctx context.Context, queue string, msg amqp.Publishing) error {
	if p.channel == nil || p.channel.IsClosed() {
		return amqp.ErrClosed
	}
	if !p.declared[queue] {
		if _, err := p.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		p.declared[queue] = true
	}
	return p.channel.PublishWithContext(ctx, "", queue, false, false, msg)
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *RabbitPublisher) closeLocked() error {
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
