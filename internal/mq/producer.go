package mq

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"mygame/netsim/pkg/config"
)

// Session event types
const (
	EventSpawned      = "entity_spawned"
	EventDespawned    = "entity_despawned"
	EventSessionEnded = "session_ended"
)

// Event is one room lifecycle record.
type Event struct {
	Type      string         `json:"type"`
	Room      string         `json:"room"`
	Entity    uint32         `json:"entity,omitempty"`
	Tick      uint32         `json:"tick"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with the current wall-clock time.
func NewEvent(typ, room string, entity, t uint32) Event {
	return Event{Type: typ, Room: room, Entity: entity, Tick: t, Timestamp: time.Now().Unix()}
}

// Publisher sends session events to a durable queue.
type Publisher struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
	ch *amqp.Channel
}

// Dial connects and declares the queue.
func Dial(cfg config.MQConfig) (*Publisher, error) {
	conn, ch, err := open(cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: cfg.QueueName}, nil
}

func open(cfg config.MQConfig) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.Url)
	if err != nil {
		return nil, nil, fmt.Errorf("MQ connect failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("MQ channel failed: %w", err)
	}

	// 声明队列
	_, err = ch.QueueDeclare(
		cfg.QueueName,
		true, false, false, false, nil,
	)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("MQ queue declare failed: %w", err)
	}
	return conn, ch, nil
}

// Publish sends e as JSON.
func (p *Publisher) Publish(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Publish(
		"",
		p.queue,
		false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
