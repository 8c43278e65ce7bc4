package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/logger"
	"github.com/streadway/amqp"
)

// EventSessionFinished is the event type and routing key of exported snapshots.
const EventSessionFinished = "session.finished"

// publisher is the part of *amqp.Channel the exporter uses.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type event struct {
	Type    string          `json:"type"`
	ClassID string          `json:"classId"`
	Payload domain.Snapshot `json:"payload"`
}

// SnapshotPublisher announces finished sessions on a topic exchange so
// reporting consumers can pick them up.
type SnapshotPublisher struct {
	log      logger.Logger
	conn     *amqp.Connection
	exchange string

	mu      sync.Mutex
	channel publisher
}

// NewSnapshotPublisher dials the broker and declares a durable topic exchange.
func NewSnapshotPublisher(amqpURL, exchange string, log logger.Logger) (*SnapshotPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &SnapshotPublisher{log: log, conn: conn, exchange: exchange, channel: ch}, nil
}

func newSnapshotPublisher(ch publisher, exchange string, log logger.Logger) *SnapshotPublisher {
	return &SnapshotPublisher{log: log, exchange: exchange, channel: ch}
}

func (p *SnapshotPublisher) Export(ctx context.Context, classID string, snapshot domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if classID == "" {
		classID = domain.DefaultClassID
	}
	body, err := json.Marshal(event{Type: EventSessionFinished, ClassID: classID, Payload: snapshot})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", EventSessionFinished, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.Publish(
		p.exchange,
		EventSessionFinished,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Type:         EventSessionFinished,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish snapshot %s: %w", snapshot.Code, err)
	}
	p.log.Debug("snapshot published", "exchange", p.exchange, "code", snapshot.Code, "class", classID)
	return nil
}

func (p *SnapshotPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channel.(*amqp.Channel); ok && ch != nil {
		_ = ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
