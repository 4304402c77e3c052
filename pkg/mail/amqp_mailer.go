package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"momflow/internal/util"
)

const defaultMailQueue = "momflow.mail"

// AMQPMailer publishes mail jobs to a durable RabbitMQ queue; a separate
// delivery worker owns SMTP.
type AMQPMailer struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

type envelope struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Message
}

func NewAMQPMailer(url, queue string) (*AMQPMailer, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = defaultMailQueue
	}
	m := &AMQPMailer{url: url, queue: queue}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.connectLocked(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AMQPMailer) connectLocked() error {
	conn, err := amqp.Dial(m.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(m.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare mail queue: %w", err)
	}
	m.conn, m.ch = conn, ch
	return nil
}

// Send publishes msg as a persistent JSON message. A closed connection is
// re-dialed once.
func (m *AMQPMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := encodeEnvelope(msg, time.Now().UTC())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil || m.conn.IsClosed() {
		if err := m.connectLocked(); err != nil {
			return err
		}
	}
	err = m.ch.PublishWithContext(ctx, "", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish mail: %w", err)
	}
	return nil
}

func (m *AMQPMailer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn, m.ch = nil, nil
	return err
}

func encodeEnvelope(msg Message, now time.Time) ([]byte, error) {
	body, err := json.Marshal(envelope{ID: util.NewID(), CreatedAt: now, Message: msg})
	if err != nil {
		return nil, fmt.Errorf("encode mail: %w", err)
	}
	return body, nil
}
