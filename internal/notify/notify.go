// Package notify publishes carpool domain events to a RabbitMQ topic
// exchange.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/metrics"
)

// Event types, used as routing keys.
const (
	RideCreated    = "ride.created"
	RideClaimed    = "ride.claimed"
	ClaimCompleted = "claim.completed"
	ClaimPaid      = "claim.paid"
	AccountCreated = "account.created"
)

// Event is a domain event published after a table write.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	RideID     string    `json:"ride_id,omitempty"`
	ClaimID    string    `json:"claim_id,omitempty"`
	Driver     string    `json:"driver,omitempty"`
	Passenger  string    `json:"passenger,omitempty"`
	Username   string    `json:"username,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Config configures the publisher.
type Config struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// NewPublisher returns an AMQP publisher, or a no-op publisher when no URL
// is configured.
func NewPublisher(ctx context.Context, cfg Config) (Publisher, error) {
	logger := logging.Component("notify")
	if cfg.URL == "" {
		logger.Info("notifications disabled, using no-op publisher")
		return Noop{}, nil
	}

	p, err := DialAMQP(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("publishing events", "exchange", p.exchange)
	return p, nil
}

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes persistent JSON messages to a topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	logger   *slog.Logger
}

// DialAMQP connects to the broker and declares the exchange. The dial is
// attempted three times with exponential backoff.
func DialAMQP(ctx context.Context, cfg Config) (*AMQPPublisher, error) {
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "carpool.events"
	}

	var conn *amqp.Connection
	var lastErr error
	delay := time.Second
	for attempt := 1; attempt <= 3; attempt++ {
		conn, lastErr = amqp.Dial(cfg.URL)
		if lastErr == nil {
			break
		}
		if attempt < 3 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", lastErr)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p, err := newAMQPPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch channel, exchange string) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		ch:       ch,
		exchange: exchange,
		logger:   logging.Component("notify"),
	}, nil
}

// Publish sends evt with its type as routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	err = p.ch.PublishWithContext(
		publishCtx,
		p.exchange,
		evt.Type,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Persistent,
			MessageId:     evt.ID,
			CorrelationId: logging.CorrelationID(ctx),
			Timestamp:     evt.OccurredAt,
		},
	)
	p.mu.Unlock()

	if err != nil {
		if m := metrics.Get(); m != nil {
			m.IncNotifyErrors(metrics.Labels{Event: evt.Type})
		}
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}

	p.logger.Debug("event published", "type", evt.Type, "id", evt.ID)
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Noop discards all events.
type Noop struct{}

func (Noop) Publish(_ context.Context, _ Event) error { return nil }

func (Noop) Close() error { return nil }
