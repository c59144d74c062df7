// Package broker publishes progress events to a RabbitMQ topic exchange.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange progress events are routed through.
const DefaultExchange = "pai.progress"

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("broker connection closed")

// Publisher holds one AMQP connection and channel. Publish reconnects once when the
// channel has been closed underneath it.
type Publisher struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewPublisher dials url and declares a durable topic exchange.
func NewPublisher(rawURL, exchange string) (*Publisher, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("broker URL is empty")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	p := &Publisher{url: rawURL, exchange: exchange}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect must be called with p.mu held.
func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}

	p.conn = conn
	p.channel = ch
	slog.Info("connected to RabbitMQ", "url", SanitizeURL(p.url), "exchange", p.exchange)
	return nil
}

// Publish sends body to the exchange with routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.channel == nil || p.channel.IsClosed() {
		slog.Warn("RabbitMQ channel closed, reconnecting", "exchange", p.exchange)
		if p.conn != nil {
			p.conn.Close()
		}
		if err := p.connect(); err != nil {
			return err
		}
	}

	err := p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// IsConnected reports whether the connection is open.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed()
}

// HealthCheck fails when the connection is down.
func (p *Publisher) HealthCheck(context.Context) error {
	if !p.IsConnected() {
		return fmt.Errorf("RabbitMQ connection is closed")
	}
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// SanitizeURL strips the password from an AMQP URL for logging.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid-url"
	}
	return u.Redacted()
}
