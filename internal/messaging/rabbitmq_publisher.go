package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type RabbitMQConfig struct {
	URL            string
	Exchange       string
	PublishTimeout time.Duration
}

type rabbitPublisher struct {
	config  RabbitMQConfig
	conn    *amqp.Connection
	channel *amqp.Channel
	mutex   sync.Mutex
}

// NewRabbitMQPublisher dials the broker and declares the durable topic exchange
func NewRabbitMQPublisher(cfg RabbitMQConfig) (Publisher, error) {
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	p := &rabbitPublisher{config: cfg}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *rabbitPublisher) connect() error {
	conn, err := amqp.Dial(p.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		p.config.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.config.Exchange, err)
	}

	p.conn = conn
	p.channel = channel
	return nil
}

func (p *rabbitPublisher) Publish(ctx context.Context, routingKey string, event *BalanceEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.EventType == "" {
		event.EventType = routingKey
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	// amqp channels are not safe for concurrent publishing
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		if err := p.reconnect(); err != nil {
			return err
		}
	}

	err = p.channel.PublishWithContext(publishCtx,
		p.config.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", routingKey, err)
	}

	logrus.WithFields(logrus.Fields{
		"event_id":    event.EventID,
		"routing_key": routingKey,
		"user_id":     event.UserID,
	}).Debug("Event published")

	return nil
}

func (p *rabbitPublisher) reconnect() error {
	if p.conn != nil && !p.conn.IsClosed() {
		p.conn.Close()
	}
	logrus.Warn("RabbitMQ channel closed, reconnecting")
	return p.connect()
}

func (p *rabbitPublisher) Ping(_ context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

func (p *rabbitPublisher) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
