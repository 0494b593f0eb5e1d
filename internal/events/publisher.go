// Package events publishes validation outcomes to a RabbitMQ exchange.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/metrics"
	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/andychuong/ttb-label-verification/internal/validation"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	DefaultExchange   = "ttb.validation"
	DefaultRoutingKey = "submission.validated"
)

var errMissingURL = errors.New("events: amqp url is required")

// OutcomeMessage is the body published for each settled run.
type OutcomeMessage struct {
	SubmissionID   string              `json:"submissionId"`
	State          validation.RunState `json:"state"`
	Status         submissions.Status  `json:"status"`
	NeedsAttention bool                `json:"needsAttention"`
	Version        int64               `json:"version"`
	At             time.Time           `json:"at"`
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type PublisherConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Logger     *zap.Logger
}

// Publisher implements validation.Notifier over a durable direct exchange.
type Publisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    channel
	exchange   string
	routingKey string
	clock      func() time.Time
	logger     *zap.Logger
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errMissingURL
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("events: connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}
	publisher := newPublisher(ch, exchange, cfg.RoutingKey, cfg.Logger)
	publisher.conn = conn
	return publisher, nil
}

func newPublisher(ch channel, exchange, routingKey string, logger *zap.Logger) *Publisher {
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		clock:      time.Now,
		logger:     logger,
	}
}

// ValidationFinished publishes the outcome. Failures are logged and counted.
func (p *Publisher) ValidationFinished(_ context.Context, outcome validation.RunOutcome) {
	if err := p.publish(outcome); err != nil {
		metrics.OutcomePublishErrorsTotal.Inc()
		p.logger.Error("failed to publish validation outcome",
			zap.String("submission_id", outcome.SubmissionID),
			zap.String("state", string(outcome.State)),
			zap.Error(err))
	}
}

func (p *Publisher) publish(outcome validation.RunOutcome) error {
	body, err := json.Marshal(OutcomeMessage{
		SubmissionID:   outcome.SubmissionID,
		State:          outcome.State,
		Status:         outcome.Status,
		NeedsAttention: outcome.NeedsAttention,
		Version:        outcome.Version,
		At:             outcome.At,
	})
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.Publish(p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.clock(),
		MessageId:    fmt.Sprintf("%s:%d:%s", outcome.SubmissionID, outcome.Version, outcome.State),
	})
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
