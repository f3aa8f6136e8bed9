package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// AMQPConfig configures the exchange events are published to.
type AMQPConfig struct {
	URL      string
	Exchange string
	// RoutingPrefix is prepended to the event kind to form the routing
	// key, e.g. "worldcup.ticket_purchased".
	RoutingPrefix string
	Heartbeat     time.Duration
}

// publisher is the subset of *amqp.Channel the sink uses.
type publisher interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a publishing channel and returns a close notification.
type dialFunc func(cfg AMQPConfig) (publisher, <-chan *amqp.Error, closer, error)

// closer is the connection handle closed together with the channel.
type closer interface{ Close() error }

// AMQPSink publishes events as persistent JSON messages to a topic
// exchange. The connection is opened lazily and re-dialled after the
// broker closes it.
type AMQPSink struct {
	cfg    AMQPConfig
	dial   dialFunc
	logger *slog.Logger

	mu     sync.Mutex
	ch     publisher
	conn   closer
	closed <-chan *amqp.Error
}

// NewAMQPSink creates a sink for cfg. No connection is made until the
// first event.
func NewAMQPSink(cfg AMQPConfig, logger *slog.Logger) *AMQPSink {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 60 * time.Second
	}
	return &AMQPSink{
		cfg:    cfg,
		dial:   dialAMQP,
		logger: logger.With(slog.String("component", "amqp_sink")),
	}
}

func dialAMQP(cfg AMQPConfig) (publisher, <-chan *amqp.Error, closer, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: cfg.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, fmt.Errorf("open channel: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	return ch, closed, conn, nil
}

// Name implements domain.EventSink.
func (s *AMQPSink) Name() string { return "amqp" }

// Handle implements domain.EventSink.
func (s *AMQPSink) Handle(_ context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("amqp: marshal %s: %w", ev.Kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return fmt.Errorf("amqp: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID.String(),
		Timestamp:    ev.At,
		Type:         string(ev.Kind),
		Body:         body,
	}
	if err := ch.Publish(s.cfg.Exchange, s.routingKey(ev.Kind), false, false, msg); err != nil {
		s.reset()
		return fmt.Errorf("amqp: publish %s: %w", ev.Kind, err)
	}
	return nil
}

func (s *AMQPSink) routingKey(kind domain.EventKind) string {
	if s.cfg.RoutingPrefix == "" {
		return string(kind)
	}
	return s.cfg.RoutingPrefix + "." + string(kind)
}

// channel returns a live channel, dialling when needed. Callers hold s.mu.
func (s *AMQPSink) channel() (publisher, error) {
	if s.ch != nil {
		select {
		case amqpErr := <-s.closed:
			s.logger.Warn("amqp connection closed, reconnecting", slog.Any("reason", amqpErr))
			s.reset()
		default:
			return s.ch, nil
		}
	}

	ch, closed, conn, err := s.dial(s.cfg)
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(s.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if conn != nil {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("declare exchange %s: %w", s.cfg.Exchange, err)
	}
	s.ch, s.closed, s.conn = ch, closed, conn
	s.logger.Info("amqp connected", slog.String("exchange", s.cfg.Exchange))
	return ch, nil
}

func (s *AMQPSink) reset() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.ch, s.conn, s.closed = nil, nil, nil
}

// Close releases the broker connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return nil
	}
	var errs []error
	if err := s.ch.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.ch, s.conn, s.closed = nil, nil, nil
	return errors.Join(errs...)
}

var _ domain.EventSink = (*AMQPSink)(nil)
