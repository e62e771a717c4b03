package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/huykn/entity-sync/types"
)

// DefaultExchange is the fan-out exchange notification consumers bind to.
const DefaultExchange = "notifications_fanout"

// Publisher is the part of *amqp.Channel the sink needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPConfig holds RabbitMQ connection settings.
type AMQPConfig struct {
	URL      string
	Exchange string
	Timeout  time.Duration
}

// AMQPSink publishes every mutation outcome as a persistent JSON message
// on a fan-out exchange.
type AMQPSink struct {
	pub      Publisher
	exchange string
	timeout  time.Duration
	now      func() time.Time
	onError  func(error)

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPSink creates a sink publishing through pub. An empty exchange
// means DefaultExchange.
func NewAMQPSink(pub Publisher, exchange string, timeout time.Duration) *AMQPSink {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AMQPSink{pub: pub, exchange: exchange, timeout: timeout, now: time.Now}
}

// DialAMQP connects to RabbitMQ, declares the exchange and returns a sink
// that owns the connection.
func DialAMQP(cfg AMQPConfig) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := DeclareExchange(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	s := NewAMQPSink(ch, exchange, cfg.Timeout)
	s.conn, s.ch = conn, ch
	return s, nil
}

// DeclareExchange declares a durable fan-out exchange.
func DeclareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(name, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", name, err)
	}
	return nil
}

// OnError registers a handler for publish failures. Mutations never fail
// because a notification could not be sent.
func (s *AMQPSink) OnError(fn func(error)) {
	s.onError = fn
}

func (s *AMQPSink) OnMutationSuccess(kind types.Kind, e types.Entity) {
	s.publish(SuccessEvent(kind, e, s.now()))
}

func (s *AMQPSink) OnMutationFailure(kind types.Kind, err error) {
	s.publish(FailureEvent(kind, err, s.now()))
}

// Close releases the connection when the sink owns one.
func (s *AMQPSink) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *AMQPSink) publish(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		s.fail(fmt.Errorf("encode notification: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// routing key is ignored by fan-out exchanges
	err = s.pub.PublishWithContext(ctx, s.exchange, "", false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.Timestamp,
		ContentType:  "application/json",
		MessageId:    ev.ID,
		Type:         ev.Type,
		Body:         body,
	})
	if err != nil {
		s.fail(fmt.Errorf("publish %s: %w", s.exchange, err))
	}
}

func (s *AMQPSink) fail(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}
