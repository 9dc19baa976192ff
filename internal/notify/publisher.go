package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"collectible-market/internal/config"
)

// Publisher sends one event to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NewPublisher builds the publisher selected by cfg.Driver.
func NewPublisher(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Driver {
	case "kafka":
		return NewKafkaPublisher(cfg.Kafka)
	case "nats":
		return NewNATSPublisher(ctx, cfg.NATS)
	case "log", "":
		return LogPublisher{}, nil
	}
	return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
}

// ========== Kafka ==========

// KafkaPublisher writes events to a single topic keyed by user id, so one
// user's events stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer.
func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Kafka producer created")
	return &KafkaPublisher{producer: producer, topic: cfg.Topic}, nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(_ context.Context, e Event) error {
	data, err := e.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("%d", e.UserID)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.Type)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send kafka message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// ========== NATS JetStream ==========

// JetStream is the publishing subset of jetstream.JetStream.
type JetStream interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSPublisher publishes events on "<stream>.<type>" subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	js     JetStream
	prefix string
}

// NewNATSPublisher connects to NATS and makes sure the stream exists.
func NewNATSPublisher(ctx context.Context, cfg config.NATSConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	prefix := cfg.Stream
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{prefix + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.Stream, err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Str("stream", cfg.Stream).Msg("NATS JetStream connected")
	return &NATSPublisher{conn: nc, js: js, prefix: prefix}, nil
}

// NewNATSPublisherWithJetStream wraps an existing JetStream context.
func NewNATSPublisherWithJetStream(js JetStream, prefix string) *NATSPublisher {
	return &NATSPublisher{js: js, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	data, err := e.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	// The event id doubles as the JetStream dedup id, so retries do not duplicate.
	if _, err := p.js.Publish(ctx, p.Subject(e.Type), data, jetstream.WithMsgID(e.ID)); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		return p.conn.Drain()
	}
	return nil
}

// ========== Log ==========

// LogPublisher writes events to the application log. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, e Event) error {
	log.Info().
		Str("event_id", e.ID).
		Str("type", e.Type).
		Int64("user_id", e.UserID).
		Interface("payload", e.Payload).
		Msg("Event")
	return nil
}

func (LogPublisher) Close() error { return nil }
