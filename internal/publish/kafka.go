package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the session writer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher appends finished sets and personal records to a topic,
// keyed by session or exercise. Live status is not sent to Kafka.
type KafkaPublisher struct {
	writer kafkaMessageWriter
	logger *log.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(cfg KafkaConfig, logger *log.Logger) (*KafkaPublisher, error) {
	if logger == nil {
		panic("KafkaPublisher: logger cannot be nil")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	logger.Printf("KafkaPublisher: Writing to %s on %v", cfg.Topic, cfg.Brokers)
	return newKafkaPublisher(w, logger), nil
}

func newKafkaPublisher(w kafkaMessageWriter, logger *log.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	if msg.Topic != TopicSession && msg.Topic != TopicRecord {
		return nil
	}
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Payload,
		Headers: []kafka.Header{{Key: "type", Value: []byte(msg.Topic)}},
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
