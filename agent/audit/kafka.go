package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	contractx "github.com/tanpawarit/voice-agent-orchestrator/agent/contract"
)

type KafkaConfig struct {
	Brokers      []string      `envconfig:"BROKERS"`
	Topic        string        `envconfig:"TOPIC" default:"agent-events"`
	BatchTimeout time.Duration `envconfig:"BATCH_TIMEOUT" split_words:"true" default:"50ms"`
	Types        []string      `envconfig:"TYPES"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && strings.TrimSpace(c.Topic) != ""
}

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes every event as JSON, keyed by call id or agent name.
type KafkaSink struct {
	writer MessageWriter
	filter Filter
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka brokers and topic are required")
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: cfg.BatchTimeout,
	})
	return NewKafkaSinkWithWriter(writer, ParseFilter(cfg.Types)), nil
}

func NewKafkaSinkWithWriter(writer MessageWriter, filter Filter) *KafkaSink {
	return &KafkaSink{writer: writer, filter: filter}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Consume(ctx context.Context, ev contractx.Event) error {
	if !s.filter.Allows(ev.Type) {
		return nil
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(key(ev)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if !ev.Timestamp.IsZero() {
		msg.Time = ev.Timestamp
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
