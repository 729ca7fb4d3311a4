package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter é o subconjunto de *kafka.Writer usado aqui.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSecuritySink publica eventos de lockout num tópico Kafka, com a
// identidade como chave (mesma partição para a mesma identidade).
type KafkaSecuritySink struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaSecuritySink(brokers []string, topic string, logger *zap.Logger) *KafkaSecuritySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to write security events",
					zap.Error(err),
					zap.Int("message_count", len(messages)),
				)
			}
		},
	}
	return &KafkaSecuritySink{writer: w, logger: logger}
}

func newKafkaSecuritySinkWithWriter(w messageWriter, logger *zap.Logger) *KafkaSecuritySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSecuritySink{writer: w, logger: logger}
}

func (s *KafkaSecuritySink) Publish(ctx context.Context, ev domain.SecurityEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode security event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Identity),
		Value: b,
		Time:  ev.At,
	})
}

func (s *KafkaSecuritySink) Close() error { return s.writer.Close() }
