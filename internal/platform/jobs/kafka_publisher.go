package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/myshop/api/internal/platform/observability"
	"github.com/myshop/api/internal/services"
)

const (
	messageTypeEmail      = "email_job"
	messageTypeOrderEvent = "order_event"
)

var (
	_ services.EmailJobPublisher   = (*KafkaPublisher)(nil)
	_ services.OrderEventPublisher = (*KafkaPublisher)(nil)
)

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes email jobs and order events to a Kafka topic. Order events are keyed by
// order id so that events of one order stay on one partition.
type KafkaPublisher struct {
	writer  MessageWriter
	marshal func(any) ([]byte, error)
	now     func() time.Time
}

// NewKafkaWriter builds a writer for the given brokers and topic that logs through zap.
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) (*kafka.Writer, error) {
	cleaned := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			cleaned = append(cleaned, broker)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("kafka writer: at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka writer: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cleaned...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Logger:                 observability.NewLevelPrintfAdapter(logger.Named("kafka"), zapcore.DebugLevel),
		ErrorLogger:            observability.NewLevelPrintfAdapter(logger.Named("kafka"), zapcore.ErrorLevel),
	}, nil
}

// NewKafkaPublisher wraps a message writer.
func NewKafkaPublisher(writer MessageWriter) (*KafkaPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka publisher: writer is required")
	}
	return &KafkaPublisher{
		writer:  writer,
		marshal: json.Marshal,
		now:     time.Now,
	}, nil
}

// PublishEmailJob writes the job keyed by user id. Kafka assigns no message id, so the key is returned.
func (p *KafkaPublisher) PublishEmailJob(ctx context.Context, job services.EmailJob) (string, error) {
	key := job.Kind + ":" + job.UserID
	if err := p.write(ctx, key, messageTypeEmail, job); err != nil {
		return "", err
	}
	return key, nil
}

// PublishOrderEvent writes the event keyed by order id.
func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	return p.write(ctx, event.OrderID, messageTypeOrderEvent, event)
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func (p *KafkaPublisher) write(ctx context.Context, key, messageType string, payload any) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka publisher: not initialised")
	}
	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", messageType, err)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  p.now().UTC(),
		Headers: []kafka.Header{
			{Key: "messageType", Value: []byte(messageType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s message: %w", messageType, err)
	}
	return nil
}
