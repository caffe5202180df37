package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/myshop/api/internal/services"
)

var (
	_ services.EmailJobPublisher   = (*PubSubPublisher)(nil)
	_ services.OrderEventPublisher = (*PubSubPublisher)(nil)
)

// PubSubPublisher publishes email jobs and order events to a Pub/Sub topic. Consumers route on the
// "messageType" attribute.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishEmailJob enqueues an email job and returns the server-assigned message id.
func (p *PubSubPublisher) PublishEmailJob(ctx context.Context, job services.EmailJob) (string, error) {
	attrs := make(map[string]string)
	setAttr(attrs, "messageType", messageTypeEmail)
	setAttr(attrs, "kind", job.Kind)
	setAttr(attrs, "userId", job.UserID)
	return p.publish(ctx, job, attrs)
}

// PublishOrderEvent publishes an order lifecycle event.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	attrs := make(map[string]string)
	setAttr(attrs, "messageType", messageTypeOrderEvent)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", string(event.CurrentStatus))
	_, err := p.publish(ctx, event, attrs)
	return err
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func (p *PubSubPublisher) publish(ctx context.Context, payload any, attrs map[string]string) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}

	data, err := p.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s message: %w", attrs["messageType"], err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s message: %w", attrs["messageType"], err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
