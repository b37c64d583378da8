package notify

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// PubSub publishes messages to a Google Cloud Pub/Sub topic.
type PubSub struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	timeout time.Duration
	logger  *zap.Logger
	source  string
}

// PubSubConfig selects the topic and message attributes.
type PubSubConfig struct {
	TopicID string
	// Source is attached as the "source" attribute of every message.
	Source string
	// Timeout bounds the wait for the server acknowledgement.
	Timeout time.Duration
}

// NewPubSub binds a publisher to cfg.TopicID. The client stays owned by the caller.
func NewPubSub(client *pubsub.Client, cfg PubSubConfig, logger *zap.Logger) (*PubSub, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub topic id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSub{
		client:  client,
		topic:   client.Topic(cfg.TopicID),
		timeout: cfg.Timeout,
		logger:  logger,
		source:  cfg.Source,
	}, nil
}

// Notify publishes message and logs, rather than returns, any failure.
func (p *PubSub) Notify(ctx context.Context, message string) {
	msg := &pubsub.Message{
		Data:       []byte(message),
		Attributes: map[string]string{},
	}
	if p.source != "" {
		msg.Attributes["source"] = p.source
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		p.logger.Warn("publish notification failed", zap.Error(err), zap.String("message", message))
		return
	}
	p.logger.Debug("notification published", zap.String("message_id", id))
}

// Close flushes pending publishes.
func (p *PubSub) Close() {
	p.topic.Stop()
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
