package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/redis/go-redis/v9"
)

// StreamPublisher appends messages to Redis streams with XADD.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewStreamPublisher creates a publisher whose HandleEvent writes to stream.
// A positive maxLen caps the stream length approximately.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64, log *slog.Logger) *StreamPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: log.With(slog.String("component", "stream_publisher")),
	}
}

// Publish appends values to stream and returns the message id.
func (p *StreamPublisher) Publish(ctx context.Context, stream string, values map[string]any) (string, error) {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return id, nil
}

// HandleEvent implements EventHandler.
func (p *StreamPublisher) HandleEvent(ctx context.Context, event *Event) error {
	id, err := p.Publish(ctx, p.stream, event.Values())
	if err != nil {
		return err
	}
	logger.FromContextOrDefault(ctx, p.logger).Debug("event published",
		slog.String("event_type", event.Type),
		slog.String("stream", p.stream),
		slog.String("message_id", id),
		slog.String("tenant_id", event.Fields["tenant_id"]),
		slog.String("external_id", event.Fields["external_id"]))
	return nil
}
