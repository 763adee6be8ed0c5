package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/phrazzld/labelling-task/internal/metrics"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// ErrMalformedMessage marks a message that can never be processed.
var ErrMalformedMessage = errors.New("malformed stream message")

// Options configures a Consumer.
type Options struct {
	Stream   string
	Group    string
	Consumer string

	// BatchSize is the COUNT used for reads and reclaims.
	BatchSize int64

	// Block bounds how long one read waits for new messages.
	Block time.Duration

	// MinIdle is how long a pending message must sit unacknowledged before
	// another consumer reclaims it.
	MinIdle time.Duration

	// MaxBackoff caps the pause after a failed poll.
	MaxBackoff time.Duration

	// ProcessedTTL is how long handled message ids are remembered so a
	// failed ack does not rerun the handler on redelivery.
	ProcessedTTL time.Duration

	// MaxDeliveries is how many times a message may fail before it is
	// logged and acknowledged. Zero means no limit.
	MaxDeliveries int64
}

// Decoder turns a raw message body into a job.
// It should return an error wrapping ErrMalformedMessage for bad input.
type Decoder[T any] func(values map[string]any) (T, error)

// Handler processes one decoded job.
type Handler[T any] func(ctx context.Context, id string, job T) error

// Consumer reads one stream as one member of a consumer group.
type Consumer[T any] struct {
	client    *redis.Client
	opts      Options
	decode    Decoder[T]
	handle    Handler[T]
	processed *ttlcache.Cache[string, struct{}]
	cursor    string
	logger    *slog.Logger
}

// NewConsumer creates a Consumer.
func NewConsumer[T any](
	client *redis.Client,
	opts Options,
	decode Decoder[T],
	handle Handler[T],
	log *slog.Logger,
) *Consumer[T] {
	if log == nil {
		log = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.ProcessedTTL <= 0 {
		opts.ProcessedTTL = 10 * time.Minute
	}
	return &Consumer[T]{
		client: client,
		opts:   opts,
		decode: decode,
		handle: handle,
		processed: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](opts.ProcessedTTL),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
		cursor: "0-0",
		logger: log.With(
			slog.String("component", "stream_consumer"),
			slog.String("stream", opts.Stream),
			slog.String("group", opts.Group),
			slog.String("consumer", opts.Consumer),
		),
	}
}

// EnsureGroup creates the consumer group, and the stream if needed.
// An existing group is not an error.
func (c *Consumer[T]) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", c.opts.Group, c.opts.Stream, err)
	}
	return nil
}

// Run consumes until ctx is cancelled. A failed poll is logged and followed
// by an exponential pause capped at MaxBackoff; the loop never exits on its
// own except when the group cannot be created.
func (c *Consumer[T]) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		c.logger.Error("consumer group setup failed", slog.String("error", err.Error()))
		return err
	}

	go c.processed.Start()
	defer c.processed.Stop()

	c.logger.Info("stream consumer started")
	backoff := c.newBackoff()
	for ctx.Err() == nil {
		if err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			wait, _ := backoff.Next()
			c.logger.Error("stream poll failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		backoff = c.newBackoff()
	}
	c.logger.Info("stream consumer stopped")
	return nil
}

func (c *Consumer[T]) newBackoff() retry.Backoff {
	b := retry.NewExponential(250 * time.Millisecond)
	b = retry.WithJitterPercent(10, b)
	return retry.WithCappedDuration(c.opts.MaxBackoff, b)
}

// Poll reclaims idle pending messages, reads one batch of new ones and
// processes both. Processing is not interrupted by cancellation of ctx.
func (c *Consumer[T]) Poll(ctx context.Context) error {
	reclaimed, err := c.reclaim(ctx)
	if err != nil {
		return err
	}

	fresh, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  []string{c.opts.Stream, ">"},
		Count:    c.opts.BatchSize,
		Block:    c.opts.Block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read from %s: %w", c.opts.Stream, err)
	}

	batchCtx := context.WithoutCancel(ctx)
	for _, msg := range reclaimed {
		metrics.RecordStreamMessage(c.opts.Stream, metrics.OutcomeReclaimed)
		c.process(batchCtx, msg)
	}
	for _, s := range fresh {
		for _, msg := range s.Messages {
			c.process(batchCtx, msg)
		}
	}
	return nil
}

func (c *Consumer[T]) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	if c.opts.MinIdle <= 0 {
		return nil, nil
	}
	msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.opts.Stream,
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		MinIdle:  c.opts.MinIdle,
		Start:    c.cursor,
		Count:    c.opts.BatchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim pending messages on %s: %w", c.opts.Stream, err)
	}
	c.cursor = next
	return msgs, nil
}

func (c *Consumer[T]) process(ctx context.Context, msg redis.XMessage) {
	log := c.logger.With(slog.String("message_id", msg.ID))
	ctx = logger.WithLogger(ctx, log)

	if c.processed.Has(msg.ID) {
		log.Info("message already processed, acknowledging again")
		metrics.RecordStreamMessage(c.opts.Stream, metrics.OutcomeAckedAgain)
		c.ack(ctx, msg.ID)
		return
	}

	job, err := c.decode(msg.Values)
	if err != nil {
		log.Warn("dropping malformed message", slog.String("error", err.Error()))
		metrics.RecordStreamMessage(c.opts.Stream, metrics.OutcomeMalformed)
		c.ack(ctx, msg.ID)
		return
	}

	if err := c.handle(ctx, msg.ID, job); err != nil {
		if errors.Is(err, ErrMalformedMessage) {
			log.Warn("handler rejected message as malformed", slog.String("error", err.Error()))
			metrics.RecordStreamMessage(c.opts.Stream, metrics.OutcomeMalformed)
			c.ack(ctx, msg.ID)
			return
		}
		if c.exhausted(ctx, msg.ID) {
			log.Error("message failed too many times, abandoning it",
				slog.Int64("max_deliveries", c.opts.MaxDeliveries),
				slog.Any("values", msg.Values),
				slog.String("error", err.Error()))
			metrics.RecordStreamMessage(c.opts.Stream, metrics.OutcomeAbandoned)
			c.ack(ctx, msg.ID)
			return
		}
		log.Error("message handler failed, leaving message pending", slog.String("error", err.Error()))
		metrics.RecordStreamMessage(c.opts.Stream, metrics.OutcomeFailed)
		return
	}

	c.processed.Set(msg.ID, struct{}{}, ttlcache.DefaultTTL)
	metrics.RecordStreamMessage(c.opts.Stream, metrics.OutcomeSucceeded)
	c.ack(ctx, msg.ID)
}

// exhausted reports whether id has been delivered MaxDeliveries times. When
// the count cannot be read the message stays pending.
func (c *Consumer[T]) exhausted(ctx context.Context, id string) bool {
	if c.opts.MaxDeliveries <= 0 {
		return false
	}
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.opts.Stream,
		Group:  c.opts.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		logger.FromContextOrDefault(ctx, c.logger).Warn("failed to read delivery count",
			slog.String("message_id", id),
			slog.String("error", err.Error()))
		return false
	}
	return len(pending) == 1 && pending[0].RetryCount >= c.opts.MaxDeliveries
}

func (c *Consumer[T]) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.opts.Stream, c.opts.Group, id).Err(); err != nil {
		logger.FromContextOrDefault(ctx, c.logger).Error("failed to acknowledge message",
			slog.String("message_id", id),
			slog.String("error", err.Error()))
		return
	}
	c.processed.Delete(id)
}
