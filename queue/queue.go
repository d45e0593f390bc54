// Package queue is the relay's event transport: a Redis Streams consumer
// group with at-least-once delivery. Acknowledged messages are gone for
// good; negatively-acknowledged messages are requeued with a bumped attempt
// counter until MaxAttempts, then parked on a dead-letter stream.
package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Config struct {
	Stream      string
	Group       string
	Consumer    string // consumer name within the group
	DLQStream   string
	BatchSize   int64
	Block       time.Duration // poll timeout for a batch read
	MaxAttempts int
}

// Message is one delivery. Body is the raw event payload; Attempt counts
// deliveries of this payload, starting at 1.
type Message struct {
	ID      string
	Body    []byte
	Attempt int
}

// Consumer reads messages from the stream on behalf of a consumer group.
// Construct one at startup and pass it by reference; it owns no global
// state, so several can share one redis client.
type Consumer struct {
	client *redis.Client
	cfg    Config
	log    zerolog.Logger
}

func NewConsumer(client *redis.Client, cfg Config, log zerolog.Logger) (*Consumer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + ":dead"
	}
	c := &Consumer{client: client, cfg: cfg, log: log}
	if err := c.ensureGroup(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	// Starting the group at "0" instead of "$" means messages published
	// before the consumer group existed are still delivered.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return errors.Wrap(err, "creating consumer group")
	}
	return nil
}

// Read blocks up to cfg.Block for a batch of new messages. A payload that
// cannot be decoded from the stream entry is acked and dropped here; it
// could never become processable by redelivery.
func (c *Consumer) Read(ctx context.Context) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading from stream")
	}

	var messages []Message
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			msg, err := parseMessage(raw)
			if err != nil {
				c.log.Error().Err(err).Str("message_id", raw.ID).Msg("could not decode stream entry")
				_ = c.Ack(ctx, Message{ID: raw.ID})
				continue
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func (c *Consumer) Ack(ctx context.Context, msg Message) error {
	return errors.Wrap(c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(), "acking message")
}

// Nack requeues the message for another attempt, or parks it on the
// dead-letter stream once MaxAttempts is reached. The original entry is
// acked either way; the payload lives on under a new stream id.
func (c *Consumer) Nack(ctx context.Context, msg Message, reason string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return errors.Wrap(err, "acking message for requeue")
	}

	if msg.Attempt >= c.cfg.MaxAttempts {
		err := c.client.XAdd(ctx, &redis.XAddArgs{
			Stream: c.cfg.DLQStream,
			Values: map[string]any{
				"body":    string(msg.Body),
				"attempt": msg.Attempt,
				"error":   reason,
			},
		}).Err()
		if err != nil {
			return errors.Wrap(err, "adding message to dead-letter stream")
		}
		c.log.Error().
			Str("message_id", msg.ID).
			Int("attempt", msg.Attempt).
			Str("reason", reason).
			Msg("message moved to dead-letter stream")
		return nil
	}

	err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: map[string]any{
			"body":       string(msg.Body),
			"attempt":    msg.Attempt + 1,
			"last_error": reason,
		},
	}).Err()
	if err != nil {
		return errors.Wrap(err, "requeueing message")
	}
	c.log.Info().
		Str("message_id", msg.ID).
		Int("next_attempt", msg.Attempt+1).
		Str("reason", reason).
		Msg("message requeued")
	return nil
}

func parseMessage(raw redis.XMessage) (Message, error) {
	body, ok := raw.Values["body"].(string)
	if !ok {
		return Message{}, errors.New("stream entry has no body field")
	}
	attempt := 1
	if s, ok := raw.Values["attempt"].(string); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Message{}, errors.Wrap(err, "parsing attempt field")
		}
		if n > 0 {
			attempt = n
		}
	}
	return Message{ID: raw.ID, Body: []byte(body), Attempt: attempt}, nil
}

// Producer publishes event payloads onto the stream. The ingestion endpoint
// and the tests use it; Talk installations are its upstream.
type Producer struct {
	client *redis.Client
	stream string
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream}
}

func (p *Producer) Publish(ctx context.Context, body []byte) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"body":    string(body),
			"attempt": 1,
		},
	}).Result()
	return id, errors.Wrap(err, "publishing message")
}
