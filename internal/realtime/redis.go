package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/sustainhub/internal/forum"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultStream is the Redis stream that carries post events between API replicas.
	DefaultStream = "sustainhub.forum.posts"

	streamMaxLen    = 10000
	relayBatchSize  = 64
	relayBlock      = 5 * time.Second
	relayRetryDelay = time.Second

	fieldType    = "type"
	fieldPostID  = "post_id"
	fieldVersion = "version"
	fieldPayload = "payload"
)

var errMissingRedisClient = errors.New("realtime: redis client is required")

// RedisStream publishes post events to a capped Redis stream and relays the stream back into a
// local Dispatcher.
type RedisStream struct {
	client redis.UniversalClient
	stream string
	logger *zap.Logger
}

// NewRedisStream binds a Redis client to a stream name; an empty name selects DefaultStream.
func NewRedisStream(client redis.UniversalClient, stream string, logger *zap.Logger) (*RedisStream, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStream{client: client, stream: stream, logger: logger}, nil
}

// Stream returns the stream key.
func (s *RedisStream) Stream() string {
	return s.stream
}

func (s *RedisStream) Publish(ctx context.Context, event forum.PostEvent) error {
	values, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
}

// Relay reads events appended after it starts and publishes them into target until ctx ends.
func (s *RedisStream) Relay(ctx context.Context, target forum.EventPublisher) error {
	lastID := "$"
	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.stream, lastID},
			Count:   relayBatchSize,
			Block:   relayBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("redis stream read failed", zap.String("stream", s.stream), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(relayRetryDelay):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				lastID = message.ID
				event, decodeErr := decodeEvent(message.Values)
				if decodeErr != nil {
					s.logger.Warn("skipping malformed stream entry",
						zap.String("stream", s.stream),
						zap.String("entry_id", message.ID),
						zap.Error(decodeErr))
					continue
				}
				if publishErr := target.Publish(ctx, event); publishErr != nil {
					s.logger.Warn("relay publish failed", zap.String("post_id", event.Post.ID), zap.Error(publishErr))
				}
			}
		}
	}
}

func encodeEvent(event forum.PostEvent) (map[string]any, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode post event: %w", err)
	}
	return map[string]any{
		fieldType:    string(event.Type),
		fieldPostID:  event.Post.ID,
		fieldVersion: event.Version,
		fieldPayload: string(payload),
	}, nil
}

func decodeEvent(values map[string]any) (forum.PostEvent, error) {
	payload, ok := values[fieldPayload].(string)
	if !ok || payload == "" {
		return forum.PostEvent{}, errors.New("missing payload")
	}
	var event forum.PostEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return forum.PostEvent{}, fmt.Errorf("decode post event: %w", err)
	}
	if rawVersion, ok := values[fieldVersion].(string); ok {
		version, err := strconv.ParseInt(rawVersion, 10, 64)
		if err != nil {
			return forum.PostEvent{}, fmt.Errorf("decode version: %w", err)
		}
		if version != event.Version {
			return forum.PostEvent{}, fmt.Errorf("version field %d disagrees with payload %d", version, event.Version)
		}
	}
	if event.Post.ID == "" {
		return forum.PostEvent{}, errors.New("payload has no post id")
	}
	return event, nil
}
