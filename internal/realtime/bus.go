package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-checkin/internal/logger"
)

// Bus carries messages between server processes.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// StartForwarder calls onMsg for every message until ctx ends.
	StartForwarder(ctx context.Context, onMsg func(Message)) error
}

// LocalBus delivers straight to a Hub; used when Redis is not configured.
type LocalBus struct {
	hub *Hub
}

func NewLocalBus(hub *Hub) *LocalBus { return &LocalBus{hub: hub} }

func (b *LocalBus) Publish(_ context.Context, msg Message) error {
	b.hub.Broadcast(msg)
	return nil
}

func (b *LocalBus) StartForwarder(context.Context, func(Message)) error { return nil }

type RedisBus struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string
}

func NewRedisBus(rdb *redis.Client, channel string, log *logger.Logger) *RedisBus {
	if channel == "" {
		channel = "checkin:sse"
	}
	return &RedisBus{log: log.With("component", "RedisBus"), rdb: rdb, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *RedisBus) StartForwarder(ctx context.Context, onMsg func(Message)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn("bad redis SSE payload", "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}
