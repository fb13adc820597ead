package stream

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChangesChannel carries collection names whose contents changed
const ChangesChannel = "aegis:telemetry:changes"

// Poker is notified when a collection changes
type Poker interface {
	Poke(collection string)
}

// RedisBridge fans collection-change notifications out across processes
// sharing one store.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger

	// reconnect backoff; tests shorten it
	retryDelay time.Duration
}

// NewRedisBridge creates a bridge publishing and listening on ChangesChannel
func NewRedisBridge(rdb *redis.Client, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		rdb:        rdb,
		channel:    ChangesChannel,
		logger:     logger.Named("redis-bridge"),
		retryDelay: 5 * time.Second,
	}
}

// Publish announces that collection changed
func (b *RedisBridge) Publish(ctx context.Context, collection string) error {
	return b.rdb.Publish(ctx, b.channel, collection).Err()
}

// Listen forwards every announced collection to target until ctx ends,
// resubscribing after connection loss. On each (re)subscribe every known
// collection is poked, since changes may have been missed while offline.
func (b *RedisBridge) Listen(ctx context.Context, target Poker, collections []string) {
	for {
		pubsub := b.rdb.Subscribe(ctx, b.channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("failed to subscribe", zap.String("chan", b.channel), zap.Error(err))
			if !sleep(ctx, b.retryDelay) {
				return
			}
			continue
		}

		for _, c := range collections {
			target.Poke(c)
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}

				collection := strings.TrimSpace(msg.Payload)
				if collection == "" {
					b.logger.Error("invalid change signal", zap.String("payload", msg.Payload))
					continue
				}
				target.Poke(collection)
			}
		}

		pubsub.Close()
		if !sleep(ctx, time.Second) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
