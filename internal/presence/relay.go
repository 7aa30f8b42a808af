// ABOUTME: Redis pub/sub relay so several gateway instances share presence and fan-out
// ABOUTME: Publishes to <prefix>:notify:<principal> / <prefix>:room:<room> and tracks presence sets

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPresenceTTL bounds how long a crashed instance's connections stay online.
const DefaultPresenceTTL = 90 * time.Second

// envelope wraps an event with the instance that produced it so an instance
// ignores its own publications.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisRelay implements Relay on go-redis.
type RedisRelay struct {
	rdb        *redis.Client
	prefix     string
	instanceID string
	ttl        time.Duration
	logger     *slog.Logger
}

// NewRedisRelay creates a relay. prefix namespaces every key and channel.
func NewRedisRelay(rdb *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "workroom"
	}
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisRelay{
		rdb:        rdb,
		prefix:     prefix,
		instanceID: uuid.New().String(),
		ttl:        ttl,
		logger:     logger.With("component", "relay"),
	}
}

func (r *RedisRelay) notifyChannel(principalID string) string {
	return r.prefix + ":notify:" + principalID
}

func (r *RedisRelay) roomChannel(room string) string {
	return r.prefix + ":room:" + room
}

func (r *RedisRelay) presenceKey(principalID string) string {
	return r.prefix + ":presence:" + principalID
}

func (r *RedisRelay) member(connID string) string {
	return r.instanceID + ":" + connID
}

func (r *RedisRelay) publish(ctx context.Context, channel string, ev Event) error {
	payload, err := json.Marshal(envelope{Origin: r.instanceID, Event: ev})
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if err := r.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// PublishPrincipal relays an event addressed to a principal.
func (r *RedisRelay) PublishPrincipal(ctx context.Context, principalID string, ev Event) error {
	return r.publish(ctx, r.notifyChannel(principalID), ev)
}

// PublishRoom relays an event addressed to a room.
func (r *RedisRelay) PublishRoom(ctx context.Context, room string, ev Event) error {
	return r.publish(ctx, r.roomChannel(room), ev)
}

// MarkOnline adds the connection to the principal's presence set and extends its TTL.
func (r *RedisRelay) MarkOnline(ctx context.Context, principalID, connID string) error {
	key := r.presenceKey(principalID)
	pipe := r.rdb.TxPipeline()
	pipe.SAdd(ctx, key, r.member(connID))
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("marking online: %w", err)
	}
	return nil
}

// MarkOffline removes the connection from the principal's presence set.
func (r *RedisRelay) MarkOffline(ctx context.Context, principalID, connID string) error {
	if err := r.rdb.SRem(ctx, r.presenceKey(principalID), r.member(connID)).Err(); err != nil {
		return fmt.Errorf("marking offline: %w", err)
	}
	return nil
}

// IsOnline reports whether any instance holds a channel for principalID.
func (r *RedisRelay) IsOnline(ctx context.Context, principalID string) (bool, error) {
	n, err := r.rdb.SCard(ctx, r.presenceKey(principalID)).Result()
	if err != nil {
		return false, fmt.Errorf("reading presence: %w", err)
	}
	return n > 0, nil
}

// Run subscribes to every relay channel and delivers events from other
// instances into router. It blocks until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, router *Router) error {
	pubsub := r.rdb.PSubscribe(ctx, r.prefix+":notify:*", r.prefix+":room:*")
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to relay channels: %w", err)
	}
	r.logger.Info("relay subscribed", "prefix", r.prefix, "instance_id", r.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(router, msg.Channel, msg.Payload)
		}
	}
}

// dispatch routes one relayed payload to local channels.
func (r *RedisRelay) dispatch(router *Router, channel, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("dropping malformed relay payload", "channel", channel, "error", err)
		return
	}
	if env.Origin == r.instanceID {
		return
	}

	switch {
	case strings.HasPrefix(channel, r.prefix+":notify:"):
		router.DeliverToPrincipal(strings.TrimPrefix(channel, r.prefix+":notify:"), env.Event)
	case strings.HasPrefix(channel, r.prefix+":room:"):
		router.DeliverToRoom(strings.TrimPrefix(channel, r.prefix+":room:"), env.Event)
	default:
		r.logger.Debug("ignoring relay channel", "channel", channel)
	}
}

// Ensure RedisRelay implements Relay
var _ Relay = (*RedisRelay)(nil)
