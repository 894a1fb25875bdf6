package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/chatterstack/chatterhub/internal/stats"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "chatterhub.room."
	channelPattern = channelPrefix + "*"

	maxPublishAttempts = 4
	initialBackoff     = 250 * time.Millisecond
)

// RedisRelay implements Relay on Redis pub/sub. The subscription side
// rides go-redis's built-in reconnect; envelopes published while a
// node's subscription is down are lost for that node, which is logged
// as a degradation rather than treated as fatal.
type RedisRelay struct {
	rdb    *redis.Client
	nodeId string
	log    *log.Logger
	stats  stats.StatsProvider
}

func NewRedisRelay(rdb *redis.Client, nodeId string, logger *log.Logger, st stats.StatsProvider) *RedisRelay {
	return &RedisRelay{
		rdb:    rdb,
		nodeId: nodeId,
		log:    logger,
		stats:  st,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, env *Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	channel := channelPrefix + env.RoomId
	backoff := initialBackoff

	var lastErr error
	for attempt := 1; attempt <= maxPublishAttempts; attempt++ {
		if attempt > 1 {
			r.stats.Incr(stats.RelayRetries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := r.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			lastErr = err
			r.log.Printf("relay: publish to %q failed (attempt %d/%d): %v", channel, attempt, maxPublishAttempts, err)
			continue
		}

		r.stats.Incr(stats.RelayPublished)
		return nil
	}

	return fmt.Errorf("publish to %q: %w", channel, lastErr)
}

func (r *RedisRelay) Run(ctx context.Context, handler Handler) error {
	sub := r.rdb.PSubscribe(ctx, channelPattern)
	defer sub.Close()

	r.log.Printf("relay: node %s subscribed to %q", r.nodeId, channelPattern)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			r.dispatch([]byte(msg.Payload), handler)
		}
	}
}

// dispatch decodes a raw bus payload and hands it to the handler,
// skipping envelopes this node published itself since those were
// already delivered locally at publish time.
func (r *RedisRelay) dispatch(payload []byte, handler Handler) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.log.Printf("relay: dropping undecodable envelope: %v", err)
		return
	}

	if env.OriginNode == r.nodeId {
		return
	}

	r.stats.Incr(stats.RelayReceived)
	handler(&env)
}

func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
