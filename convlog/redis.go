package convlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/inkforge/pipeline/types"
	"github.com/redis/go-redis/v9"
)

// RedisDurable checkpoints conversation events to Redis so a Log restart
// (or a second process behind a shared Redis) can recover history. List
// storage mirrors the teacher's RedisMessageStore (agent/persistence/
// redis_message_store.go): one RPUSH per event under a per-conversation
// key, with an EXPIRE refreshed on every append to implement retention
// instead of a separate sweep.
type RedisDurable struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisDurable wraps an existing client. keyPrefix defaults to
// "convlog:" when empty.
func NewRedisDurable(client *redis.Client, keyPrefix string) *RedisDurable {
	if keyPrefix == "" {
		keyPrefix = "convlog:"
	}
	return &RedisDurable{client: client, keyPrefix: keyPrefix}
}

func (d *RedisDurable) key(conversationID string) string {
	return d.keyPrefix + conversationID
}

// Append persists event and refreshes the conversation's retention TTL.
func (d *RedisDurable) Append(ctx context.Context, conversationID string, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("convlog: marshal event: %w", err)
	}
	pipe := d.client.Pipeline()
	pipe.RPush(ctx, d.key(conversationID), data)
	pipe.Expire(ctx, d.key(conversationID), DefaultRetention)
	_, err = pipe.Exec(ctx)
	return err
}

// Load returns every checkpointed event for conversationID, in sequence
// order. Append keeps RPUSH order matching Sequence order by holding the
// durable write inside the conversation's single-writer critical section,
// but Load re-sorts by Sequence anyway as a backstop against any durable
// backend that doesn't make the same guarantee.
func (d *RedisDurable) Load(ctx context.Context, conversationID string) ([]types.Event, error) {
	raw, err := d.client.LRange(ctx, d.key(conversationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]types.Event, 0, len(raw))
	for _, r := range raw {
		var e types.Event
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	return events, nil
}

// Expire sets (or refreshes) conversationID's TTL to retention. Redis
// itself drops the key once the TTL elapses, so there is no separate
// sweep loop to run.
func (d *RedisDurable) Expire(ctx context.Context, conversationID string, retention time.Duration) error {
	return d.client.Expire(ctx, d.key(conversationID), retention).Err()
}
