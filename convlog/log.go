// Package convlog implements the Conversation Log (spec §4.4): an
// append-only, strictly-sequenced event stream per conversation, with
// live pub/sub fan-out to subscribers and Redis-backed durability
// checkpoints grounded on the teacher's agent/persistence Redis stores
// (agent/persistence/redis_message_store.go).
package convlog

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/inkforge/pipeline/internal/channel"
	"github.com/inkforge/pipeline/types"
	"go.uber.org/zap"
)

// DefaultRetention is how long a conversation's events stay queryable
// after its last append (spec §4.4: "24h retention").
const DefaultRetention = 24 * time.Hour

// DefaultSubscriberBuffer bounds each subscriber's undelivered-event
// queue (spec §4.4).
const DefaultSubscriberBuffer = 64

// ErrLagged describes a subscriber whose buffer overflowed; Last is the
// sequence number of the last event it actually received. Subscribe does
// not deliver an ErrLagged value: an overflowing subscriber's channel is
// closed, and the caller resumes via Snapshot or a new Subscribe.
type ErrLagged struct {
	Last uint64
}

func (e *ErrLagged) Error() string {
	return "convlog: subscriber lagged, last delivered sequence was " + itoa(e.Last)
}

var ErrNotFound = errors.New("convlog: conversation not found")

func itoa(u uint64) string {
	if u == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[i:])
}

// Durable is the optional checkpoint backend a Log persists events to.
// convlog/redis.go provides a Redis-backed implementation; Log works
// with a nil Durable as a pure in-memory log.
type Durable interface {
	Append(ctx context.Context, conversationID string, event types.Event) error
	Load(ctx context.Context, conversationID string) ([]types.Event, error)
	Expire(ctx context.Context, conversationID string, retention time.Duration) error
}

// subscriber's buffer is a channel.TunableChannel rather than a bare Go
// channel, so a subscriber under sustained high-volume appends (a long
// book job) grows its buffer instead of lagging as readily as a
// fixed-size buffer would, while an idle subscriber shrinks back down.
type subscriber struct {
	ch     *channel.TunableChannel[types.Event]
	lagged bool
}

type conversation struct {
	mu        sync.Mutex
	events    []types.Event
	nextSeq   uint64
	lastWrite time.Time
	subs      *list.List // *subscriber
}

// Log is the Conversation Log: single-writer-per-conversation append
// serialization, gap-free monotonic sequence numbers, and fan-out to
// live subscribers (spec §4.4, invariant P1).
type Log struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	durable       Durable
	bufferSize    int
	retention     time.Duration
	logger        *zap.Logger
}

// NewLog creates a Conversation Log. durable may be nil for a
// purely in-memory log (tests, single-process dev mode).
func NewLog(durable Durable, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		conversations: make(map[string]*conversation),
		durable:       durable,
		bufferSize:    DefaultSubscriberBuffer,
		retention:     DefaultRetention,
		logger:        logger,
	}
}

// SetRetention overrides the conversation-expiry window (spec §4.4,
// configurable per deployment rather than fixed at DefaultRetention).
func (l *Log) SetRetention(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retention = d
}

// SetBufferSize overrides the per-subscriber channel buffer capacity.
// Only subscriptions created after this call use the new size; existing
// subscriptions keep the buffer they were created with.
func (l *Log) SetBufferSize(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bufferSize = n
}

func (l *Log) conv(conversationID string) *conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conversations[conversationID]
	if !ok {
		c = &conversation{subs: list.New()}
		l.conversations[conversationID] = c
	}
	return c
}

// Append adds event to conversationID, assigning the next sequence
// number. Appends to one conversation serialize through that
// conversation's own mutex (P1: single writer per conversation), so
// concurrent callers for different conversations never block each
// other.
func (l *Log) Append(ctx context.Context, conversationID string, event types.Event) (types.Event, error) {
	c := l.conv(conversationID)

	c.mu.Lock()
	defer c.mu.Unlock()

	event.Sequence = c.nextSeq + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	c.nextSeq = event.Sequence
	c.events = append(c.events, event)
	c.lastWrite = time.Now()

	for e := c.subs.Front(); e != nil; e = e.Next() {
		sub := e.Value.(*subscriber)
		if sub.lagged {
			continue
		}
		if !sub.ch.TrySend(event) {
			sub.lagged = true
			sub.ch.Close()
			continue
		}
		sub.ch.Tune()
	}

	// The durable write stays inside this conversation's critical section
	// so concurrent Append calls for the same conversation (section-body
	// fan-out, per-attempt RecordProviderCall) RPUSH in Sequence order.
	// A durable backend slow enough to matter here should be fixed at the
	// backend, not by letting writes for one conversation race each other.
	if l.durable != nil {
		if err := l.durable.Append(ctx, conversationID, event); err != nil {
			l.logger.Warn("convlog: durable append failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	return event, nil
}

// Snapshot returns every event recorded for conversationID so far, in
// sequence order. Falls back to the durable store when the conversation
// is not (or no longer) held in memory.
func (l *Log) Snapshot(ctx context.Context, conversationID string) ([]types.Event, error) {
	l.mu.Lock()
	c, ok := l.conversations[conversationID]
	l.mu.Unlock()
	if ok {
		c.mu.Lock()
		out := make([]types.Event, len(c.events))
		copy(out, c.events)
		c.mu.Unlock()
		return out, nil
	}
	if l.durable == nil {
		return nil, ErrNotFound
	}
	events, err := l.durable.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events, nil
}

// Subscribe returns a channel of events for conversationID starting
// strictly after fromSeq (0 to receive from the start), plus an unsubscribe
// function. The channel is closed if the subscriber falls behind its
// bounded buffer; check ctx/channel closure and call Snapshot to resume.
func (l *Log) Subscribe(ctx context.Context, conversationID string, fromSeq uint64) (<-chan types.Event, func(), error) {
	c := l.conv(conversationID)

	c.mu.Lock()
	tunable := channel.DefaultTunableConfig()
	tunable.InitialSize = l.bufferSize
	if tunable.MinSize > tunable.InitialSize {
		tunable.MinSize = tunable.InitialSize
	}
	sub := &subscriber{ch: channel.NewTunableChannel[types.Event](tunable)}
	elem := c.subs.PushBack(sub)

	// Replay buffered backlog the subscriber missed, best-effort: if the
	// backlog itself overflows the buffer, mark lagged immediately so the
	// caller falls back to Snapshot instead of silently skipping events.
	for _, e := range c.events {
		if e.Sequence <= fromSeq {
			continue
		}
		if !sub.ch.TrySend(e) {
			sub.lagged = true
			sub.ch.Close()
			break
		}
	}
	c.mu.Unlock()

	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs.Remove(elem)
		if !sub.lagged {
			sub.ch.Close()
		}
	}

	return sub.ch.Chan(), unsubscribe, nil
}

// Expire drops conversationID from memory and the durable store once its
// retention window has elapsed (spec §4.4: 24h retention). Safe to call
// speculatively; it is a no-op if the conversation is still within its
// window or already gone.
func (l *Log) Expire(ctx context.Context, conversationID string) error {
	l.mu.Lock()
	c, ok := l.conversations[conversationID]
	if ok {
		c.mu.Lock()
		stale := !c.lastWrite.IsZero() && time.Since(c.lastWrite) > l.retention
		c.mu.Unlock()
		if stale {
			delete(l.conversations, conversationID)
		}
	}
	l.mu.Unlock()

	if l.durable != nil {
		return l.durable.Expire(ctx, conversationID, l.retention)
	}
	return nil
}

// RecordProviderCall implements llm.EventRecorder, translating a
// provider-call observation into a provider_call conversation event
// (spec §4.1: "Counts are appended to the Conversation Log via a
// provider_call event").
func (l *Log) RecordProviderCall(ctx context.Context, conversationID string, payload types.ProviderCallPayload) {
	event := types.Event{
		Kind: types.EventProviderCall,
		Role: types.RoleAssistant,
		Payload: map[string]any{
			"job_id":      payload.JobID,
			"stage":       payload.Stage,
			"backend":     payload.Backend,
			"model":       payload.Model,
			"attempt":     payload.Attempt,
			"usage":       payload.Usage,
			"duration_ms": payload.DurationMS,
		},
	}
	if _, err := l.Append(ctx, conversationID, event); err != nil {
		l.logger.Warn("convlog: failed to record provider_call event", zap.Error(err))
	}
}
