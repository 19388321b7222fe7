package convlog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/inkforge/pipeline/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLog_Append_AssignsGapFreeSequence(t *testing.T) {
	l := NewLog(nil, zap.NewNop())
	ctx := context.Background()

	e1, err := l.Append(ctx, "conv-1", types.Event{Kind: types.EventStageStarted})
	require.NoError(t, err)
	e2, err := l.Append(ctx, "conv-1", types.Event{Kind: types.EventStageCompleted})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, uint64(2), e2.Sequence)
}

func TestLog_Append_SeparateConversationsIndependentSequences(t *testing.T) {
	l := NewLog(nil, zap.NewNop())
	ctx := context.Background()

	a, err := l.Append(ctx, "conv-a", types.Event{Kind: types.EventStageStarted})
	require.NoError(t, err)
	b, err := l.Append(ctx, "conv-b", types.Event{Kind: types.EventStageStarted})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), a.Sequence)
	assert.Equal(t, uint64(1), b.Sequence)
}

func TestLog_Snapshot_ReturnsAllEventsInOrder(t *testing.T) {
	l := NewLog(nil, zap.NewNop())
	ctx := context.Background()

	_, _ = l.Append(ctx, "conv-1", types.Event{Kind: types.EventStageStarted})
	_, _ = l.Append(ctx, "conv-1", types.Event{Kind: types.EventStageProgress})
	_, _ = l.Append(ctx, "conv-1", types.Event{Kind: types.EventStageCompleted})

	events, err := l.Snapshot(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.EventStageCompleted, events[2].Kind)
}

func TestLog_Snapshot_UnknownConversationErrors(t *testing.T) {
	l := NewLog(nil, zap.NewNop())
	_, err := l.Snapshot(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLog_Subscribe_ReceivesSubsequentAppends(t *testing.T) {
	l := NewLog(nil, zap.NewNop())
	ctx := context.Background()

	ch, unsubscribe, err := l.Subscribe(ctx, "conv-1", 0)
	require.NoError(t, err)
	defer unsubscribe()

	_, _ = l.Append(ctx, "conv-1", types.Event{Kind: types.EventStageStarted})

	select {
	case e := <-ch:
		assert.Equal(t, types.EventStageStarted, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestLog_Subscribe_ReplaysBacklogAfterFromSeq(t *testing.T) {
	l := NewLog(nil, zap.NewNop())
	ctx := context.Background()

	_, _ = l.Append(ctx, "conv-1", types.Event{Kind: types.EventStageStarted})
	second, _ := l.Append(ctx, "conv-1", types.Event{Kind: types.EventStageProgress})

	ch, unsubscribe, err := l.Subscribe(ctx, "conv-1", 1)
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case e := <-ch:
		assert.Equal(t, second.Sequence, e.Sequence)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for backlog replay")
	}
}

func TestLog_Subscribe_LagDisconnectsOnBufferOverflow(t *testing.T) {
	l := NewLog(nil, zap.NewNop())
	l.bufferSize = 2
	ctx := context.Background()

	_, _, _ = l.Subscribe(ctx, "conv-1", 0)

	for i := 0; i < 5; i++ {
		_, _ = l.Append(ctx, "conv-1", types.Event{Kind: types.EventWarning})
	}

	// No panic on overflow, no deadlock: appends must all have returned.
	events, err := l.Snapshot(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestLog_RecordProviderCall_AppendsProviderCallEvent(t *testing.T) {
	l := NewLog(nil, zap.NewNop())
	l.RecordProviderCall(context.Background(), "conv-1", types.ProviderCallPayload{
		JobID:   "job-1",
		Stage:   "outline",
		Backend: "anthropic",
	})

	events, err := l.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventProviderCall, events[0].Kind)
	assert.Equal(t, "anthropic", events[0].Payload["backend"])
}

func TestRedisDurable_AppendAndLoadRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	durable := NewRedisDurable(client, "")

	ctx := context.Background()
	event := types.Event{Sequence: 1, Kind: types.EventStageStarted, Timestamp: time.Now()}
	require.NoError(t, durable.Append(ctx, "conv-1", event))

	loaded, err := durable.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, types.EventStageStarted, loaded[0].Kind)
}

func TestLog_Snapshot_FallsBackToDurableWhenNotInMemory(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	durable := NewRedisDurable(client, "")
	ctx := context.Background()

	require.NoError(t, durable.Append(ctx, "conv-1", types.Event{Sequence: 1, Kind: types.EventFinalArtifact}))

	l := NewLog(durable, zap.NewNop())
	events, err := l.Snapshot(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventFinalArtifact, events[0].Kind)
}
