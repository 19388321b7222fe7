package convlog

import (
	"context"
	"sync"
	"testing"

	"github.com/inkforge/pipeline/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// Concurrent Append calls against one conversation (the section-body
// fan-out and per-attempt RecordProviderCall both do this) must still
// produce a gap-free, duplicate-free sequence regardless of how many
// goroutines race and how the scheduler interleaves them.
func TestProperty_Append_ConcurrentCallsStayGapFreeAndUnique(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		workers := rapid.IntRange(2, 8).Draw(rt, "workers")
		perWorker := rapid.IntRange(1, 20).Draw(rt, "perWorker")

		l := NewLog(nil, zap.NewNop())
		ctx := context.Background()

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					_, err := l.Append(ctx, "conv-1", types.Event{Kind: types.EventStageProgress})
					assert.NoError(t, err) // require.FailNow is unsafe off the test goroutine
				}
			}()
		}
		wg.Wait()

		events, err := l.Snapshot(ctx, "conv-1")
		require.NoError(t, err)

		total := workers * perWorker
		require.Len(t, events, total)

		seen := make(map[uint64]bool, total)
		for _, e := range events {
			assert.False(t, seen[e.Sequence], "duplicate sequence %d", e.Sequence)
			seen[e.Sequence] = true
		}
		for s := uint64(1); s <= uint64(total); s++ {
			assert.True(t, seen[s], "missing sequence %d", s)
		}
	})
}

// A subscriber whose buffer overflows and disconnects must never affect a
// sibling subscriber on the same conversation: the survivor still receives
// every event, in order, unaffected by the other's lag.
func TestProperty_Subscribe_LaggedSubscriberDoesNotAffectSibling(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		eventCount := rapid.IntRange(5, 30).Draw(rt, "eventCount")

		l := NewLog(nil, zap.NewNop())
		l.bufferSize = 1 // force the lagging subscriber to overflow quickly
		ctx := context.Background()

		lagging, unsubLagging, err := l.Subscribe(ctx, "conv-1", 0)
		require.NoError(t, err)
		defer unsubLagging()

		l.SetBufferSize(eventCount + 1)
		survivor, unsubSurvivor, err := l.Subscribe(ctx, "conv-1", 0)
		require.NoError(t, err)
		defer unsubSurvivor()

		for i := 0; i < eventCount; i++ {
			_, err := l.Append(ctx, "conv-1", types.Event{Kind: types.EventStageProgress})
			require.NoError(t, err)
		}

		// Drain whatever the lagging subscriber got before disconnecting;
		// it is allowed to lag, just not to corrupt the survivor's stream.
		for range lagging {
		}

		var last uint64
		for i := 0; i < eventCount; i++ {
			e, ok := <-survivor
			require.True(t, ok, "survivor channel closed early")
			assert.Greater(t, e.Sequence, last)
			last = e.Sequence
		}
	})
}
