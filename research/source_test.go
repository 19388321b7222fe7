package research

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSource_SearchReturnsProviderResults(t *testing.T) {
	search := func(ctx context.Context, query string, maxResults int) ([]Result, error) {
		return []Result{{Title: "Intro to " + query, URL: "https://example.com", Snippet: "snippet"}}, nil
	}
	s := New(search, Config{}, zap.NewNop())

	results, err := s.Search(context.Background(), "batch processing", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Intro to batch processing", results[0].Title)
}

func TestSource_CachesResultsPerQuery(t *testing.T) {
	var calls int32
	search := func(ctx context.Context, query string, maxResults int) ([]Result, error) {
		atomic.AddInt32(&calls, 1)
		return []Result{{Title: "result"}}, nil
	}
	s := New(search, Config{CacheTTL: time.Minute}, zap.NewNop())

	_, err := s.Search(context.Background(), "Batch Processing", 5)
	require.NoError(t, err)
	_, err = s.Search(context.Background(), "  batch processing  ", 5)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a case/whitespace-insensitive cache hit should skip the second lookup")
}

func TestSource_CacheEntryExpiresAfterTTL(t *testing.T) {
	var calls int32
	search := func(ctx context.Context, query string, maxResults int) ([]Result, error) {
		atomic.AddInt32(&calls, 1)
		return []Result{{Title: "result"}}, nil
	}
	s := New(search, Config{CacheTTL: time.Millisecond}, zap.NewNop())

	_, err := s.Search(context.Background(), "batch processing", 5)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.Search(context.Background(), "batch processing", 5)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSource_SearchPropagatesProviderError(t *testing.T) {
	search := func(ctx context.Context, query string, maxResults int) ([]Result, error) {
		return nil, errors.New("provider unavailable")
	}
	s := New(search, Config{}, zap.NewNop())

	_, err := s.Search(context.Background(), "batch processing", 5)
	assert.Error(t, err)
}

func TestNoOp_ReturnsNoResultsWithoutError(t *testing.T) {
	results, err := NoOp(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

// fakeStore is an in-memory stand-in for internal/cache.Manager's
// GetJSON/SetJSON, letting these tests exercise Source's Store wiring
// without a live Redis instance.
type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (f *fakeStore) GetJSON(ctx context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	raw, ok := f.data[key]
	f.mu.Unlock()
	if !ok {
		return errors.New("cache miss")
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeStore) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.data[key] = raw
	f.mu.Unlock()
	return nil
}

func TestSource_FallsBackToStoreAcrossFreshInstances(t *testing.T) {
	var calls int32
	search := func(ctx context.Context, query string, maxResults int) ([]Result, error) {
		atomic.AddInt32(&calls, 1)
		return []Result{{Title: "result"}}, nil
	}
	store := newFakeStore()

	first := New(search, Config{CacheTTL: time.Minute}, zap.NewNop())
	first.SetStore(store)
	_, err := first.Search(context.Background(), "batch processing", 5)
	require.NoError(t, err)

	// A second Source, as a fresh process would start with, has no
	// in-memory entries of its own but shares the Store.
	second := New(search, Config{CacheTTL: time.Minute}, zap.NewNop())
	second.SetStore(store)
	results, err := second.Search(context.Background(), "batch processing", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "the second instance should hit the shared store instead of calling search again")
}
