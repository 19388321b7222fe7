package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inkforge/pipeline/llm/circuitbreaker"
	"github.com/inkforge/pipeline/llm/retry"
	"github.com/inkforge/pipeline/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBackend struct {
	name  string
	json  bool
	calls int32
	fn    func(attempt int32) (Response, error)
}

func (f *fakeBackend) Name() string          { return f.name }
func (f *fakeBackend) SupportsJSONMode() bool { return f.json }
func (f *fakeBackend) GenerateText(ctx context.Context, req Request) (Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	return f.fn(n)
}

func fastPolicy() *retry.Policy {
	return &retry.Policy{MaxRetries: 3, InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2.0}
}

func TestGateway_SucceedsOnFirstBackend(t *testing.T) {
	a := &fakeBackend{name: "a", fn: func(int32) (Response, error) {
		return Response{Text: "hi", Model: "m"}, nil
	}}
	reg := NewRegistry()
	reg.Register(a)
	gw := NewGateway(reg, fastPolicy(), circuitbreaker.DefaultConfig(), zap.NewNop())

	resp, err := gw.GenerateText(context.Background(), Request{Messages: []types.Message{types.NewUserMessage("hi")}}, CallMeta{})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	assert.Equal(t, int32(1), a.calls)
}

func TestGateway_FailsOverOnTransient(t *testing.T) {
	a := &fakeBackend{name: "a", fn: func(int32) (Response, error) {
		return Response{}, &BackendError{Class: ClassTransient, Backend: "a", Err: errors.New("timeout")}
	}}
	b := &fakeBackend{name: "b", fn: func(int32) (Response, error) {
		return Response{Text: "from b"}, nil
	}}
	reg := NewRegistry()
	reg.Register(a)
	reg.Register(b)
	gw := NewGateway(reg, fastPolicy(), circuitbreaker.DefaultConfig(), zap.NewNop())

	resp, err := gw.GenerateText(context.Background(), Request{Messages: []types.Message{types.NewUserMessage("hi")}}, CallMeta{})
	require.NoError(t, err)
	assert.Equal(t, "from b", resp.Text)
	assert.Equal(t, int32(1), a.calls)
	assert.Equal(t, int32(1), b.calls)
}

func TestGateway_InputErrorSurfacesImmediately(t *testing.T) {
	a := &fakeBackend{name: "a", fn: func(int32) (Response, error) {
		return Response{}, &BackendError{Class: ClassInput, Backend: "a", Err: errors.New("bad json")}
	}}
	b := &fakeBackend{name: "b", fn: func(int32) (Response, error) {
		return Response{Text: "unreachable"}, nil
	}}
	reg := NewRegistry()
	reg.Register(a)
	reg.Register(b)
	gw := NewGateway(reg, fastPolicy(), circuitbreaker.DefaultConfig(), zap.NewNop())

	_, err := gw.GenerateText(context.Background(), Request{Messages: []types.Message{types.NewUserMessage("hi")}}, CallMeta{})
	require.Error(t, err)
	var perr *types.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrBadRequest, perr.Code)
	assert.Equal(t, int32(0), b.calls, "auth/input errors must not fail over")
}

func TestGateway_AuthErrorSurfacesImmediately(t *testing.T) {
	a := &fakeBackend{name: "a", fn: func(int32) (Response, error) {
		return Response{}, &BackendError{Class: ClassAuth, Backend: "a", Err: errors.New("invalid key")}
	}}
	reg := NewRegistry()
	reg.Register(a)
	gw := NewGateway(reg, fastPolicy(), circuitbreaker.DefaultConfig(), zap.NewNop())

	_, err := gw.GenerateText(context.Background(), Request{Messages: []types.Message{types.NewUserMessage("hi")}}, CallMeta{})
	require.Error(t, err)
	var perr *types.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrAuth, perr.Code)
}

func TestGateway_AllBackendsFailedAfterMaxAttempts(t *testing.T) {
	mk := func(name string) *fakeBackend {
		return &fakeBackend{name: name, fn: func(int32) (Response, error) {
			return Response{}, &BackendError{Class: ClassTransient, Backend: name, Err: errors.New("down")}
		}}
	}
	a, b, c, d := mk("a"), mk("b"), mk("c"), mk("d")
	reg := NewRegistry()
	reg.Register(a)
	reg.Register(b)
	reg.Register(c)
	reg.Register(d)
	gw := NewGateway(reg, fastPolicy(), circuitbreaker.DefaultConfig(), zap.NewNop())

	_, err := gw.GenerateText(context.Background(), Request{Messages: []types.Message{types.NewUserMessage("hi")}}, CallMeta{})
	require.Error(t, err)
	var perr *types.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrAllBackendsFailed, perr.Code)
	assert.Equal(t, int32(0), d.calls, "fourth backend must never be tried, cap is 3 attempts")
}

func TestGateway_RespectsContextDeadline(t *testing.T) {
	a := &fakeBackend{name: "a", fn: func(int32) (Response, error) {
		return Response{}, &BackendError{Class: ClassTransient, Backend: "a", Err: errors.New("down")}
	}}
	reg := NewRegistry()
	reg.Register(a)
	gw := NewGateway(reg, fastPolicy(), circuitbreaker.DefaultConfig(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()
	time.Sleep(2 * time.Millisecond)

	_, err := gw.GenerateText(ctx, Request{Messages: []types.Message{types.NewUserMessage("hi")}}, CallMeta{})
	require.Error(t, err)
}

func TestGateway_SchemaMismatchSurfacesAfterFinalAttempt(t *testing.T) {
	a := &fakeBackend{name: "a", json: true, fn: func(int32) (Response, error) {
		return Response{Text: `{"title":"x"}`}, nil
	}}
	reg := NewRegistry()
	reg.Register(a)
	gw := NewGateway(reg, fastPolicy(), circuitbreaker.DefaultConfig(), zap.NewNop())

	schema := types.NewObjectSchema().AddRequired("title", "body")

	_, err := gw.GenerateText(context.Background(), Request{
		Messages:    []types.Message{types.NewUserMessage("hi")},
		RequireJSON: true,
		Schema:      schema,
	}, CallMeta{})
	require.Error(t, err)
	var perr *types.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrSchemaMismatch, perr.Code)
}

func TestGateway_RecordsProviderCallEvents(t *testing.T) {
	a := &fakeBackend{name: "a", fn: func(int32) (Response, error) {
		return Response{Text: "hi", Usage: types.TokenUsage{TotalTokens: 7}}, nil
	}}
	reg := NewRegistry()
	reg.Register(a)
	gw := NewGateway(reg, fastPolicy(), circuitbreaker.DefaultConfig(), zap.NewNop())

	rec := &recordingSink{}
	gw.SetEventRecorder(rec)

	_, err := gw.GenerateText(context.Background(), Request{Messages: []types.Message{types.NewUserMessage("hi")}}, CallMeta{ConversationID: "conv-1", JobID: "job-1", Stage: "outline"})
	require.NoError(t, err)
	require.Len(t, rec.payloads, 1)
	assert.Equal(t, "conv-1", rec.conversationIDs[0])
	assert.Equal(t, "job-1", rec.payloads[0].JobID)
	assert.Equal(t, "outline", rec.payloads[0].Stage)
	assert.Equal(t, 7, rec.payloads[0].Usage.TotalTokens)
}

type recordingSink struct {
	conversationIDs []string
	payloads        []types.ProviderCallPayload
}

func (r *recordingSink) RecordProviderCall(ctx context.Context, conversationID string, payload types.ProviderCallPayload) {
	r.conversationIDs = append(r.conversationIDs, conversationID)
	r.payloads = append(r.payloads, payload)
}

func TestGateway_GlobalInflightLimitBlocksBeyondCap(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	a := &fakeBackend{name: "a", fn: func(int32) (Response, error) {
		entered <- struct{}{}
		<-release
		return Response{Text: "hi"}, nil
	}}
	reg := NewRegistry()
	reg.Register(a)
	gw := NewGateway(reg, fastPolicy(), circuitbreaker.DefaultConfig(), zap.NewNop())
	gw.SetGlobalInflightLimit(1)

	done := make(chan error, 1)
	go func() {
		_, err := gw.GenerateText(context.Background(), Request{Messages: []types.Message{types.NewUserMessage("hi")}}, CallMeta{})
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first call never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := gw.GenerateText(ctx, Request{Messages: []types.Message{types.NewUserMessage("hi")}}, CallMeta{})
	require.Error(t, err, "a second call must block on the global cap while the first holds the only slot")

	close(release)
	require.NoError(t, <-done)
}
