package proxy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/x402-gateway/internal/provider"
	"github.com/vnmchuo/x402-gateway/internal/provider/openrouter"
)

type MockProvider struct {
	err   error
	calls atomic.Int32
}

func (m *MockProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return &provider.Result{Model: "mock/model", Content: "mock output"}, nil
}

func (m *MockProvider) Name() string { return "mock" }

func TestExecute_Success(t *testing.T) {
	r := NewRouter(&MockProvider{})

	res, err := r.Execute(context.Background(), &provider.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "mock output", res.Content)
	assert.Equal(t, gobreaker.StateClosed, r.State())
}

func TestExecute_BreakerOpensOnUpstreamFailures(t *testing.T) {
	p := &MockProvider{err: &openrouter.APIError{StatusCode: 502, Status: "Bad Gateway"}}
	r := NewRouter(p)

	for i := 0; i < 3; i++ {
		_, err := r.Execute(context.Background(), &provider.Request{})
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, r.State())

	_, err := r.Execute(context.Background(), &provider.Request{})
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestExecute_ClientErrorsKeepBreakerClosed(t *testing.T) {
	for _, err := range []error{
		&openrouter.APIError{StatusCode: 400, Status: "Bad Request"},
		openrouter.ErrNoChoices,
		openrouter.ErrEmptyResponse,
	} {
		r := NewRouter(&MockProvider{err: err})
		for i := 0; i < 5; i++ {
			_, got := r.Execute(context.Background(), &provider.Request{})
			assert.ErrorIs(t, got, err)
		}
		assert.Equal(t, gobreaker.StateClosed, r.State())
	}
}

type ctxProvider struct{}

func (ctxProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (ctxProvider) Name() string { return "ctx" }

func TestExecute_CallerCancellationKeepsBreakerClosed(t *testing.T) {
	r := NewRouter(ctxProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, err := r.Execute(ctx, &provider.Request{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, r.State())
}

func TestExecute_CallerDeadlineKeepsBreakerClosed(t *testing.T) {
	r := NewRouter(ctxProvider{})

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_, err := r.Execute(ctx, &provider.Request{})
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, gobreaker.StateClosed, r.State())
}
