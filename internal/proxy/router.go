package proxy

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/x402-gateway/internal/provider"
	"github.com/vnmchuo/x402-gateway/internal/provider/openrouter"
)

// Router sends generation requests to the upstream provider through a
// circuit breaker, so a dead upstream fails fast instead of holding paid
// requests until the transport timeout.
type Router struct {
	provider provider.Provider
	breaker  *gobreaker.CircuitBreaker
}

func NewRouter(p provider.Provider) *Router {
	settings := gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: isUpstreamHealthy,
	}
	return &Router{
		provider: p,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

// callerError marks a failure caused by the caller's own context ending.
type callerError struct {
	err error
}

func (e *callerError) Error() string { return e.err.Error() }
func (e *callerError) Unwrap() error { return e.err }

// isUpstreamHealthy treats client-side and content errors as healthy
// responses; only transport failures and 5xx trip the breaker.
func isUpstreamHealthy(err error) bool {
	if err == nil {
		return true
	}
	var ce *callerError
	if errors.As(err, &ce) || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *openrouter.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500
	}
	return errors.Is(err, openrouter.ErrNoChoices) || errors.Is(err, openrouter.ErrEmptyResponse)
}

func (r *Router) Execute(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		res, err := r.provider.Generate(ctx, req)
		if err != nil && ctx.Err() != nil {
			return nil, &callerError{err: err}
		}
		return res, err
	})
	if err != nil {
		var ce *callerError
		if errors.As(err, &ce) {
			return nil, ce.err
		}
		return nil, err
	}
	return result.(*provider.Result), nil
}

func (r *Router) State() gobreaker.State {
	return r.breaker.State()
}
