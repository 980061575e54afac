package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/x402-gateway/internal/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc, cfg Config) *OpenRouterProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	cfg.BaseURL = server.URL
	p, err := New(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return p
}

func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestGenerate_Success(t *testing.T) {
	var got openRouterRequest
	var auth, referer, title string

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		referer = r.Header.Get("HTTP-Referer")
		title = r.Header.Get("X-Title")
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"gen-1","model":"openai/gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"  Answer \n"}}]}`)
	}, Config{HTTPReferer: "https://example.com", XTitle: "x402 gateway"})

	res, err := p.Generate(context.Background(), &provider.Request{
		Prompt:       "Explain x",
		SystemPrompt: "be brief",
		Temperature:  0.7,
		MaxTokens:    4000,
	})
	require.NoError(t, err)

	assert.Equal(t, "Answer", res.Content)
	assert.Equal(t, "openai/gpt-4o-mini", res.Model)
	assert.Contains(t, string(res.Raw), `"gen-1"`)

	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "https://example.com", referer)
	assert.Equal(t, "x402 gateway", title)

	assert.Equal(t, FallbackModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openRouterMessage{Role: "system", Content: "be brief"}, got.Messages[0])
	assert.Equal(t, openRouterMessage{Role: "user", Content: "Explain x"}, got.Messages[1])
	assert.Equal(t, 0.7, got.Temperature)
	assert.Equal(t, 4000, got.MaxTokens)
}

func TestGenerate_SegmentedContent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":[{"text":"Part1"},{"content":"Part2"}]}}]}`)
	}, Config{EnvModel: "env/model"})

	res, err := p.Generate(context.Background(), &provider.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Part1\nPart2", res.Content)
	// provider omitted the model, so the requested one is reported
	assert.Equal(t, "env/model", res.Model)
}

func TestGenerate_DefaultPrompt(t *testing.T) {
	var got openRouterRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"choices":[{"text":"hello"}]}`)
	}, Config{DefaultPrompt: "Introduce yourself"})

	_, err := p.Generate(context.Background(), &provider.Request{Prompt: "   "})
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Introduce yourself", got.Messages[0].Content)
}

func TestGenerate_APIError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `upstream down`)
	}, Config{})

	_, err := p.Generate(context.Background(), &provider.Request{Prompt: "hi"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Bad Gateway", apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Body)
	assert.Contains(t, err.Error(), "502")
}

func TestGenerate_NoChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}, Config{})

	_, err := p.Generate(context.Background(), &provider.Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestGenerate_EmptyResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":""}}]}`)
	}, Config{})

	_, err := p.Generate(context.Background(), &provider.Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestResolveModel(t *testing.T) {
	p, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, FallbackModel, p.ResolveModel(""))

	p, _ = New(Config{APIKey: "k", EnvModel: "env/m"})
	assert.Equal(t, "env/m", p.ResolveModel(""))

	p, _ = New(Config{APIKey: "k", EnvModel: "env/m", ModelOverride: "profile/m"})
	assert.Equal(t, "profile/m", p.ResolveModel(""))
	assert.Equal(t, "req/m", p.ResolveModel("req/m"))
}

func TestName(t *testing.T) {
	p, _ := New(Config{APIKey: "k"})
	assert.Equal(t, "openrouter", p.Name())
}
