package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vnmchuo/x402-gateway/internal/provider"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	FallbackModel  = "openai/gpt-3.5-turbo"
)

// Config is resolved once at start-up.
type Config struct {
	APIKey        string
	BaseURL       string
	ModelOverride string // process-level override, wins over EnvModel
	EnvModel      string // OPENROUTER_MODEL
	DefaultPrompt string // used when a request carries no prompt
	HTTPReferer   string
	XTitle        string
	Timeout       time.Duration
}

type Option func(*OpenRouterProvider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *OpenRouterProvider) { p.httpClient = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *OpenRouterProvider) { p.logger = l }
}

type OpenRouterProvider struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

type openRouterRequest struct {
	Model       string              `json:"model"`
	Messages    []openRouterMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

func New(cfg Config, opts ...Option) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	p := &OpenRouterProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

// ResolveModel picks the explicit override, then the configured override,
// then OPENROUTER_MODEL, then FallbackModel.
func (p *OpenRouterProvider) ResolveModel(override string) string {
	for _, m := range []string{override, p.cfg.ModelOverride, p.cfg.EnvModel} {
		if m = strings.TrimSpace(m); m != "" {
			return m
		}
	}
	return FallbackModel
}

// ResolvePrompt substitutes the configured default for a blank prompt.
func (p *OpenRouterProvider) ResolvePrompt(prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		return p.cfg.DefaultPrompt
	}
	return prompt
}

func (p *OpenRouterProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	model := p.ResolveModel(req.Model)
	start := time.Now()
	log := p.logger.With("provider", p.Name(), "model", model, "request_id", req.RequestID)
	log.Info("generation started")

	result, err := p.generate(ctx, model, req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("generation failed", "error", err, "elapsed_ms", elapsed.Milliseconds())
		return nil, err
	}
	result.LatencyMs = elapsed.Milliseconds()
	log.Info("generation finished", "elapsed_ms", result.LatencyMs, "output_chars", len(result.Content))
	return result, nil
}

func (p *OpenRouterProvider) generate(ctx context.Context, model string, req *provider.Request) (*provider.Result, error) {
	body, err := json.Marshal(p.mapRequest(model, req))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", p.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.cfg.APIKey))
	httpReq.Header.Set("HTTP-Referer", p.cfg.HTTPReferer)
	httpReq.Header.Set("X-Title", p.cfg.XTitle)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openrouter response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       string(respBody),
		}
	}

	var orResp openRouterResponse
	if err := json.Unmarshal(respBody, &orResp); err != nil {
		return nil, fmt.Errorf("decode openrouter response: %w", err)
	}

	if len(orResp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	content, err := Normalize(orResp.Choices[0])
	if err != nil {
		return nil, err
	}

	resolved := orResp.Model
	if resolved == "" {
		resolved = model
	}

	return &provider.Result{
		Model:   resolved,
		Content: content,
		Raw:     json.RawMessage(respBody),
	}, nil
}

func (p *OpenRouterProvider) mapRequest(model string, req *provider.Request) openRouterRequest {
	messages := make([]openRouterMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openRouterMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openRouterMessage{Role: "user", Content: p.ResolvePrompt(req.Prompt)})

	return openRouterRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}
