package provider

import (
	"context"
	"encoding/json"
)

type Request struct {
	Prompt       string
	Model        string // optional override
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	// Metadata for logging
	RequestID string
}

// Result is the normalized outcome of one generation call.
type Result struct {
	Model     string
	Content   string
	Raw       json.RawMessage
	LatencyMs int64
}

type Provider interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
	Name() string
}
