package openrouter

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey = errors.New("OPENROUTER_API_KEY environment variable is required")
	ErrNoChoices     = errors.New("no choices returned from OpenRouter API")
	ErrEmptyResponse = errors.New("empty response from OpenRouter API")
)

// APIError is returned when OpenRouter answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Status     string // status text, e.g. "Bad Gateway"
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("OpenRouter API error: %d %s - %s", e.StatusCode, e.Status, e.Body)
}
