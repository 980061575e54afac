package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/x402-gateway/config"
	"github.com/vnmchuo/x402-gateway/internal/payment"
	"github.com/vnmchuo/x402-gateway/internal/provider"
)

const serviceName = "x402-gateway"

// Pricing describes the paid route for the free discovery endpoints.
type Pricing struct {
	Route       string `json:"route"`
	Price       string `json:"price"`
	Network     string `json:"network"`
	Facilitator string `json:"facilitator"`
}

type Handler struct {
	router       *Router
	profile      config.Profile
	pricing      Pricing
	defaultModel string
	tracer       trace.Tracer
	logger       *slog.Logger
}

func NewHandler(router *Router, profile config.Profile, pricing Pricing, defaultModel string, tracer trace.Tracer, logger *slog.Logger) *Handler {
	return &Handler{
		router:       router,
		profile:      profile,
		pricing:      pricing,
		defaultModel: defaultModel,
		tracer:       tracer,
		logger:       logger,
	}
}

type generateRequest struct {
	Prompt json.RawMessage `json:"prompt"`
	Model  json.RawMessage `json:"model"`
}

func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": serviceName,
		"status":  "ok",
		"agent":   h.profile.Agent.Name,
		"tagline": h.profile.Agent.Tagline,
		"endpoints": map[string]string{
			"GET /":               "service status and example prompts",
			"GET /config":         "prompt, model and pricing configuration",
			"POST /generate-text": "paid text generation",
		},
		"pricing":         h.pricing,
		"example_prompts": h.profile.ExamplePrompts,
	})
}

func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":               h.profile.Agent,
		"system_prompt":       h.profile.SystemPrompt,
		"default_user_prompt": h.profile.DefaultUserPrompt,
		"model":               h.defaultModel,
		"model_override":      h.profile.ModelOverride,
		"generation":          h.profile.Generation,
		"pricing":             h.pricing,
		"examples":            h.profile.Examples,
	})
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := chimiddleware.GetReqID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt, ok := optionalString(body.Prompt)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing or invalid 'prompt' in request body")
		return
	}
	model, ok := optionalString(body.Model)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid 'model' in request body")
		return
	}

	ctx, span := h.tracer.Start(ctx, "proxy.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("model", model),
		attribute.String("payer", payment.GetPayer(ctx)),
	)

	result, err := h.router.Execute(ctx, &provider.Request{
		Prompt:       prompt,
		Model:        model,
		SystemPrompt: h.profile.SystemPrompt,
		Temperature:  h.profile.Generation.Temperature,
		MaxTokens:    h.profile.Generation.MaxTokens,
		RequestID:    requestID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		h.logger.Error("error generating text", "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	span.SetAttributes(attribute.String("resolved_model", result.Model))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"model":   result.Model,
		"output":  result.Content,
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": serviceName,
		"breaker": h.router.State().String(),
	})
}

// optionalString accepts an absent, null or string JSON value.
func optionalString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}
