package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/x402-gateway/config"
	"github.com/vnmchuo/x402-gateway/internal/facilitator"
	"github.com/vnmchuo/x402-gateway/internal/ledger"
	"github.com/vnmchuo/x402-gateway/internal/logging"
	"github.com/vnmchuo/x402-gateway/internal/payment"
	"github.com/vnmchuo/x402-gateway/internal/provider/openrouter"
	"github.com/vnmchuo/x402-gateway/internal/proxy"
	"github.com/vnmchuo/x402-gateway/internal/telemetry"
	"github.com/vnmchuo/x402-gateway/pkg/ratelimit"
)

const (
	serviceName    = "x402-gateway"
	serviceVersion = "0.1.0"
	paidRoute      = "POST /generate-text"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	// 2. Init telemetry
	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Options{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		ExporterType:   cfg.OTELExporterType,
		Endpoint:       cfg.OTELExporterEndpoint,
	})
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())
	tracer := otel.GetTracerProvider().Tracer(serviceName)

	// 3. Prompt profile
	profile := config.DefaultProfile()
	if cfg.PromptConfigPath != "" {
		profile, err = config.LoadProfile(cfg.PromptConfigPath)
		if err != nil {
			return err
		}
		logger.Info("prompt profile loaded", "path", cfg.PromptConfigPath)
	}

	// 4. Facilitator
	facCfg, err := facilitator.Select(facilitator.Settings{
		Production: cfg.UseMainnet,
		KeyID:      cfg.CDPAPIKeyID,
		KeySecret:  cfg.CDPAPIKeySecret,
		URL:        cfg.FacilitatorURL,
	})
	if err != nil {
		return err
	}
	facClient, err := facilitator.NewClient(facCfg)
	if err != nil {
		return err
	}
	network := cfg.Network
	if network == "" {
		network = facCfg.DefaultNetwork()
	}
	logger.Info("facilitator selected", "mode", facCfg.Mode(), "url", facCfg.BaseURL(), "network", network)

	// 5. Upstream provider
	provider, err := openrouter.New(openrouter.Config{
		APIKey:        cfg.OpenRouterAPIKey,
		ModelOverride: profile.ModelOverride,
		EnvModel:      cfg.OpenRouterModel,
		DefaultPrompt: profile.DefaultUserPrompt,
		HTTPReferer:   cfg.OpenRouterHTTPReferer,
		XTitle:        cfg.OpenRouterXTitle,
		Timeout:       payment.DefaultMaxTimeoutSeconds * time.Second,
	}, openrouter.WithLogger(logger))
	if err != nil {
		return err
	}

	// 6. Settlement ledger (optional)
	var store ledger.Store = ledger.NopStore{}
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return err
		}
		pgStore := ledger.NewPostgresStore(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pgStore
		logger.Info("PostgreSQL connected, settlements will be recorded")
	}

	// 7. Rate limiter (optional)
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		limiter = ratelimit.NewLimiter(rdb, cfg.RateLimitRPM)
		logger.Info("Redis connected, rate limiting enabled", "rpm", cfg.RateLimitRPM)
	}

	// 8. Payment gate
	gate, err := payment.NewGate(cfg.PayToAddress, []payment.PriceRule{{
		Route:       paidRoute,
		Price:       cfg.Price,
		Network:     network,
		Description: "Generate text with an OpenRouter model",
		MimeType:    "application/json",
		InputSchema: map[string]any{
			"bodyType": "json",
			"bodyFields": map[string]any{
				"prompt": map[string]any{"type": "string", "description": "User prompt, defaults to the configured prompt"},
				"model":  map[string]any{"type": "string", "description": "OpenRouter model id"},
			},
		},
		OutputSchema: map[string]any{
			"success": map[string]any{"type": "boolean"},
			"model":   map[string]any{"type": "string"},
			"output":  map[string]any{"type": "string"},
		},
	}}, facClient,
		payment.WithLedger(store),
		payment.WithTracer(tracer),
		payment.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	// 9. Handler and routes
	pricing := proxy.Pricing{
		Route:       paidRoute,
		Price:       cfg.Price,
		Network:     network,
		Facilitator: facCfg.Mode(),
	}
	handler := proxy.NewHandler(proxy.NewRouter(provider), profile, pricing, provider.ResolveModel(""), tracer, logger)
	mux := proxy.NewMux(handler, gate, limiter, logger)

	// 10. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("x402 gateway starting", "port", cfg.Port, "price", cfg.Price, "pay_to", cfg.PayToAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := gate.Drain(shutdownCtx); err != nil {
		logger.Warn("settlement records still pending at shutdown", "error", err)
	}
	logger.Info("Server stopped")
	return nil
}
