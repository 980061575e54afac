package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/x402-gateway/internal/facilitator"
	"github.com/vnmchuo/x402-gateway/internal/ledger"
	"github.com/vnmchuo/x402-gateway/internal/x402"
)

var (
	ErrMissingPayTo = errors.New("pay-to address is required")
	ErrNoRules      = errors.New("at least one price rule is required")
)

const (
	errHeaderRequired = "X-PAYMENT header is required"
	errMalformed      = "Invalid or malformed payment header"
	errNoMatch        = "Unable to find matching payment requirements"
	errVerifyFailed   = "payment verification failed"
	errSettleFailed   = "payment settlement failed"
)

type Option func(*Gate)

func WithLedger(s ledger.Store) Option {
	return func(g *Gate) { g.ledger = s }
}

func WithTracer(t trace.Tracer) Option {
	return func(g *Gate) { g.tracer = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// Gate admits requests to priced routes only with a payment the
// facilitator accepts, and settles that payment once the handler succeeds.
type Gate struct {
	payTo       string
	routes      []route
	facilitator facilitator.Verifier
	ledger      ledger.Store
	tracer      trace.Tracer
	logger      *slog.Logger

	// pending tracks ledger writes still in flight.
	pending sync.WaitGroup
}

func NewGate(payTo string, rules []PriceRule, v facilitator.Verifier, opts ...Option) (*Gate, error) {
	if strings.TrimSpace(payTo) == "" {
		return nil, ErrMissingPayTo
	}
	if len(rules) == 0 {
		return nil, ErrNoRules
	}
	if v == nil {
		return nil, errors.New("facilitator is required")
	}

	routes := make([]route, 0, len(rules))
	for _, rule := range rules {
		rt, err := compileRule(rule)
		if err != nil {
			return nil, err
		}
		routes = append(routes, rt)
	}

	g := &Gate{
		payTo:       payTo,
		routes:      routes,
		facilitator: v,
		ledger:      ledger.NopStore{},
		tracer:      noop.NewTracerProvider().Tracer("payment"),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gate) match(r *http.Request) (route, bool) {
	for _, rt := range g.routes {
		if rt.matches(r) {
			return rt, true
		}
	}
	return route{}, false
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := g.match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := g.tracer.Start(r.Context(), "payment.gate")
		defer span.End()
		span.SetAttributes(
			attribute.String("route", rt.rule.Route),
			attribute.String("network", rt.rule.Network),
		)

		req := rt.requirements(r, g.payTo)
		accepts := []x402.PaymentRequirements{req}

		header := r.Header.Get(x402.HeaderPayment)
		if header == "" {
			g.paymentRequired(w, accepts, errHeaderRequired, "")
			return
		}

		payment, err := x402.DecodePayment(header)
		if err != nil {
			g.paymentRequired(w, accepts, errMalformed, "")
			return
		}
		if payment.X402Version != x402.Version || payment.Scheme != req.Scheme || payment.Network != req.Network {
			g.paymentRequired(w, accepts, errNoMatch, "")
			return
		}

		verified, err := g.facilitator.Verify(ctx, payment, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "verify failed")
			g.logger.Warn("payment verification failed", "route", rt.rule.Route, "error", err)
			g.paymentRequired(w, accepts, errVerifyFailed, "")
			return
		}
		if !verified.IsValid {
			span.SetAttributes(attribute.String("invalid_reason", verified.InvalidReason))
			g.paymentRequired(w, accepts, verified.InvalidReason, verified.Payer)
			return
		}
		span.SetAttributes(attribute.String("payer", verified.Payer))

		buf := &bufferedWriter{header: make(http.Header)}
		next.ServeHTTP(buf, r.WithContext(WithPayer(ctx, verified.Payer)))

		if buf.statusCode() >= http.StatusBadRequest {
			// failed requests are never charged
			buf.flushTo(w)
			return
		}

		settled, err := g.facilitator.Settle(ctx, payment, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "settle failed")
			g.logger.Warn("payment settlement failed", "route", rt.rule.Route, "payer", verified.Payer, "error", err)
			g.paymentRequired(w, accepts, errSettleFailed, verified.Payer)
			return
		}
		if !settled.Success {
			span.SetAttributes(attribute.String("settle_error", settled.ErrorReason))
			g.logger.Warn("payment settlement rejected", "route", rt.rule.Route, "payer", verified.Payer, "reason", settled.ErrorReason)
			g.paymentRequired(w, accepts, fmt.Sprintf("settlement failed: %s", settled.ErrorReason), verified.Payer)
			return
		}

		receipt, err := x402.EncodeSettlement(settled)
		if err == nil {
			w.Header().Set(x402.HeaderPaymentResponse, receipt)
		}
		span.SetAttributes(attribute.String("transaction", settled.Transaction))

		record := &ledger.Settlement{
			RequestID:   chimiddleware.GetReqID(ctx),
			Route:       rt.rule.Route,
			Payer:       settled.Payer,
			Network:     settled.Network,
			Amount:      req.MaxAmountRequired,
			Transaction: settled.Transaction,
		}
		if record.Payer == "" {
			record.Payer = verified.Payer
		}
		if record.Network == "" {
			record.Network = req.Network
		}
		g.pending.Add(1)
		go func() {
			defer g.pending.Done()
			if err := g.ledger.RecordSettlement(context.Background(), record); err != nil {
				g.logger.Error("failed to record settlement", "transaction", record.Transaction, "error", err)
			}
		}()

		buf.flushTo(w)
	})
}

// Drain waits for in-flight settlement records to be written, or for ctx
// to end.
func (g *Gate) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) paymentRequired(w http.ResponseWriter, accepts []x402.PaymentRequirements, reason, payer string) {
	if reason == "" {
		reason = "payment rejected"
	}
	w.Header().Del(x402.HeaderPaymentResponse)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(x402.PaymentRequired{
		X402Version: x402.Version,
		Error:       reason,
		Accepts:     accepts,
		Payer:       payer,
	})
}

// bufferedWriter holds the handler's response until settlement decides
// whether it is released. Its headers reach the client only on flush.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header {
	return b.header
}

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	w.WriteHeader(b.statusCode())
	_, _ = w.Write(b.body.Bytes())
}
