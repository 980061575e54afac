package payment

import "context"

type contextKey string

const payerKey contextKey = "payer"

// GetPayer returns the verified payer address, or "" outside a paid route.
func GetPayer(ctx context.Context) string {
	if p, ok := ctx.Value(payerKey).(string); ok {
		return p
	}
	return ""
}

// WithPayer stores the payer reported by the facilitator.
func WithPayer(ctx context.Context, payer string) context.Context {
	return context.WithValue(ctx, payerKey, payer)
}
