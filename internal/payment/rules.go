package payment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/vnmchuo/x402-gateway/internal/x402"
)

const DefaultMaxTimeoutSeconds = 60

// PriceRule binds a price and a network to one protected route.
// Route is "METHOD /path" or "/path"; the path may use path.Match globs.
type PriceRule struct {
	Route             string
	Price             string // dollar amount, e.g. "$0.001"
	Network           string
	Description       string
	MimeType          string
	InputSchema       map[string]any
	OutputSchema      map[string]any
	MaxTimeoutSeconds int
}

type route struct {
	rule    PriceRule
	method  string
	pattern string
	amount  string
	asset   x402.Asset
}

func compileRule(rule PriceRule) (route, error) {
	method, pattern := "", strings.TrimSpace(rule.Route)
	if i := strings.IndexByte(pattern, ' '); i > 0 {
		method, pattern = strings.ToUpper(pattern[:i]), strings.TrimSpace(pattern[i+1:])
	}
	if !strings.HasPrefix(pattern, "/") {
		return route{}, fmt.Errorf("route %q: path must start with /", rule.Route)
	}
	if _, err := path.Match(pattern, "/"); err != nil {
		return route{}, fmt.Errorf("route %q: %w", rule.Route, err)
	}

	asset, err := x402.USDC(rule.Network)
	if err != nil {
		return route{}, fmt.Errorf("route %q: %w", rule.Route, err)
	}
	amount, err := x402.AtomicAmount(rule.Price, asset.Decimals)
	if err != nil {
		return route{}, fmt.Errorf("route %q: %w", rule.Route, err)
	}

	if rule.MaxTimeoutSeconds <= 0 {
		rule.MaxTimeoutSeconds = DefaultMaxTimeoutSeconds
	}
	if rule.MimeType == "" {
		rule.MimeType = "application/json"
	}
	return route{rule: rule, method: method, pattern: pattern, amount: amount, asset: asset}, nil
}

func (rt route) matches(r *http.Request) bool {
	if rt.method != "" && rt.method != r.Method {
		return false
	}
	ok, _ := path.Match(rt.pattern, r.URL.Path)
	return ok
}

func (rt route) requirements(r *http.Request, payTo string) x402.PaymentRequirements {
	input := map[string]any{"type": "http", "method": r.Method}
	for k, v := range rt.rule.InputSchema {
		input[k] = v
	}
	schema, _ := json.Marshal(map[string]any{
		"input":  input,
		"output": rt.rule.OutputSchema,
	})

	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           rt.rule.Network,
		MaxAmountRequired: rt.amount,
		Resource:          resourceURL(r),
		Description:       rt.rule.Description,
		MimeType:          rt.rule.MimeType,
		PayTo:             payTo,
		MaxTimeoutSeconds: rt.rule.MaxTimeoutSeconds,
		Asset:             rt.asset.Address,
		OutputSchema:      schema,
		Extra: map[string]any{
			"name":    rt.asset.Name,
			"version": rt.asset.Version,
		},
	}
}

func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.Path)
}
