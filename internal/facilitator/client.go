package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vnmchuo/x402-gateway/internal/x402"
)

// Verifier verifies a payment before the protected handler runs and
// settles it afterwards.
type Verifier interface {
	Verify(ctx context.Context, payment *x402.PaymentPayload, req x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payment *x402.PaymentPayload, req x402.PaymentRequirements) (*x402.SettleResponse, error)
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBaseURL replaces the URL implied by the Config. Used by tests.
func WithBaseURL(u string) ClientOption {
	return func(cl *Client) { cl.baseURL = u }
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *cdpSigner
}

type facilitatorRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL:    cfg.BaseURL(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}

	if h, ok := cfg.(Hosted); ok {
		signer, err := newCDPSigner(h.KeyID, h.KeySecret)
		if err != nil {
			return nil, err
		}
		c.signer = signer
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Verify(ctx context.Context, payment *x402.PaymentPayload, req x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	var out x402.VerifyResponse
	if err := c.post(ctx, "/verify", payment, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Settle(ctx context.Context, payment *x402.PaymentPayload, req x402.PaymentRequirements) (*x402.SettleResponse, error) {
	var out x402.SettleResponse
	if err := c.post(ctx, "/settle", payment, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payment *x402.PaymentPayload, req x402.PaymentRequirements, out any) error {
	body, err := json.Marshal(facilitatorRequest{
		X402Version:         x402.Version,
		PaymentPayload:      payment,
		PaymentRequirements: req,
	})
	if err != nil {
		return err
	}

	endpoint := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.signer != nil {
		u, err := url.Parse(endpoint)
		if err != nil {
			return err
		}
		token, err := c.signer.token(http.MethodPost, u.Host, u.Path)
		if err != nil {
			return fmt.Errorf("sign facilitator request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("facilitator %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("facilitator %s failed (status %d): %s", path, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode facilitator %s response: %w", path, err)
	}
	return nil
}
