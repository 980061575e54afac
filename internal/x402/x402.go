// Package x402 holds the wire types of the x402 payment protocol (version 1)
// and the codecs for the X-PAYMENT and X-PAYMENT-RESPONSE headers.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	Version = 1

	SchemeExact = "exact"

	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
)

var ErrUnsupportedNetwork = errors.New("unsupported network")

// Asset describes the ERC-20 token a network settles in.
type Asset struct {
	Address  string
	Decimals int32
	Name     string // EIP-712 domain name
	Version  string // EIP-712 domain version
}

var usdc = map[string]Asset{
	NetworkBase: {
		Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals: 6,
		Name:     "USD Coin",
		Version:  "2",
	},
	NetworkBaseSepolia: {
		Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals: 6,
		Name:     "USDC",
		Version:  "2",
	},
}

// USDC returns the USDC asset deployed on network.
func USDC(network string) (Asset, error) {
	a, ok := usdc[network]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}
	return a, nil
}

type PaymentRequirements struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description"`
	MimeType          string          `json:"mimeType"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Asset             string          `json:"asset"`
	OutputSchema      json.RawMessage `json:"outputSchema,omitempty"`
	Extra             map[string]any  `json:"extra,omitempty"`
}

// PaymentPayload is the decoded X-PAYMENT header. Payload is scheme
// specific and passed to the facilitator untouched.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Payer       string                `json:"payer,omitempty"`
}

type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// DecodePayment parses an X-PAYMENT header value.
func DecodePayment(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("decode payment header: %w", err)
	}
	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payment header: %w", err)
	}
	if p.Scheme == "" || p.Network == "" || len(p.Payload) == 0 {
		return nil, errors.New("payment header is missing scheme, network or payload")
	}
	return &p, nil
}

// EncodePayment is the inverse of DecodePayment, used by clients and tests.
func EncodePayment(p *PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeSettlement builds the X-PAYMENT-RESPONSE header value.
func EncodeSettlement(s *SettleResponse) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func DecodeSettlement(header string) (*SettleResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, err
	}
	var s SettleResponse
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AtomicAmount converts a dollar price such as "$0.001" into the token's
// smallest unit ("1000" for a 6-decimal token).
func AtomicAmount(price string, decimals int32) (string, error) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("invalid price %q: %w", price, err)
	}
	if !d.IsPositive() {
		return "", fmt.Errorf("invalid price %q: must be positive", price)
	}
	atomic := d.Shift(decimals)
	if !atomic.Equal(atomic.Truncate(0)) {
		return "", fmt.Errorf("invalid price %q: more than %d decimal places", price, decimals)
	}
	return atomic.String(), nil
}
