package facilitator

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/x402-gateway/internal/x402"
)

func TestSelect(t *testing.T) {
	t.Run("production without credentials fails", func(t *testing.T) {
		for _, s := range []Settings{
			{Production: true},
			{Production: true, KeyID: "id"},
			{Production: true, KeySecret: "secret"},
		} {
			cfg, err := Select(s)
			assert.ErrorIs(t, err, ErrMissingCredentials)
			assert.Nil(t, cfg)
		}
	})

	t.Run("production with credentials is hosted", func(t *testing.T) {
		cfg, err := Select(Settings{Production: true, KeyID: "id", KeySecret: "secret", URL: "http://ignored"})
		require.NoError(t, err)
		assert.Equal(t, Hosted{KeyID: "id", KeySecret: "secret"}, cfg)
		assert.Equal(t, HostedURL, cfg.BaseURL())
		assert.Equal(t, x402.NetworkBase, cfg.DefaultNetwork())
	})

	t.Run("default needs no credentials", func(t *testing.T) {
		cfg, err := Select(Settings{})
		require.NoError(t, err)
		assert.Equal(t, Network{URL: DefaultURL}, cfg)
		assert.Equal(t, x402.NetworkBaseSepolia, cfg.DefaultNetwork())
	})

	t.Run("override url", func(t *testing.T) {
		cfg, err := Select(Settings{URL: "http://localhost:3002/"})
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:3002", cfg.BaseURL())
	})
}

func testPayment() (*x402.PaymentPayload, x402.PaymentRequirements) {
	payment := &x402.PaymentPayload{
		X402Version: 1,
		Scheme:      x402.SchemeExact,
		Network:     x402.NetworkBaseSepolia,
		Payload:     json.RawMessage(`{"signature":"0xsig"}`),
	}
	req := x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkBaseSepolia,
		MaxAmountRequired: "1000",
		PayTo:             "0xpay",
	}
	return payment, req
}

func TestClient_VerifyAndSettle(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var body facilitatorRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 1, body.X402Version)
		assert.Equal(t, "1000", body.PaymentRequirements.MaxAmountRequired)

		switch r.URL.Path {
		case "/verify":
			_, _ = io.WriteString(w, `{"isValid":true,"payer":"0xpayer"}`)
		case "/settle":
			_, _ = io.WriteString(w, `{"success":true,"transaction":"0xtx","network":"base-sepolia","payer":"0xpayer"}`)
		}
	}))
	defer server.Close()

	c, err := NewClient(Network{URL: server.URL})
	require.NoError(t, err)

	payment, req := testPayment()
	v, err := c.Verify(context.Background(), payment, req)
	require.NoError(t, err)
	assert.True(t, v.IsValid)
	assert.Equal(t, "0xpayer", v.Payer)

	s, err := c.Settle(context.Background(), payment, req)
	require.NoError(t, err)
	assert.True(t, s.Success)
	assert.Equal(t, "0xtx", s.Transaction)

	assert.Equal(t, []string{"/verify", "/settle"}, paths)
}

func TestClient_PinsProtocolVersion(t *testing.T) {
	var got facilitatorRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"isValid":true}`)
	}))
	defer server.Close()

	c, err := NewClient(Network{URL: server.URL})
	require.NoError(t, err)

	payment, req := testPayment()
	payment.X402Version = 7
	_, err = c.Verify(context.Background(), payment, req)
	require.NoError(t, err)
	assert.Equal(t, x402.Version, got.X402Version)
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}))
	defer server.Close()

	c, err := NewClient(Network{URL: server.URL})
	require.NoError(t, err)

	payment, req := testPayment()
	_, err = c.Verify(context.Background(), payment, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
}

func TestClient_HostedSignsRequests(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := base64.StdEncoding.EncodeToString(priv)

	var authHeader, host string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		host = r.Host
		_, _ = io.WriteString(w, `{"isValid":true}`)
	}))
	defer server.Close()

	c, err := NewClient(Hosted{KeyID: "key-1", KeySecret: secret}, WithBaseURL(server.URL+"/platform/v2/x402"))
	require.NoError(t, err)

	payment, req := testPayment()
	_, err = c.Verify(context.Background(), payment, req)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(authHeader, "Bearer "))
	claims := &cdpClaims{}
	tok, err := jwt.ParseWithClaims(strings.TrimPrefix(authHeader, "Bearer "), claims, func(*jwt.Token) (any, error) {
		return priv.Public(), nil
	})
	require.NoError(t, err)
	assert.True(t, tok.Valid)
	assert.Equal(t, "key-1", tok.Header["kid"])
	assert.Equal(t, "key-1", claims.Subject)
	assert.Equal(t, "cdp", claims.Issuer)
	assert.Equal(t, []string{"POST " + host + "/platform/v2/x402/verify"}, claims.URIs)
}

func TestNewCDPSigner_ECKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))

	// secrets copied from .env files often carry literal \n
	s, err := newCDPSigner("key-2", strings.ReplaceAll(pemKey, "\n", `\n`))
	require.NoError(t, err)
	assert.Equal(t, jwt.SigningMethodES256, s.method)

	tok, err := s.token(http.MethodPost, "api.cdp.coinbase.com", "/platform/v2/x402/settle")
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
}

func TestNewCDPSigner_InvalidSecret(t *testing.T) {
	_, err := newCDPSigner("id", "not-base64!!")
	assert.Error(t, err)

	_, err = newCDPSigner("id", base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}
