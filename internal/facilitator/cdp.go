package facilitator

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const cdpJWTTTL = 120 * time.Second

type cdpClaims struct {
	jwt.RegisteredClaims
	URIs []string `json:"uris"`
}

// cdpSigner issues the short-lived bearer tokens the hosted facilitator
// expects. The secret is either a base64 Ed25519 key or an EC key in PEM.
type cdpSigner struct {
	keyID  string
	method jwt.SigningMethod
	key    any
	now    func() time.Time
}

func newCDPSigner(keyID, secret string) (*cdpSigner, error) {
	s := &cdpSigner{keyID: keyID, now: time.Now}

	secret = strings.TrimSpace(strings.ReplaceAll(secret, `\n`, "\n"))
	if strings.HasPrefix(secret, "-----BEGIN") {
		key, err := jwt.ParseECPrivateKeyFromPEM([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("parse CDP EC key: %w", err)
		}
		s.method, s.key = jwt.SigningMethodES256, key
		return s, nil
	}

	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode CDP Ed25519 key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, errors.New("CDP Ed25519 key must be 64 bytes")
	}
	s.method, s.key = jwt.SigningMethodEdDSA, ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	return s, nil
}

// token signs a JWT scoped to one request, e.g.
// "POST api.cdp.coinbase.com/platform/v2/x402/verify".
func (s *cdpSigner) token(method, host, path string) (string, error) {
	now := s.now()
	claims := cdpClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.keyID,
			Issuer:    "cdp",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cdpJWTTTL)),
		},
		URIs: []string{fmt.Sprintf("%s %s%s", method, host, path)},
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	tok := jwt.NewWithClaims(s.method, claims)
	tok.Header["kid"] = s.keyID
	tok.Header["nonce"] = hex.EncodeToString(nonce)
	return tok.SignedString(s.key)
}
