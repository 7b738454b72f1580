package relay

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureHeader carries the JWT that signs an inbound webhook body.
const SignatureHeader = "Upstash-Signature"

var (
	ErrMissingSignature = errors.New("relay: missing signature")
	ErrInvalidSignature = errors.New("relay: invalid signature")
)

type signatureClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 signatures against the current key, then the next
// one, so keys can be rotated without dropping traffic.
type Verifier struct {
	keys   [][]byte
	leeway time.Duration
}

// NewVerifier returns nil when no signing key is configured; a nil Verifier
// accepts every request.
func NewVerifier(cfg Config) *Verifier {
	var keys [][]byte
	for _, k := range []string{cfg.CurrentSigningKey, cfg.NextSigningKey} {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return &Verifier{keys: keys, leeway: 30 * time.Second}
}

func (v *Verifier) Enabled() bool {
	return v != nil && len(v.keys) > 0
}

func (v *Verifier) Verify(token string, body []byte) error {
	if !v.Enabled() {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingSignature
	}

	var lastErr error
	for _, key := range v.keys {
		if err := v.verifyWithKey(token, body, key); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func (v *Verifier) verifyWithKey(token string, body []byte, key []byte) error {
	claims := &signatureClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(body)
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	got := strings.TrimRight(claims.Body, "=")
	if got != want {
		return errors.New("body hash mismatch")
	}
	return nil
}

// Sign produces a signature for body with key. Used by tests and local tools
// that replay webhooks.
func Sign(key string, body []byte, ttl time.Duration) (string, error) {
	sum := sha256.Sum256(body)
	now := time.Now()
	claims := signatureClaims{
		Body: base64.URLEncoding.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "Upstash",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}
