// Package auth signs and verifies the HS256 tokens that stream clients
// present when they open a driving connection.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Audience is stamped into every token issued for the stream endpoint.
const Audience = "steersim"

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrAudience marks a well-signed token minted for another service.
	ErrAudience = errors.New("token audience mismatch")
)

// TokenClaims captures the payload identifying a driver.
type TokenClaims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Audience  string
}

type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

type tokenPayload struct {
	Subject  string `json:"sub"`
	Expires  int64  `json:"exp"`
	Issued   int64  `json:"iat"`
	Audience string `json:"aud,omitempty"`
}

// HMACTokenVerifier issues and validates compact JWT-style tokens signed with HS256.
type HMACTokenVerifier struct {
	secret   []byte
	now      func() time.Time
	leeway   time.Duration
	audience string
}

// NewHMACTokenVerifier constructs a verifier for the supplied shared secret and clock skew allowance.
func NewHMACTokenVerifier(secret string, leeway time.Duration) (*HMACTokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &HMACTokenVerifier{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// RequireAudience rejects tokens whose aud claim differs from audience.
// Tokens without an aud claim are rejected too once a requirement is set.
func (v *HMACTokenVerifier) RequireAudience(audience string) {
	v.audience = strings.TrimSpace(audience)
}

// Issue signs a token for subject that expires after ttl.
func (v *HMACTokenVerifier) Issue(subject string, ttl time.Duration) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", errors.New("verifier not initialised")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("token subject must not be empty")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	now := v.now()
	header, err := json.Marshal(tokenHeader{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(tokenPayload{
		Subject:  subject,
		Expires:  now.Add(ttl).Unix(),
		Issued:   now.Unix(),
		Audience: v.audience,
	})
	if err != nil {
		return "", err
	}
	signingInput := encodeSegment(header) + "." + encodeSegment(payload)
	signature, err := v.sign([]byte(signingInput))
	if err != nil {
		return "", err
	}
	return signingInput + "." + encodeSegment(signature), nil
}

// Verify checks the signature, expiry and required audience of token and
// returns its claims.
func (v *HMACTokenVerifier) Verify(token string) (*TokenClaims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("verifier not initialised")
	}
	segments, err := v.authenticSegments(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}

	var payload tokenPayload
	if err := decodeJSONSegment(segments[1], &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	claims := &TokenClaims{
		Subject:   payload.Subject,
		ExpiresAt: time.Unix(payload.Expires, 0),
		IssuedAt:  time.Unix(payload.Issued, 0),
		Audience:  payload.Audience,
	}
	if v.now().After(claims.ExpiresAt.Add(v.leeway)) {
		return nil, ErrExpiredToken
	}
	if v.audience != "" && claims.Audience != v.audience {
		return nil, fmt.Errorf("%w: %q", ErrAudience, claims.Audience)
	}
	return claims, nil
}

// authenticSegments splits a compact token and proves it was signed with the
// shared secret using HS256.
func (v *HMACTokenVerifier) authenticSegments(token string) ([3]string, error) {
	var segments [3]string
	parts := strings.Split(token, ".")
	if token == "" || len(parts) != len(segments) {
		return segments, ErrInvalidToken
	}
	copy(segments[:], parts)

	var header tokenHeader
	if err := decodeJSONSegment(segments[0], &header); err != nil {
		return segments, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return segments, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}

	want, err := v.sign([]byte(segments[0] + "." + segments[1]))
	if err != nil {
		return segments, err
	}
	got, err := base64.RawURLEncoding.DecodeString(segments[2])
	if err != nil || !hmac.Equal(got, want) {
		return segments, ErrInvalidToken
	}
	return segments, nil
}

func decodeJSONSegment(segment string, into any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}

func (v *HMACTokenVerifier) sign(payload []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, v.secret)
	if _, err := mac.Write(payload); err != nil {
		return nil, err
	}
	return mac.Sum(nil), nil
}

func encodeSegment(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// WithClock replaces the verifier clock.
func (v *HMACTokenVerifier) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	v.now = clock
}
