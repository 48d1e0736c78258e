package stream

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"steersim/engine/internal/auth"
)

// Authenticator maps an upgrade request to a driver identity. An empty
// identity falls back to the remote address.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// AllowAll admits every connection anonymously.
type AllowAll struct{}

// Authenticate implements Authenticator.
func (AllowAll) Authenticate(*http.Request) (string, error) {
	return "", nil
}

// TokenAuthenticator admits connections carrying a valid HS256 token in the
// auth_token query parameter or the X-Auth-Token header.
type TokenAuthenticator struct {
	verifier *auth.HMACTokenVerifier
}

// NewTokenAuthenticator builds an authenticator for secret with a two second
// expiry leeway.
func NewTokenAuthenticator(secret string) (*TokenAuthenticator, error) {
	verifier, err := auth.NewHMACTokenVerifier(secret, 2*time.Second)
	if err != nil {
		return nil, err
	}
	verifier.RequireAudience(auth.Audience)
	return &TokenAuthenticator{verifier: verifier}, nil
}

// Verifier exposes the underlying verifier so callers can issue tokens.
func (a *TokenAuthenticator) Verifier() *auth.HMACTokenVerifier {
	if a == nil {
		return nil
	}
	return a.verifier
}

// Authenticate validates the incoming token and returns the driver identifier.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (string, error) {
	if a == nil || a.verifier == nil {
		return "", errors.New("verifier not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return "", errors.New("missing auth token")
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
