package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

var epoch = time.Unix(1_760_000_000, 0)

func fixedVerifier(t *testing.T, leeway time.Duration) *HMACTokenVerifier {
	t.Helper()
	verifier, err := NewHMACTokenVerifier("course-secret", leeway)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	verifier.WithClock(func() time.Time { return epoch })
	return verifier
}

func TestVerifyAcceptsSignedDriverToken(t *testing.T) {
	verifier := fixedVerifier(t, time.Second)

	claims, err := verifier.Verify(makeToken(t, "course-secret", "driver-7", "", epoch.Add(30*time.Second)))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "driver-7" || !claims.ExpiresAt.After(epoch) {
		t.Fatalf("unexpected claims %+v", claims)
	}

	//1.- Leeway admits a token that expired a moment ago.
	if _, err := verifier.Verify(makeToken(t, "course-secret", "driver-7", "", epoch.Add(-500*time.Millisecond))); err != nil {
		t.Fatalf("expected leeway to cover a fresh expiry: %v", err)
	}
}

func TestVerifyRejectsTamperedOrStaleTokens(t *testing.T) {
	verifier := fixedVerifier(t, 0)
	good := makeToken(t, "course-secret", "driver-7", "", epoch.Add(time.Minute))

	cases := map[string]struct {
		token string
		want  error
	}{
		"expired":      {makeToken(t, "course-secret", "driver-7", "", epoch.Add(-time.Second)), ErrExpiredToken},
		"wrong secret": {makeToken(t, "pit-secret", "driver-7", "", epoch.Add(time.Minute)), ErrInvalidToken},
		"truncated":    {good[:strings.LastIndex(good, ".")], ErrInvalidToken},
		"empty":        {"", ErrInvalidToken},
	}
	for name, tc := range cases {
		if _, err := verifier.Verify(tc.token); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestHMACTokenVerifierIssueRoundTrip(t *testing.T) {
	verifier := fixedVerifier(t, 0)
	verifier.RequireAudience(Audience)
	now := epoch

	token, err := verifier.Issue("driver-3", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify issued token: %v", err)
	}
	if claims.Subject != "driver-3" || claims.Audience != Audience {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry: %s", claims.ExpiresAt)
	}

	if _, err := verifier.Issue(" ", time.Minute); err == nil {
		t.Fatal("expected empty subject to be rejected")
	}
	if _, err := verifier.Issue("driver-3", 0); err == nil {
		t.Fatal("expected zero ttl to be rejected")
	}
}

func TestHMACTokenVerifierRejectsForeignAudience(t *testing.T) {
	verifier := fixedVerifier(t, 0)
	verifier.RequireAudience(Audience)
	now := epoch

	token := makeToken(t, "course-secret", "driver-7", "pit-wall", now.Add(time.Minute))
	if _, err := verifier.Verify(token); !errors.Is(err, ErrAudience) {
		t.Fatalf("expected ErrAudience, got %v", err)
	}
	//1.- Tokens without an audience fail once one is required.
	token = makeToken(t, "course-secret", "driver-7", "", now.Add(time.Minute))
	if _, err := verifier.Verify(token); !errors.Is(err, ErrAudience) {
		t.Fatalf("expected ErrAudience for missing aud, got %v", err)
	}
}

func makeToken(t *testing.T, secret, subject, audience string, expires time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := fmt.Sprintf(`{"sub":"%s","exp":%d,"iat":%d,"aud":"%s"}`, subject, expires.Unix(), expires.Add(-time.Minute).Unix(), audience)
	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	signingInput := header + "." + encodedPayload
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(signingInput)); err != nil {
		t.Fatalf("mac write: %v", err)
	}
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return signingInput + "." + signature
}
