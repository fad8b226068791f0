package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var serviceTokenTestTime = time.Date(2026, time.March, 14, 10, 30, 0, 0, time.UTC)

func serviceTokenClock() time.Time { return serviceTokenTestTime }

func mintServiceToken(t *testing.T, secret []byte, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return token
}

func validServiceClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "stats-reconciler",
		"iss": "food-market-scheduler",
		"aud": "food-market-api",
		"iat": serviceTokenTestTime.Add(-time.Minute).Unix(),
		"exp": serviceTokenTestTime.Add(10 * time.Minute).Unix(),
	}
}

func TestServiceTokenVerifyAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	validator, err := NewServiceTokenValidator(secret, "food-market-scheduler", "food-market-api",
		WithServiceTokenClock(serviceTokenClock))
	if err != nil {
		t.Fatalf("building validator: %v", err)
	}

	identity, err := validator.Verify(mintServiceToken(t, secret, jwt.SigningMethodHS256, validServiceClaims()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.Subject != "stats-reconciler" {
		t.Errorf("unexpected subject %q", identity.Subject)
	}
	if identity.Issuer != "food-market-scheduler" {
		t.Errorf("unexpected issuer %q", identity.Issuer)
	}
	if identity.Audience != "food-market-api" {
		t.Errorf("unexpected audience %q", identity.Audience)
	}
}

func TestServiceTokenVerifyRejectsBadTokens(t *testing.T) {
	secret := []byte("test-secret")

	expired := validServiceClaims()
	expired["exp"] = serviceTokenTestTime.Add(-10 * time.Minute).Unix()

	wrongIssuer := validServiceClaims()
	wrongIssuer["iss"] = "someone-else"

	wrongAudience := validServiceClaims()
	wrongAudience["aud"] = "another-api"

	notYetValid := validServiceClaims()
	notYetValid["nbf"] = serviceTokenTestTime.Add(10 * time.Minute).Unix()

	missingExpiry := validServiceClaims()
	delete(missingExpiry, "exp")

	cases := []struct {
		name  string
		token string
	}{
		{"expired", mintServiceToken(t, secret, jwt.SigningMethodHS256, expired)},
		{"not valid yet", mintServiceToken(t, secret, jwt.SigningMethodHS256, notYetValid)},
		{"missing expiry", mintServiceToken(t, secret, jwt.SigningMethodHS256, missingExpiry)},
		{"wrong issuer", mintServiceToken(t, secret, jwt.SigningMethodHS256, wrongIssuer)},
		{"wrong audience", mintServiceToken(t, secret, jwt.SigningMethodHS256, wrongAudience)},
		{"wrong signing method", mintServiceToken(t, secret, jwt.SigningMethodHS512, validServiceClaims())},
		{"wrong secret", mintServiceToken(t, []byte("other-secret"), jwt.SigningMethodHS256, validServiceClaims())},
		{"garbage", "not.a.token"},
	}

	validator, err := NewServiceTokenValidator(secret, "food-market-scheduler", "food-market-api",
		WithServiceTokenClock(serviceTokenClock))
	if err != nil {
		t.Fatalf("building validator: %v", err)
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := validator.Verify(tc.token); !errors.Is(err, ErrServiceTokenInvalid) {
				t.Fatalf("expected ErrServiceTokenInvalid, got %v", err)
			}
		})
	}
}

func TestServiceTokenVerifyToleratesClockSkew(t *testing.T) {
	secret := []byte("test-secret")
	validator, err := NewServiceTokenValidator(secret, "", "",
		WithServiceTokenClock(serviceTokenClock),
		WithServiceTokenLeeway(time.Minute))
	if err != nil {
		t.Fatalf("building validator: %v", err)
	}

	claims := validServiceClaims()
	claims["exp"] = serviceTokenTestTime.Add(-30 * time.Second).Unix()

	if _, err := validator.Verify(mintServiceToken(t, secret, jwt.SigningMethodHS256, claims)); err != nil {
		t.Fatalf("expiry inside the leeway window must pass, got %v", err)
	}
}

func TestNewServiceTokenValidatorRequiresSecret(t *testing.T) {
	if _, err := NewServiceTokenValidator(nil, "iss", "aud"); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestRequireServiceToken(t *testing.T) {
	secret := []byte("test-secret")

	var recorded []string
	recorder := MetricsRecorderFunc(func(_ context.Context, scheme string, success bool, reason string, _ time.Duration) {
		recorded = append(recorded, reason)
		if scheme != "service_token" {
			t.Errorf("unexpected scheme %q", scheme)
		}
	})

	validator, err := NewServiceTokenValidator(secret, "food-market-scheduler", "food-market-api",
		WithServiceTokenClock(serviceTokenClock),
		WithServiceTokenMetrics(recorder))
	if err != nil {
		t.Fatalf("building validator: %v", err)
	}

	var gotIdentity *ServiceIdentity
	handler := validator.RequireServiceToken()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected service identity in context")
		}
		gotIdentity = identity
		w.WriteHeader(http.StatusNoContent)
	}))

	// Missing header.
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "unauthenticated" {
		t.Fatalf("expected unauthenticated error, got %v", body["error"])
	}

	// Invalid token.
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "invalid_token" {
		t.Fatalf("expected invalid_token error, got %v", body["error"])
	}

	// Valid token.
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+mintServiceToken(t, secret, jwt.SigningMethodHS256, validServiceClaims()))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (body %s)", rr.Code, rr.Body.String())
	}
	if gotIdentity == nil || gotIdentity.Subject != "stats-reconciler" {
		t.Fatalf("unexpected identity %+v", gotIdentity)
	}

	want := []string{"token_missing", "token_invalid", "ok"}
	if len(recorded) != len(want) {
		t.Fatalf("expected %d verification records, got %v", len(want), recorded)
	}
	for i, reason := range want {
		if recorded[i] != reason {
			t.Errorf("record %d: expected %q, got %q", i, reason, recorded[i])
		}
	}
}
