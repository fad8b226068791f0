package auth

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrServiceTokenInvalid signals the internal service token failed verification.
var ErrServiceTokenInvalid = errors.New("auth: service token invalid")

// Logger abstracts the minimal logging surface used by auth middlewares.
type Logger interface {
	Printf(format string, args ...any)
}

// MetricsRecorder receives verification outcomes for observability pipelines.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, scheme string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to the MetricsRecorder interface.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, scheme string, success bool, reason string, duration time.Duration) {
	if f == nil {
		return
	}
	f(ctx, scheme, success, reason, duration)
}

// ServiceIdentity captures details about the authenticated service principal.
type ServiceIdentity struct {
	Subject  string
	Issuer   string
	Audience string

	Token  *jwt.Token
	Claims map[string]any
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by the middleware.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// ServiceTokenValidator verifies shared-secret service tokens presented by
// internal callers (schedulers, reconciliation jobs).
type ServiceTokenValidator struct {
	secret   []byte
	issuer   string
	audience string

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
	leeway  time.Duration
}

// ServiceTokenOption customises validator behaviour.
type ServiceTokenOption func(*ServiceTokenValidator)

// WithServiceTokenLogger overrides the validator logger.
func WithServiceTokenLogger(logger Logger) ServiceTokenOption {
	return func(v *ServiceTokenValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithServiceTokenMetrics sets the metrics recorder.
func WithServiceTokenMetrics(recorder MetricsRecorder) ServiceTokenOption {
	return func(v *ServiceTokenValidator) {
		v.metrics = recorder
	}
}

// WithServiceTokenClock injects a custom clock (primarily for testing).
func WithServiceTokenClock(now func() time.Time) ServiceTokenOption {
	return func(v *ServiceTokenValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithServiceTokenLeeway tolerates clock skew when validating expiry claims.
func WithServiceTokenLeeway(leeway time.Duration) ServiceTokenOption {
	return func(v *ServiceTokenValidator) {
		if leeway > 0 {
			v.leeway = leeway
		}
	}
}

// NewServiceTokenValidator constructs a validator for HS256-signed service tokens.
func NewServiceTokenValidator(secret []byte, issuer, audience string, opts ...ServiceTokenOption) (*ServiceTokenValidator, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: service token secret is required")
	}

	v := &ServiceTokenValidator{
		secret:   secret,
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		now:      time.Now,
		leeway:   30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify parses and validates the raw token, returning the service identity.
// Signature and signing method are checked by the parser; the time, issuer,
// and audience claims are validated here so the configured clock and leeway
// apply.
func (v *ServiceTokenValidator) Verify(tokenStr string) (*ServiceIdentity, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, ErrServiceTokenInvalid
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrServiceTokenInvalid, err)
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, errors.Join(ErrServiceTokenInvalid, err)
	}

	subject, _ := claims["sub"].(string)
	issuer, _ := claims["iss"].(string)

	return &ServiceIdentity{
		Subject:  subject,
		Issuer:   issuer,
		Audience: v.audience,
		Token:    parsed,
		Claims:   maps.Clone(map[string]any(claims)),
	}, nil
}

func (v *ServiceTokenValidator) validateClaims(claims jwt.MapClaims) error {
	now := v.now()

	if !claims.VerifyExpiresAt(now.Add(-v.leeway).Unix(), true) {
		return errors.New("token is expired or carries no expiry")
	}
	if !claims.VerifyNotBefore(now.Add(v.leeway).Unix(), false) {
		return errors.New("token is not valid yet")
	}
	if !claims.VerifyIssuedAt(now.Add(v.leeway).Unix(), false) {
		return errors.New("token was issued in the future")
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return errors.New("unexpected issuer")
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return errors.New("unexpected audience")
	}
	return nil
}

// RequireServiceToken enforces presence of a valid service token on the request.
func (v *ServiceTokenValidator) RequireServiceToken() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			if v != nil && v.now != nil {
				start = v.now()
			}
			ctx := r.Context()

			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				v.record(ctx, false, "token_missing", start)
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "service token missing")
				return
			}

			identity, err := v.Verify(tokenStr)
			if err != nil {
				if v != nil && v.logger != nil {
					v.logger.Printf("auth: service token verification failed: %v", err)
				}
				v.record(ctx, false, "token_invalid", start)
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "service token verification failed")
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *ServiceTokenValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	duration := v.now().Sub(start)
	v.metrics.RecordVerification(ctx, "service_token", success, reason, duration)
}
