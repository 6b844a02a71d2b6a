// Package jwtauth validates end-user bearer tokens against an OIDC
// identity provider (Auth0-style): RS256 signature via the issuer's
// JWKS, issuer/audience/exp/nbf checks, and claim extraction into a
// per-request Principal.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNotConfigured indicates the validator was built without issuer and
// audience settings. This is a deployment-state error, not a per-request
// one; gated routes should answer 503 until it is fixed.
var ErrNotConfigured = errors.New("jwtauth: not configured")

// ErrMissingToken indicates no bearer token was supplied.
var ErrMissingToken = errors.New("jwtauth: missing bearer token")

// ErrInvalidToken indicates the token failed signature, time, issuer or
// audience validation. The wrapped detail names the sub-reason.
var ErrInvalidToken = errors.New("jwtauth: invalid token")

// Principal is the authenticated identity derived from a validated
// token. It lives for a single request and is never persisted.
type Principal struct {
	Subject string
	Email   string
	Name    string
	Claims  map[string]any
}

// Validator turns a raw bearer token into a Principal or a classified
// failure. Validation is total: every call yields exactly one of the two.
type Validator interface {
	Validate(ctx context.Context, rawToken string) (*Principal, error)
}

// Config controls validation behavior.
type Config struct {
	// Issuer is the expected "iss" claim, e.g. "https://tenant.auth0.com/".
	Issuer string
	// Audience must appear in the token's "aud" claim.
	Audience string
	// AllowedAlgs restricts JWS algorithms. "none" and symmetric
	// algorithms are never accepted. Defaults to ["RS256"].
	AllowedAlgs []string
	// Leeway is the clock-skew tolerance for exp/nbf.
	Leeway time.Duration
}

// DefaultConfig returns a Config with safe algorithm + leeway defaults.
func DefaultConfig() *Config {
	return &Config{AllowedAlgs: []string{"RS256"}, Leeway: 30 * time.Second}
}

type keysetValidator struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
}

var _ Validator = (*keysetValidator)(nil)

// NewFromDiscovery performs OIDC discovery against cfg.Issuer to locate
// the jwks_uri and returns a Validator backed by an auto-refreshing,
// kid-keyed JWKS cache. Concurrent validations share one key fetch.
func NewFromDiscovery(ctx context.Context, cfg *Config) (Validator, error) {
	if cfg == nil || cfg.Issuer == "" || cfg.Audience == "" {
		return nil, ErrNotConfigured
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery metadata does not declare a jwks_uri")
	}
	return NewStatic(ctx, cfg, meta.JwksURI)
}

// NewStatic returns a Validator that fetches keys from a known JWKS URI,
// bypassing discovery.
func NewStatic(ctx context.Context, cfg *Config, jwksURI string) (Validator, error) {
	if cfg == nil || cfg.Issuer == "" || cfg.Audience == "" {
		return nil, ErrNotConfigured
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &keysetValidator{cfg: cfg, keyfunc: func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		for _, a := range cfg.AllowedAlgs {
			if alg == a {
				return kf.Keyfunc(t)
			}
		}
		return nil, fmt.Errorf("disallowed alg: %s", alg)
	}}, nil
}

func (v *keysetValidator) Validate(ctx context.Context, rawToken string) (*Principal, error) {
	if rawToken == "" {
		return nil, ErrMissingToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(rawToken, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidToken, subReason(err), err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: malformed: unexpected claims type", ErrInvalidToken)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: malformed: missing sub", ErrInvalidToken)
	}

	return &Principal{
		Subject: sub,
		Email:   v.claimString(claims, "email"),
		Name:    v.claimString(claims, "name"),
		Claims:  claims,
	}, nil
}

// claimString looks up a claim by its primary name, falling back to the
// audience-namespaced key some providers use for custom claims
// (e.g. "https://api.example.com/email"). Provider-specific; adjust when
// the identity provider namespaces claims differently.
func (v *keysetValidator) claimString(claims jwt.MapClaims, name string) string {
	if s, ok := claims[name].(string); ok {
		return s
	}
	if s, ok := claims[v.cfg.Audience+name].(string); ok {
		return s
	}
	return ""
}

// subReason classifies a parse/verify failure for error messages.
func subReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad-signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "bad-issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "bad-audience"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "not-yet-valid"
	default:
		return "malformed"
	}
}

type unconfigured struct{}

// NewUnconfigured returns the Validator variant used when issuer or
// audience settings are absent at startup. Every call reports
// ErrNotConfigured; the variant is chosen once at process start and
// never re-checked per request.
func NewUnconfigured() Validator { return unconfigured{} }

func (unconfigured) Validate(context.Context, string) (*Principal, error) {
	return nil, ErrNotConfigured
}
