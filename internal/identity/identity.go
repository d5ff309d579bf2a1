// Package identity verifies bearer tokens and produces the verified caller
// that the pipeline runs on behalf of.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ppiankov/safetygate/internal/model"
)

// ErrUnauthorized wraps every verification failure.
var ErrUnauthorized = errors.New("unauthorized")

// Claims are the token claims safetygate understands.
type Claims struct {
	jwt.RegisteredClaims
	Roles      []string `json:"roles,omitempty"`
	AgeBracket string   `json:"age_bracket,omitempty"`
}

// Config controls verification.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	cfg    Config
	parser *jwt.Parser
}

// NewVerifier creates a verifier. A secret is required.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("identity: jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Verify parses and validates a token. The age bracket claim is mapped
// to a bracket; a missing or unrecognised value is AgeUnknown.
func (v *Verifier) Verify(token string) (model.Caller, error) {
	if token == "" {
		return model.Caller{}, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(v.cfg.Secret), nil
	})
	if err != nil {
		return model.Caller{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return model.Caller{}, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return model.Caller{
		ID:       claims.Subject,
		Roles:    claims.Roles,
		Verified: true,
		Age:      model.ParseAgeBracket(claims.AgeBracket),
	}, nil
}

// Sign issues a token for claims using the verifier's secret and issuer.
func (v *Verifier) Sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = v.cfg.Issuer
	}
	if v.cfg.Audience != "" && len(claims.Audience) == 0 {
		claims.Audience = jwt.ClaimStrings{v.cfg.Audience}
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(v.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return s, nil
}

// NewClaims builds claims for subject valid from now for ttl.
func NewClaims(subject string, roles []string, age string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles:      roles,
		AgeBracket: age,
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	return strings.TrimSpace(token), nil
}

type callerKey struct{}

// WithCaller stores a verified caller in ctx.
func WithCaller(ctx context.Context, c model.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored by WithCaller.
func CallerFrom(ctx context.Context) (model.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(model.Caller)
	return c, ok
}
