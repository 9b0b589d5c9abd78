// Package auth issues and verifies the signed, time-bound tokens used by the
// account API. Tokens are self-contained HS256 JWTs, so verification never
// needs a database round-trip.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthorized is returned for every token that fails verification:
// bad signature, malformed input, wrong kind or expiry.
var ErrUnauthorized = errors.New("unauthorized")

// Kind distinguishes access tokens from refresh tokens. The two are never
// interchangeable.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Default lifetimes used when a Config leaves them unset.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the signed payload of every token.
type Claims struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// Clock returns the current time. Expiry checks and issuance both use it.
type Clock func() time.Time

// Config holds the shared signing secret and token lifetimes.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
}

// Authority issues, verifies and refreshes tokens. It is safe for concurrent use.
type Authority struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        Clock
	parser     *jwt.Parser
}

// Option customizes an Authority.
type Option func(*Authority)

// WithClock replaces the wall clock used for issuance and expiry checks.
func WithClock(clock Clock) Option {
	return func(a *Authority) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewAuthority validates cfg and returns a ready Authority.
func NewAuthority(cfg Config, opts ...Option) (*Authority, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("auth: refresh lifetime must exceed access lifetime")
	}

	a := &Authority{
		secret:     append([]byte(nil), cfg.Secret...),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}
	a.parser = jwt.NewParser(parserOpts...)

	return a, nil
}

// AccessTTL reports the configured access token lifetime.
func (a *Authority) AccessTTL() time.Duration { return a.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (a *Authority) RefreshTTL() time.Duration { return a.refreshTTL }

// EncodeToken issues a short-lived access token for subject.
func (a *Authority) EncodeToken(subject string) (string, error) {
	return a.issue(subject, KindAccess, a.accessTTL)
}

// EncodeRefreshToken issues a long-lived refresh token for subject.
func (a *Authority) EncodeRefreshToken(subject string) (string, error) {
	return a.issue(subject, KindRefresh, a.refreshTTL)
}

// DecodeToken verifies an access token and returns its subject.
func (a *Authority) DecodeToken(token string) (string, error) {
	claims, err := a.verify(token, KindAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// RefreshToken verifies a refresh token and issues a new access token for
// the same subject. The refresh token itself stays valid until it expires.
func (a *Authority) RefreshToken(refreshToken string) (string, error) {
	claims, err := a.verify(refreshToken, KindRefresh)
	if err != nil {
		return "", err
	}
	return a.EncodeToken(claims.Subject)
}

func (a *Authority) issue(subject string, kind Kind, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("auth: subject is required")
	}

	now := a.now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (a *Authority) verify(token string, want Kind) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	claims := &Claims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	if claims.Kind != want {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrUnauthorized, want, claims.Kind)
	}
	// jwt treats exp == now as still valid; expiry here is strict.
	if !claims.ExpiresAt.After(a.now()) {
		return nil, fmt.Errorf("%w: token expired", ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}

	return claims, nil
}
