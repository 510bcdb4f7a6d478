// Package auth authenticates callers of the action endpoints.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrInvalidCredentials is returned for rejected tokens and keys.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// KeySource yields the signing keys tokens are verified against.
type KeySource interface {
	KeySet(ctx context.Context) (jwk.Set, error)
}

// StaticKeys is a fixed key set.
type StaticKeys struct{ Set jwk.Set }

// KeySet implements KeySource.
func (s StaticKeys) KeySet(context.Context) (jwk.Set, error) {
	if s.Set == nil {
		return nil, errors.New("auth: no keys configured")
	}
	return s.Set, nil
}

// JWKS fetches and caches a remote key set.
type JWKS struct {
	URL   string
	cache *jwk.Cache
}

// NewJWKS registers url with an auto-refreshing cache bound to ctx.
func NewJWKS(ctx context.Context, url string, refresh time.Duration) (*JWKS, error) {
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}
	c := jwk.NewCache(ctx)
	if err := c.Register(url, jwk.WithMinRefreshInterval(refresh)); err != nil {
		return nil, fmt.Errorf("auth: register jwks: %w", err)
	}
	return &JWKS{URL: url, cache: c}, nil
}

// KeySet implements KeySource.
func (j *JWKS) KeySet(ctx context.Context) (jwk.Set, error) {
	return j.cache.Get(ctx, j.URL)
}

// Verifier checks bearer tokens issued by an external identity provider.
type Verifier struct {
	Keys      KeySource
	Validator TokenValidator
	Now       func() time.Time
}

// Verify parses raw and returns the token subject.
func (v Verifier) Verify(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || v.Keys == nil {
		return "", ErrInvalidCredentials
	}
	algorithm, err := tokenAlgorithm(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	set, err := v.Keys.KeySet(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: load keys: %w", err)
	}
	tok, err := jwt.ParseString(raw, jwt.WithKeySet(set), jwt.WithValidate(false))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	if err := v.Validator.Validate(tok, algorithm, now); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if tok.Subject() == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)
	}
	return tok.Subject(), nil
}

func tokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	if alg == "" {
		return "", errors.New("auth: token missing algorithm")
	}
	if alg == jwa.NoSignature {
		return "", errors.New("auth: token uses none algorithm")
	}
	return alg, nil
}

// APIKey compares presented keys with an argon2id hash.
type APIKey struct {
	Hash string
}

// Check reports whether key matches the configured hash.
func (a APIKey) Check(key string) (bool, error) {
	if a.Hash == "" || key == "" {
		return false, nil
	}
	return argon2id.ComparePasswordAndHash(key, a.Hash)
}

// HashAPIKey produces the value for API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	return argon2id.CreateHash(key, argon2id.DefaultParams)
}
