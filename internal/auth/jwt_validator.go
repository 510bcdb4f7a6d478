package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultClockSkew is tolerated between this service and the token issuer.
const DefaultClockSkew = 30 * time.Second

// TokenValidator checks the claims of an already verified token.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	// Algorithms lists the accepted signing algorithms. Empty accepts the
	// asymmetric defaults.
	Algorithms []jwa.SignatureAlgorithm
}

var defaultAlgorithms = []jwa.SignatureAlgorithm{jwa.RS256, jwa.RS384, jwa.RS512, jwa.ES256, jwa.ES384, jwa.PS256}

// Validate ensures tok satisfies issuer, audience, expiry and algorithm
// requirements.
func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	if algorithm == "" {
		return errors.New("auth: token missing algorithm")
	}
	allowed := v.Algorithms
	if len(allowed) == 0 {
		allowed = defaultAlgorithms
	}
	if !slices.Contains(allowed, algorithm) {
		return fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}

	skew := v.ClockSkew
	if skew <= 0 {
		skew = DefaultClockSkew
	}
	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(skew),
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	return jwt.Validate(tok, options...)
}
