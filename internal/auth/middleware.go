package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ozerpan/ercom-sync/internal/common"
)

// APIKeyHeader carries a static service key.
const APIKeyHeader = "X-API-Key"

// APIKeyCaller is the caller recorded for API key requests.
const APIKeyCaller = "api-key"

// TokenVerifier is satisfied by Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (string, error)
}

// Middleware authenticates requests with a bearer token or an API key.
type Middleware struct {
	Tokens TokenVerifier
	Keys   *APIKey
	Logger zerolog.Logger
}

// RequireAuth rejects requests without valid credentials and records the
// caller on the context.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := m.authenticate(r)
		if err != nil {
			if !errors.Is(err, ErrInvalidCredentials) {
				m.Logger.Error().Err(err).Msg("authenticate request")
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credentials", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithCaller(r.Context(), caller)))
	})
}

func (m Middleware) authenticate(r *http.Request) (string, error) {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" && m.Keys != nil {
		ok, err := m.Keys.Check(key)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrInvalidCredentials
		}
		return APIKeyCaller, nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if m.Tokens != nil && strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return m.Tokens.Verify(r.Context(), header[7:])
	}
	return "", ErrInvalidCredentials
}
