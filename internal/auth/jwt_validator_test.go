package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func buildToken(t *testing.T, issuer string, nbf, exp time.Time) jwt.Token {
	t.Helper()
	token, err := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{"ercom-sync"}).
		Subject("planner@example.com").
		IssuedAt(nbf).
		NotBefore(nbf).
		Expiration(exp).
		Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	return token
}

func TestTokenValidatorValidateSuccess(t *testing.T) {
	now := time.Now()
	token := buildToken(t, "https://id.example.com", now, now.Add(time.Minute))
	validator := TokenValidator{Issuer: "https://id.example.com", Audience: "ercom-sync"}
	if err := validator.Validate(token, jwa.RS256, now); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestTokenValidatorIssuerMismatch(t *testing.T) {
	now := time.Now()
	token := buildToken(t, "https://other.example.com", now, now.Add(time.Minute))
	validator := TokenValidator{Issuer: "https://id.example.com", Audience: "ercom-sync"}
	if err := validator.Validate(token, jwa.RS256, now); err == nil {
		t.Fatal("expected issuer mismatch error")
	}
}

func TestTokenValidatorExpiry(t *testing.T) {
	now := time.Now()
	token := buildToken(t, "https://id.example.com", now.Add(-2*time.Hour), now.Add(-time.Minute))
	validator := TokenValidator{Issuer: "https://id.example.com"}
	if err := validator.Validate(token, jwa.RS256, now); err == nil {
		t.Fatal("expected expiration error")
	}
}

func TestTokenValidatorDefaultSkew(t *testing.T) {
	now := time.Now()
	token := buildToken(t, "https://id.example.com", now.Add(10*time.Second), now.Add(time.Minute))
	if err := (TokenValidator{}).Validate(token, jwa.ES256, now); err != nil {
		t.Fatalf("expected small clock drift to pass: %v", err)
	}
	token = buildToken(t, "https://id.example.com", now.Add(5*time.Minute), now.Add(10*time.Minute))
	if err := (TokenValidator{}).Validate(token, jwa.ES256, now); err == nil {
		t.Fatal("expected not-before validation error")
	}
}

func TestTokenValidatorAlgorithmMismatch(t *testing.T) {
	now := time.Now()
	token := buildToken(t, "https://id.example.com", now, now.Add(time.Minute))
	if err := (TokenValidator{}).Validate(token, jwa.HS256, now); err == nil {
		t.Fatal("expected symmetric algorithm to be rejected by default")
	}
	validator := TokenValidator{Algorithms: []jwa.SignatureAlgorithm{jwa.HS256}}
	if err := validator.Validate(token, jwa.HS256, now); err != nil {
		t.Fatalf("expected explicitly allowed algorithm to pass: %v", err)
	}
	if err := validator.Validate(token, "", now); err == nil {
		t.Fatal("expected missing algorithm error")
	}
}
