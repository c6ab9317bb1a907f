package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func buildToken(t *testing.T, issuer string, notBefore, expires time.Time) jwt.Token {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{"pos-api"}).
		Subject("cashier-42").
		IssuedAt(notBefore).
		NotBefore(notBefore).
		Expiration(expires).
		Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	return tok
}

func TestValidatorAcceptsWellFormedToken(t *testing.T) {
	now := time.Now()
	tok := buildToken(t, "back-office", now, now.Add(time.Minute))

	v := TokenValidator{Issuer: "back-office", Audience: "pos-api", ClockSkew: time.Second, Algorithm: jwa.HS256}
	if err := v.Validate(tok, jwa.HS256, now); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidatorRejectsWrongIssuer(t *testing.T) {
	now := time.Now()
	tok := buildToken(t, "someone-else", now, now.Add(time.Minute))

	v := TokenValidator{Issuer: "back-office", Audience: "pos-api", Algorithm: jwa.HS256}
	if err := v.Validate(tok, jwa.HS256, now); err == nil {
		t.Fatal("issuer mismatch should fail validation")
	}
}

func TestValidatorRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	tok := buildToken(t, "back-office", now.Add(-2*time.Hour), now.Add(-time.Minute))

	v := TokenValidator{Issuer: "back-office", Audience: "pos-api", Algorithm: jwa.HS256}
	if err := v.Validate(tok, jwa.HS256, now); err == nil {
		t.Fatal("expired token should fail validation")
	}
}

func TestValidatorRejectsNotYetValidToken(t *testing.T) {
	now := time.Now()
	tok := buildToken(t, "back-office", now.Add(5*time.Minute), now.Add(10*time.Minute))

	v := TokenValidator{Issuer: "back-office", Audience: "pos-api", ClockSkew: time.Second, Algorithm: jwa.HS256}
	if err := v.Validate(tok, jwa.HS256, now); err == nil {
		t.Fatal("not-yet-valid token should fail validation")
	}
}

func TestValidatorRejectsAlgorithmMismatch(t *testing.T) {
	now := time.Now()
	tok := buildToken(t, "back-office", now, now.Add(time.Minute))

	v := TokenValidator{Issuer: "back-office", Audience: "pos-api", Algorithm: jwa.HS256}
	if err := v.Validate(tok, jwa.RS256, now); err == nil {
		t.Fatal("tokens signed with another algorithm must be rejected")
	}
}
