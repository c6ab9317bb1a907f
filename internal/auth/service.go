package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-pos/internal/common"
)

// Config carries the settings for token validation.
type Config struct {
	JWTSecret string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// Service validates operator access tokens issued by the back office. This
// service never mints tokens.
type Service struct {
	secret    []byte
	validator TokenValidator
	now       func() time.Time
}

// NewService builds the token validation service.
func NewService(cfg Config) (*Service, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &Service{
		secret: []byte(secret),
		validator: TokenValidator{
			Issuer:    cfg.Issuer,
			Audience:  cfg.Audience,
			ClockSkew: cfg.ClockSkew,
			Algorithm: jwa.HS256,
		},
		now: time.Now,
	}, nil
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ParseAccessToken verifies the token signature and claims and returns the
// subject (operator id).
func (s *Service) ParseAccessToken(token string) (string, error) {
	algorithm, err := extractTokenAlgorithm(token)
	if err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid access token", http.StatusUnauthorized, err)
	}
	parsed, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256, s.secret), jwt.WithValidate(false))
	if err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid access token", http.StatusUnauthorized, err)
	}
	if err := s.validator.Validate(parsed, algorithm, s.now()); err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid access token", http.StatusUnauthorized, err)
	}
	subject := strings.TrimSpace(parsed.Subject())
	if subject == "" {
		return "", common.NewAppError("UNAUTHORIZED", "token missing subject", http.StatusUnauthorized, nil)
	}
	return subject, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", errors.New("auth: malformed token")
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("auth: decode token header: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return "", fmt.Errorf("auth: parse token header: %w", err)
	}
	if header.Alg == "" {
		return "", errors.New("auth: token missing algorithm")
	}
	return jwa.SignatureAlgorithm(header.Alg), nil
}
