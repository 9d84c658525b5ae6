package auth

import (
	"errors"
	"time"

	"github.com/agentsaas/tokenledger/internal/config"
)

// ScopeBalanceRead is the only scope account tokens carry.
const ScopeBalanceRead = "balance:read"

// Service issues account-scoped read tokens for end-user clients.
type Service struct {
	secret []byte
	ttl    time.Duration
}

func NewService(cfg config.Config) *Service {
	return &Service{secret: []byte(cfg.JWTSecret), ttl: cfg.AccessTokenTTL}
}

type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	AccountID   string `json:"account_id"`
}

// Issue signs a token whose subject is the account the bearer may read.
func (s *Service) Issue(accountID string) (Token, error) {
	if accountID == "" {
		return Token{}, errors.New("account id is required")
	}
	if len(s.secret) == 0 {
		return Token{}, errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := map[string]any{
		"sub":   accountID,
		"scope": ScopeBalanceRead,
		"iat":   now.Unix(),
		"exp":   now.Add(s.ttl).Unix(),
	}
	signed, err := SignHS256(claims, s.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, ExpiresIn: int64(s.ttl.Seconds()), AccountID: accountID}, nil
}

// Subject verifies a token and returns its account subject.
func (s *Service) Subject(token string) (string, error) {
	claims, err := ParseAndVerifyHS256(token, s.secret)
	if err != nil {
		return "", err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	if scope, _ := claims["scope"].(string); scope != ScopeBalanceRead {
		return "", errors.New("token scope not allowed")
	}
	return sub, nil
}
