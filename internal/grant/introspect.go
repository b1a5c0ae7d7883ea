package grant

import (
	"context"
	"errors"

	"cfszone_connect/answer_uma_provider/internal/store"
)

// Introspection is the RFC 7662 response. Inactive tokens carry nothing else.
type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

func (s *Service) Introspect(ctx context.Context, req TokenRequest) (Introspection, error) {
	if err := required(param{"token", req.Token}); err != nil {
		return Introspection{}, err
	}
	if _, err := s.clients.Authenticate(ctx, req.Credentials); err != nil {
		return Introspection{}, err
	}
	granted, kind, err := s.lookupToken(ctx, req.Token, req.TokenTypeHint)
	if errors.Is(err, store.ErrNotFound) {
		return Introspection{}, nil
	}
	if err != nil {
		return Introspection{}, err
	}

	now := s.nowFn()
	expiresAt := granted.ExpiresAt()
	if kind == kindRefresh {
		if granted.IsRefreshExpired(now) {
			return Introspection{}, nil
		}
		if !granted.RefreshExpiresAt.IsZero() {
			expiresAt = granted.RefreshExpiresAt
		}
	} else if granted.IsExpired(now) {
		return Introspection{}, nil
	}
	return Introspection{
		Active:    true,
		Scope:     granted.Scope,
		ClientID:  granted.ClientID,
		Subject:   granted.Subject,
		ExpiresAt: expiresAt.Unix(),
		IssuedAt:  granted.CreateDateTime.Unix(),
		TokenType: granted.TokenType,
	}, nil
}
