package grant

import (
	"context"
	"errors"

	"cfszone_connect/answer_uma_provider/internal/clientauth"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
)

const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

type TokenRequest struct {
	Credentials   clientauth.Instruction
	Token         string
	TokenTypeHint string
}

type tokenKind int

const (
	kindAccess tokenKind = iota
	kindRefresh
)

// Revoke invalidates an access or refresh token issued to the client. An
// unknown token is not an error.
func (s *Service) Revoke(ctx context.Context, req TokenRequest) error {
	if err := required(param{"token", req.Token}); err != nil {
		return err
	}
	client, err := s.clients.Authenticate(ctx, req.Credentials)
	if err != nil {
		return err
	}
	granted, kind, err := s.lookupToken(ctx, req.Token, req.TokenTypeHint)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if granted.ClientID != client.ID {
		return oautherr.New(oautherr.UnauthorizedClient, "the token has not been issued to the client")
	}
	if kind == kindRefresh {
		err = s.store.RemoveRefreshToken(ctx, req.Token)
	} else {
		err = s.store.RemoveAccessToken(ctx, req.Token)
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return oautherr.Internal("failed to revoke the token", err)
	}
	return nil
}

// lookupToken tries the hinted token kind first, then the other one.
func (s *Service) lookupToken(ctx context.Context, raw, hint string) (*model.GrantedToken, tokenKind, error) {
	order := []tokenKind{kindAccess, kindRefresh}
	switch hint {
	case "", TokenTypeHintAccessToken:
	case TokenTypeHintRefreshToken:
		order = []tokenKind{kindRefresh, kindAccess}
	default:
		return nil, 0, oautherr.Newf(oautherr.UnsupportedTokenType, "the token_type_hint %s is not supported", hint)
	}
	for _, kind := range order {
		var (
			granted *model.GrantedToken
			err     error
		)
		if kind == kindRefresh {
			granted, err = s.store.GetRefreshToken(ctx, raw)
		} else {
			granted, err = s.store.GetAccessToken(ctx, raw)
		}
		if err == nil {
			return granted, kind, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, 0, oautherr.Internal("failed to load the token", err)
		}
	}
	return nil, 0, store.ErrNotFound
}
