package grant

import (
	"context"
	"errors"
	"slices"

	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
	"cfszone_connect/answer_uma_provider/internal/token"
)

// RefreshToken consumes the refresh token and mints a replacement pair. A
// scope parameter may narrow, never widen, the original grant.
func (s *Service) RefreshToken(ctx context.Context, req Request) (*model.GrantedToken, error) {
	if err := required(param{"refresh_token", req.RefreshToken}); err != nil {
		return nil, err
	}
	client, err := s.authenticateFor(ctx, req.Credentials, model.GrantTypeRefreshToken)
	if err != nil {
		return nil, err
	}

	previous, err := s.store.GetRefreshToken(ctx, req.RefreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil, oautherr.New(oautherr.InvalidGrant, "the refresh token is not valid")
	}
	if err != nil {
		return nil, oautherr.Internal("failed to load the refresh token", err)
	}
	if previous.ClientID != client.ID {
		return nil, oautherr.New(oautherr.InvalidGrant, "the refresh token has not been issued to the client")
	}
	if previous.IsRefreshExpired(s.nowFn()) {
		return nil, oautherr.New(oautherr.InvalidGrant, "the refresh token has expired")
	}
	scopes := model.SplitScope(previous.Scope)
	if req.Scope != "" {
		if scopes, err = allowedScopes(req.Scope, scopes); err != nil {
			return nil, err
		}
	}

	if err = s.store.RemoveRefreshToken(ctx, req.RefreshToken); err != nil {
		return nil, consumed(err, "the refresh token is not valid")
	}

	mint := token.Request{
		Client:           client,
		GrantType:        model.GrantTypeRefreshToken,
		Scopes:           scopes,
		WithRefreshToken: true,
	}
	if previous.Subject != "" {
		mint.Owner = &model.ResourceOwner{Subject: previous.Subject, Claims: previous.UserInfoPayload}
		if slices.Contains(scopes, model.ScopeOpenID) {
			mint.IDToken = &token.IDTokenParams{}
		}
	}
	return s.minter.Mint(ctx, mint)
}
