package grant

import (
	"context"
	"errors"

	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
	"cfszone_connect/answer_uma_provider/internal/token"
)

func (s *Service) Password(ctx context.Context, req Request) (*model.GrantedToken, error) {
	if err := required(
		param{"username", req.Username},
		param{"password", req.Password},
		param{"scope", req.Scope},
	); err != nil {
		return nil, err
	}
	client, err := s.authenticateFor(ctx, req.Credentials, model.GrantTypePassword)
	if err != nil {
		return nil, err
	}
	scopes, err := allowedScopes(req.Scope, client.Scopes)
	if err != nil {
		return nil, err
	}
	owner, err := s.owners.Authenticate(ctx, req.Username, req.Password)
	if errors.Is(err, resourceowner.ErrInvalidCredentials) {
		return nil, oautherr.New(oautherr.InvalidGrant, "the resource owner credentials are not correct")
	}
	if err != nil {
		return nil, oautherr.Internal("failed to authenticate the resource owner", err)
	}
	return s.minter.Mint(ctx, token.Request{
		Client:           client,
		GrantType:        model.GrantTypePassword,
		Scopes:           scopes,
		Owner:            owner,
		WithRefreshToken: wantsRefreshToken(client, model.GrantTypePassword),
		IDToken:          &token.IDTokenParams{AuthTime: s.nowFn(), AMR: []string{"pwd"}},
	})
}
