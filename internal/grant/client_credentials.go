package grant

import (
	"context"

	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/token"
)

// ClientCredentials returns the client's still-valid token for the requested
// scope, or mints one carrying the client claims its patterns select.
func (s *Service) ClientCredentials(ctx context.Context, req Request) (*model.GrantedToken, error) {
	if err := required(param{"scope", req.Scope}); err != nil {
		return nil, err
	}
	client, err := s.authenticateFor(ctx, req.Credentials, model.GrantTypeClientCredentials)
	if err != nil {
		return nil, err
	}
	scopes, err := allowedScopes(req.Scope, client.Scopes)
	if err != nil {
		return nil, err
	}
	extra, err := s.assembler.ClientClaims(client)
	if err != nil {
		return nil, err
	}
	return s.minter.ReuseOrMint(ctx, token.Request{
		Client:      client,
		GrantType:   model.GrantTypeClientCredentials,
		Scopes:      scopes,
		ExtraClaims: extra,
	})
}
