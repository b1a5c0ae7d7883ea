package grant

import (
	"context"
	"errors"
	"slices"
	"strings"

	"cfszone_connect/answer_uma_provider/internal/clientauth"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
)

// impliedResponseType is the response type a client must support to use a
// grant type.
var impliedResponseType = map[string]string{
	model.GrantTypeAuthorizationCode: model.ResponseTypeCode,
	model.GrantTypePassword:          model.ResponseTypeToken,
	model.GrantTypeClientCredentials: model.ResponseTypeToken,
}

type param struct {
	name  string
	value string
}

func required(params ...param) error {
	for _, p := range params {
		if strings.TrimSpace(p.value) == "" {
			return oautherr.MissingParameter(p.name)
		}
	}
	return nil
}

// authenticateFor authenticates the client and checks it is registered for
// grantType and the response type the grant implies.
func (s *Service) authenticateFor(ctx context.Context, in clientauth.Instruction, grantType string) (*model.Client, error) {
	client, err := s.clients.Authenticate(ctx, in)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrantType(grantType) {
		return nil, oautherr.Newf(oautherr.UnauthorizedClient, "the client %s doesn't support the grant type %s", client.ID, grantType)
	}
	if responseType, ok := impliedResponseType[grantType]; ok && !client.AllowsResponseType(responseType) {
		return nil, oautherr.Newf(oautherr.UnauthorizedClient, "the client %s doesn't support the response type %s", client.ID, responseType)
	}
	return client, nil
}

// allowedScopes parses raw and requires a non-empty subset of allowed.
func allowedScopes(raw string, allowed []string) ([]string, error) {
	scopes := model.SplitScope(raw)
	if len(scopes) == 0 {
		return nil, oautherr.New(oautherr.InvalidScope, "no scope is requested")
	}
	var unknown []string
	for _, scope := range scopes {
		if !slices.Contains(allowed, scope) {
			unknown = append(unknown, scope)
		}
	}
	if len(unknown) > 0 {
		return nil, oautherr.Newf(oautherr.InvalidScope, "the scopes %s are not allowed or invalid", strings.Join(unknown, ","))
	}
	return scopes, nil
}

func wantsRefreshToken(client *model.Client, grantType string) bool {
	return grantType != model.GrantTypeClientCredentials && client.AllowsGrantType(model.GrantTypeRefreshToken)
}

// consumed maps a lost consumption race to invalid_grant.
func consumed(err error, description string) error {
	if errors.Is(err, store.ErrNotFound) {
		return oautherr.New(oautherr.InvalidGrant, description)
	}
	return oautherr.Internal("failed to consume the grant", err)
}
