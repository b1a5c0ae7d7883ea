package grant

import (
	"context"
	"errors"
	"net/url"
	"slices"

	"cfszone_connect/answer_uma_provider/internal/cryptoutil"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
	"cfszone_connect/answer_uma_provider/internal/token"
)

// AuthorizationCode exchanges a code. The code is removed only once every
// check passed; a concurrent exchange of the same code loses at removal.
func (s *Service) AuthorizationCode(ctx context.Context, req Request) (*model.GrantedToken, error) {
	if err := required(param{"code", req.Code}, param{"redirect_uri", req.RedirectURI}); err != nil {
		return nil, err
	}
	if u, err := url.Parse(req.RedirectURI); err != nil || !u.IsAbs() {
		return nil, oautherr.New(oautherr.InvalidRequest, "the redirect_uri must be an absolute URI")
	}
	client, err := s.authenticateFor(ctx, req.Credentials, model.GrantTypeAuthorizationCode)
	if err != nil {
		return nil, err
	}

	code, err := s.store.GetAuthorizationCode(ctx, req.Code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, oautherr.New(oautherr.InvalidGrant, "the authorization code is not valid")
	}
	if err != nil {
		return nil, oautherr.Internal("failed to load the authorization code", err)
	}
	if err = checkPKCE(client, code, req.CodeVerifier); err != nil {
		return nil, err
	}
	if code.ClientID != client.ID {
		return nil, oautherr.New(oautherr.InvalidGrant, "the authorization code has not been issued to the client")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, oautherr.New(oautherr.InvalidGrant, "the redirect_uri doesn't match the one used in the authorization request")
	}
	if code.IsExpired(s.nowFn(), s.codeValidity) {
		return nil, oautherr.New(oautherr.InvalidGrant, "the authorization code has expired")
	}

	if err = s.store.RemoveAuthorizationCode(ctx, req.Code); err != nil {
		return nil, consumed(err, "the authorization code is not valid")
	}

	mint := token.Request{
		Client:           client,
		GrantType:        model.GrantTypeAuthorizationCode,
		Scopes:           code.Scopes,
		Owner:            &model.ResourceOwner{Subject: code.Subject, Claims: code.ResourceOwnerClaims},
		WithRefreshToken: wantsRefreshToken(client, model.GrantTypeAuthorizationCode),
	}
	if slices.Contains(code.Scopes, model.ScopeOpenID) {
		mint.IDToken = &token.IDTokenParams{
			Nonce:           code.Nonce,
			AuthTime:        code.AuthTime,
			AMR:             code.AMR,
			ACR:             code.ACR,
			ClaimsParameter: code.ClaimsParameter,
		}
	}
	return s.minter.ReuseOrMint(ctx, mint)
}

func checkPKCE(client *model.Client, code *model.AuthorizationCode, verifier string) error {
	if code.CodeChallenge == "" {
		if client.RequirePKCE {
			return oautherr.New(oautherr.InvalidGrant, "the authorization request didn't carry a code_challenge")
		}
		return nil
	}
	if verifier == "" {
		return oautherr.MissingParameter("code_verifier")
	}
	switch err := cryptoutil.VerifyPKCE(code.CodeChallengeMethod, verifier, code.CodeChallenge); {
	case errors.Is(err, cryptoutil.ErrPKCEMethodNotSupported):
		return oautherr.New(oautherr.InvalidGrant, "the code_challenge_method is not supported")
	case err != nil:
		return oautherr.New(oautherr.InvalidGrant, "the code_verifier is not correct")
	}
	return nil
}
