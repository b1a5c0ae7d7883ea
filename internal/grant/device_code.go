package grant

import (
	"context"
	"errors"

	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
	"cfszone_connect/answer_uma_provider/internal/token"
)

// DeviceCode polls a device authorization. Each poll is recorded so a device
// ignoring the advertised interval gets slow_down. An approved authorization
// is consumed and yields exactly one token.
func (s *Service) DeviceCode(ctx context.Context, req Request) (*model.GrantedToken, error) {
	in := req.Credentials
	if in.ClientIDFromForm == "" && in.AuthorizationHeader == "" && in.ClientAssertion == "" {
		return nil, oautherr.MissingParameter("client_id")
	}
	if err := required(param{"device_code", req.DeviceCode}); err != nil {
		return nil, err
	}
	client, err := s.authenticateFor(ctx, req.Credentials, model.GrantTypeDeviceCode)
	if err != nil {
		return nil, err
	}

	auth, err := s.store.GetDeviceAuthorization(ctx, req.DeviceCode)
	if errors.Is(err, store.ErrNotFound) {
		return nil, oautherr.New(oautherr.InvalidGrant, "the device code is not valid")
	}
	if err != nil {
		return nil, oautherr.Internal("failed to load the device authorization", err)
	}
	if auth.ClientID != client.ID {
		return nil, oautherr.New(oautherr.InvalidGrant, "the device code has not been issued to the client")
	}
	now := s.nowFn()
	if auth.IsExpired(now) {
		return nil, oautherr.New(oautherr.ExpiredToken, "the device code has expired")
	}

	tooSoon := auth.PolledTooSoon(now)
	auth.LastPollAt = now
	if err = s.store.UpdateDeviceAuthorization(ctx, auth); err != nil {
		return nil, oautherr.Internal("failed to record the poll", err)
	}
	if tooSoon {
		return nil, oautherr.New(oautherr.SlowDown, "the device is polling too frequently")
	}

	switch auth.Status {
	case model.DeviceAuthorizationPending:
		return nil, oautherr.New(oautherr.AuthorizationPending, "the user has not yet completed the authorization")
	case model.DeviceAuthorizationDenied:
		return nil, oautherr.New(oautherr.AccessDenied, "the user denied the authorization")
	case model.DeviceAuthorizationApproved:
	default:
		return nil, oautherr.Internal("failed to read the device authorization", errors.New("unknown status "+string(auth.Status)))
	}

	if err = s.store.RemoveDeviceAuthorization(ctx, req.DeviceCode); err != nil {
		return nil, consumed(err, "the device code is not valid")
	}
	return s.minter.Mint(ctx, token.Request{
		Client:           client,
		GrantType:        model.GrantTypeDeviceCode,
		Scopes:           auth.Scopes,
		Owner:            &model.ResourceOwner{Subject: auth.Subject, Claims: auth.ResourceOwnerClaims},
		WithRefreshToken: wantsRefreshToken(client, model.GrantTypeDeviceCode),
		IDToken:          &token.IDTokenParams{},
	})
}
