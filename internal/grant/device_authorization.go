package grant

import (
	"context"
	"errors"
	"log/slog"

	"cfszone_connect/answer_uma_provider/internal/clientauth"
	"cfszone_connect/answer_uma_provider/internal/cryptoutil"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
)

const userCodeAttempts = 5

type DeviceAuthorizationRequest struct {
	Credentials clientauth.Instruction
	Scope       string
}

// AuthorizeDevice starts a device flow for a client allowed the device code
// grant. Without a scope parameter the client's registered scopes apply.
func (s *Service) AuthorizeDevice(ctx context.Context, req DeviceAuthorizationRequest) (*model.DeviceAuthorization, error) {
	client, err := s.authenticateFor(ctx, req.Credentials, model.GrantTypeDeviceCode)
	if err != nil {
		return nil, err
	}
	scopes := client.Scopes
	if len(model.SplitScope(req.Scope)) > 0 {
		if scopes, err = allowedScopes(req.Scope, client.Scopes); err != nil {
			return nil, err
		}
	}

	deviceCode, err := cryptoutil.RandomURLSafe(32)
	if err != nil {
		return nil, oautherr.Internal("failed to generate the device code", err)
	}
	now := s.nowFn()
	for range userCodeAttempts {
		userCode, err := cryptoutil.RandomUserCode()
		if err != nil {
			return nil, oautherr.Internal("failed to generate the user code", err)
		}
		if _, err = s.store.GetDeviceAuthorizationByUserCode(ctx, userCode); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, oautherr.Internal("failed to check the user code", err)
		}
		auth := &model.DeviceAuthorization{
			DeviceCode:     deviceCode,
			UserCode:       userCode,
			ClientID:       client.ID,
			Scopes:         scopes,
			Status:         model.DeviceAuthorizationPending,
			CreateDateTime: now,
			ExpiresAt:      now.Add(s.deviceValidity),
			Interval:       s.devicePollInterval,
		}
		if err = s.store.AddDeviceAuthorization(ctx, auth); err != nil {
			return nil, oautherr.Internal("failed to store the device authorization", err)
		}
		return auth, nil
	}
	return nil, oautherr.New(oautherr.TemporarilyUnavailable, "no free user code")
}

// LookupDevice returns the pending authorization the user code names, for the
// verification page to show what is being approved.
func (s *Service) LookupDevice(ctx context.Context, userCode string) (*model.DeviceAuthorization, error) {
	userCode = cryptoutil.NormalizeUserCode(userCode)
	if userCode == "" {
		return nil, oautherr.MissingParameter("user_code")
	}
	auth, err := s.store.GetDeviceAuthorizationByUserCode(ctx, userCode)
	if errors.Is(err, store.ErrNotFound) {
		return nil, oautherr.New(oautherr.InvalidGrant, "the user code is not valid")
	}
	if err != nil {
		return nil, oautherr.Internal("failed to load the device authorization", err)
	}
	if auth.IsExpired(s.nowFn()) {
		return nil, oautherr.New(oautherr.ExpiredToken, "the user code has expired")
	}
	if auth.Status != model.DeviceAuthorizationPending {
		return nil, oautherr.New(oautherr.InvalidGrant, "the user code has already been used")
	}
	return auth, nil
}

// DecideDevice records the end user's decision on a pending authorization.
// The device collects it on its next poll.
func (s *Service) DecideDevice(ctx context.Context, userCode string, owner *model.ResourceOwner, approve bool) (*model.DeviceAuthorization, error) {
	if owner == nil || owner.Subject == "" {
		return nil, oautherr.New(oautherr.AccessDenied, "the end user is not authenticated")
	}
	auth, err := s.LookupDevice(ctx, userCode)
	if err != nil {
		return nil, err
	}
	auth.Status = model.DeviceAuthorizationDenied
	if approve {
		auth.Status = model.DeviceAuthorizationApproved
		auth.Subject = owner.Subject
		auth.ResourceOwnerClaims = owner.Claims
	}
	if err = s.store.UpdateDeviceAuthorization(ctx, auth); errors.Is(err, store.ErrNotFound) {
		return nil, oautherr.New(oautherr.InvalidGrant, "the user code is not valid")
	} else if err != nil {
		return nil, oautherr.Internal("failed to record the decision", err)
	}
	s.logger.InfoContext(ctx, "device authorization decided",
		slog.String("client_id", auth.ClientID),
		slog.String("subject", owner.Subject),
		slog.String("status", string(auth.Status)),
	)
	return auth, nil
}
