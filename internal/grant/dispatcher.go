package grant

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"cfszone_connect/answer_uma_provider/internal/events"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
)

type handlerFunc func(*Service, context.Context, Request) (*model.GrantedToken, error)

var handlers = map[string]handlerFunc{
	model.GrantTypeClientCredentials: (*Service).ClientCredentials,
	model.GrantTypePassword:          (*Service).Password,
	model.GrantTypeAuthorizationCode: (*Service).AuthorizationCode,
	model.GrantTypeRefreshToken:      (*Service).RefreshToken,
	model.GrantTypeDeviceCode:        (*Service).DeviceCode,
	model.GrantTypeUMATicket:         (*Service).UMATicket,
}

// SupportedGrantTypes lists the grant types Token dispatches.
func SupportedGrantTypes() []string {
	return []string{
		model.GrantTypeAuthorizationCode,
		model.GrantTypeClientCredentials,
		model.GrantTypePassword,
		model.GrantTypeRefreshToken,
		model.GrantTypeDeviceCode,
		model.GrantTypeUMATicket,
	}
}

// Token routes the request to its grant handler and publishes the outcome.
func (s *Service) Token(ctx context.Context, req Request) (*model.GrantedToken, error) {
	grantType := strings.TrimSpace(req.GrantType)
	if grantType == "" {
		return nil, s.failed(ctx, req, oautherr.MissingParameter("grant_type"))
	}
	handle, ok := handlers[grantType]
	if !ok {
		return nil, s.failed(ctx, req, oautherr.Newf(oautherr.UnsupportedGrantType, "the grant type %s is not supported", grantType))
	}
	granted, err := handle(s, ctx, req)
	if err != nil {
		return nil, s.failed(ctx, req, err)
	}
	now := s.nowFn()
	s.publisher.TokenGranted(ctx, events.TokenGranted{
		ID:        events.NewID(now),
		ClientID:  granted.ClientID,
		Subject:   granted.Subject,
		GrantType: grantType,
		Scope:     granted.Scope,
		At:        now,
	})
	return granted, nil
}

func (s *Service) failed(ctx context.Context, req Request, err error) error {
	code := oautherr.As(err).Code
	var denied *DeniedError
	if errors.As(err, &denied) {
		code = denied.Result.Outcome.String()
	}
	s.logger.DebugContext(ctx, "token request rejected",
		slog.String("grant_type", req.GrantType),
		slog.String("client_id", req.Credentials.ClientIDFromForm),
		slog.Any("error", err),
	)
	now := s.nowFn()
	s.publisher.GrantFailed(ctx, events.GrantFailed{
		ID:        events.NewID(now),
		ClientID:  req.Credentials.ClientIDFromForm,
		GrantType: req.GrantType,
		Code:      code,
		At:        now,
	})
	return err
}
