package grant

import (
	"context"
	"errors"

	"cfszone_connect/answer_uma_provider/internal/claims"
	"cfszone_connect/answer_uma_provider/internal/events"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
	"cfszone_connect/answer_uma_provider/internal/token"
	"cfszone_connect/answer_uma_provider/internal/uma"
)

// Permission is one entry of the RPT permissions claim.
type Permission struct {
	ResourceID     string   `json:"resource_id"`
	ResourceScopes []string `json:"resource_scopes"`
}

// UMATicket evaluates the ticket against the resource policies and, when every
// line is authorized, consumes the ticket and mints a requesting party token.
func (s *Service) UMATicket(ctx context.Context, req Request) (*model.GrantedToken, error) {
	if err := required(param{"ticket", req.Ticket}); err != nil {
		return nil, err
	}
	client, err := s.authenticateFor(ctx, req.Credentials, model.GrantTypeUMATicket)
	if err != nil {
		return nil, err
	}
	presented, err := s.claimToken(ctx, req)
	if err != nil {
		return nil, err
	}

	ticket, err := s.store.GetTicket(ctx, req.Ticket)
	if errors.Is(err, store.ErrNotFound) {
		return nil, oautherr.New(oautherr.InvalidTicket, "the ticket doesn't exist")
	}
	if err != nil {
		return nil, oautherr.Internal("failed to load the ticket", err)
	}
	now := s.nowFn()
	if ticket.IsExpired(now) {
		return nil, oautherr.New(oautherr.ExpiredTicket, "the ticket has expired")
	}

	result, err := s.policies.Evaluate(ctx, uma.Request{
		Ticket:           ticket,
		ClientID:         client.ID,
		ClaimTokenFormat: req.ClaimTokenFormat,
		Claims:           presented,
	})
	if err != nil {
		return nil, oautherr.Internal("failed to evaluate the authorization policies", err)
	}
	s.publisher.UMADecision(ctx, events.UMADecision{
		ID:            events.NewID(now),
		TicketID:      ticket.ID,
		ClientID:      client.ID,
		Outcome:       result.Outcome.String(),
		ResourceSetID: result.ResourceSetID,
		At:            now,
	})
	if !result.IsAuthorized() {
		return nil, &DeniedError{Ticket: ticket.ID, Result: result}
	}

	if err = s.store.RemoveTicket(ctx, ticket.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, oautherr.New(oautherr.InvalidTicket, "the ticket doesn't exist")
		}
		return nil, oautherr.Internal("failed to consume the ticket", err)
	}

	var (
		scopes      []string
		permissions []Permission
	)
	for _, line := range ticket.Lines {
		scopes = append(scopes, line.Scopes...)
		permissions = append(permissions, Permission{ResourceID: line.ResourceSetID, ResourceScopes: line.Scopes})
	}
	mint := token.Request{
		Client:    client,
		GrantType: model.GrantTypeUMATicket,
		Scopes:    model.NormalizeScopes(scopes),
		ExtraClaims: map[string]any{
			claims.ClaimTicket: ticket.ID,
			"permissions":      permissions,
		},
	}
	if sub, ok := presented[claims.ClaimSubject].(string); ok && sub != "" {
		mint.Owner = &model.ResourceOwner{Subject: sub, Claims: presented}
	}
	return s.minter.Mint(ctx, mint)
}

// claimToken returns the verified claims of the presented claim token, or nil
// when no token of a recognised format was presented.
func (s *Service) claimToken(ctx context.Context, req Request) (map[string]any, error) {
	if req.ClaimToken == "" || req.ClaimTokenFormat != uma.IDTokenClaimFormat {
		return nil, nil
	}
	verified, err := s.verifier.VerifyIDToken(ctx, req.ClaimToken)
	if err != nil {
		return nil, oautherr.New(oautherr.InvalidGrant, "the claim_token is not valid")
	}
	return verified, nil
}
