package grant

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"

	"cfszone_connect/answer_uma_provider/internal/clientauth"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
)

// PermissionRequest is a resource server asking for a ticket covering Lines.
type PermissionRequest struct {
	Credentials clientauth.Instruction
	Lines       []model.TicketLine
}

// RequestPermission registers a permission ticket. The resource server must
// be a client allowed to use the UMA grant, and every line must name a
// registered resource set and a subset of its scopes.
func (s *Service) RequestPermission(ctx context.Context, req PermissionRequest) (*model.Ticket, error) {
	if len(req.Lines) == 0 {
		return nil, oautherr.MissingParameter("resource_id")
	}
	client, err := s.clients.Authenticate(ctx, req.Credentials)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrantType(model.GrantTypeUMATicket) {
		return nil, oautherr.Newf(oautherr.UnauthorizedClient, "the client %s doesn't support the grant type %s", client.ID, model.GrantTypeUMATicket)
	}

	lines := make([]model.TicketLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if strings.TrimSpace(line.ResourceSetID) == "" {
			return nil, oautherr.MissingParameter("resource_id")
		}
		scopes := model.NormalizeScopes(line.Scopes)
		if len(scopes) == 0 {
			return nil, oautherr.MissingParameter("resource_scopes")
		}
		resource, err := s.store.GetResourceSet(ctx, line.ResourceSetID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, oautherr.Newf(oautherr.InvalidRequest, "the resource set %s doesn't exist", line.ResourceSetID)
		}
		if err != nil {
			return nil, oautherr.Internal("failed to load the resource set", err)
		}
		for _, scope := range scopes {
			if !slices.Contains(resource.Scopes, scope) {
				return nil, oautherr.Newf(oautherr.InvalidScope, "the scope %s is not registered on the resource set %s", scope, resource.ID)
			}
		}
		lines = append(lines, model.TicketLine{ResourceSetID: resource.ID, Scopes: scopes})
	}

	now := s.nowFn()
	ticket := &model.Ticket{
		ID:             uuid.NewString(),
		ClientID:       client.ID,
		Lines:          lines,
		CreateDateTime: now,
		ExpiresAt:      now.Add(s.ticketValidity),
	}
	if err = s.store.AddTicket(ctx, ticket); err != nil {
		return nil, oautherr.Internal("failed to store the ticket", err)
	}
	return ticket, nil
}
