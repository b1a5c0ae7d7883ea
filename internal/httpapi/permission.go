package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"cfszone_connect/answer_uma_provider/internal/grant"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
)

type permissionLine struct {
	ResourceID     string   `json:"resource_id"`
	ResourceScopes []string `json:"resource_scopes"`
}

// PermissionHandler is the UMA permission endpoint resource servers call to
// obtain a ticket for a denied request.
type PermissionHandler struct {
	grants *grant.Service
	logger *slog.Logger
}

func NewPermissionHandler(grants *grant.Service, logger *slog.Logger) *PermissionHandler {
	return &PermissionHandler{grants: grants, logger: logger}
}

func (h *PermissionHandler) Handle(ctx HTTPContext) {
	var raw json.RawMessage
	if err := ctx.BindJSON(&raw); err != nil {
		writeOAuthError(ctx, http.StatusBadRequest, oautherr.InvalidRequest, "invalid request body", "", "permission")
		return
	}
	lines, err := decodePermissionLines(raw)
	if err != nil {
		writeOAuthError(ctx, http.StatusBadRequest, oautherr.InvalidRequest, "invalid request body", "", "permission")
		return
	}
	ticket, err := h.grants.RequestPermission(ctx.Context(), grant.PermissionRequest{
		Credentials: credentials(ctx),
		Lines:       lines,
	})
	if err != nil {
		writeError(ctx, h.logger, err, "permission")
		return
	}
	ctx.JSON(http.StatusCreated, map[string]any{"ticket": ticket.ID})
}

// decodePermissionLines accepts a single permission object or an array of them.
func decodePermissionLines(raw json.RawMessage) ([]model.TicketLine, error) {
	var many []permissionLine
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return nil, err
		}
	} else {
		var one permissionLine
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, err
		}
		many = []permissionLine{one}
	}
	lines := make([]model.TicketLine, 0, len(many))
	for _, p := range many {
		lines = append(lines, model.TicketLine{ResourceSetID: p.ResourceID, Scopes: p.ResourceScopes})
	}
	return lines, nil
}
