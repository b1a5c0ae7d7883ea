package httpapi

import (
	"log/slog"
	"net/http"
	"strings"

	"cfszone_connect/answer_uma_provider/internal/grant"
)

// RevokeHandler serves both RFC 7009 revocation and RFC 7662 introspection,
// which share their parameters and client authentication.
type RevokeHandler struct {
	grants *grant.Service
	logger *slog.Logger
}

func NewRevokeHandler(grants *grant.Service, logger *slog.Logger) *RevokeHandler {
	return &RevokeHandler{grants: grants, logger: logger}
}

func tokenRequest(ctx HTTPContext) grant.TokenRequest {
	return grant.TokenRequest{
		Credentials:   credentials(ctx),
		Token:         strings.TrimSpace(ctx.PostForm("token")),
		TokenTypeHint: strings.TrimSpace(ctx.PostForm("token_type_hint")),
	}
}

func (h *RevokeHandler) HandleRevoke(ctx HTTPContext) {
	if err := h.grants.Revoke(ctx.Context(), tokenRequest(ctx)); err != nil {
		writeError(ctx, h.logger, err, "revoke")
		return
	}
	ctx.Status(http.StatusOK)
}

func (h *RevokeHandler) HandleIntrospect(ctx HTTPContext) {
	info, err := h.grants.Introspect(ctx.Context(), tokenRequest(ctx))
	if err != nil {
		writeError(ctx, h.logger, err, "introspect")
		return
	}
	noStore(ctx)
	ctx.JSON(http.StatusOK, info)
}
