package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/signing"
	"cfszone_connect/answer_uma_provider/internal/store"
)

type UserInfoHandler struct {
	verifier signing.Verifier
	tokens   store.TokenStore
	logger   *slog.Logger
	nowFn    func() time.Time
}

func NewUserInfoHandler(verifier signing.Verifier, tokens store.TokenStore, logger *slog.Logger) *UserInfoHandler {
	return &UserInfoHandler{
		verifier: verifier,
		tokens:   tokens,
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle renders the user-info payload captured when the access token was
// minted. Revoked tokens are rejected even while their signature is valid.
func (h *UserInfoHandler) Handle(ctx HTTPContext) {
	raw, ok := bearerToken(ctx)
	if !ok {
		unauthorized(ctx, "userinfo")
		return
	}
	if _, err := h.verifier.Verify(ctx.Context(), raw); err != nil {
		unauthorized(ctx, "userinfo")
		return
	}
	granted, err := h.tokens.GetAccessToken(ctx.Context(), raw)
	if errors.Is(err, store.ErrNotFound) {
		unauthorized(ctx, "userinfo")
		return
	}
	if err != nil {
		writeError(ctx, h.logger, oautherr.Internal("failed to load the access token", err), "userinfo")
		return
	}
	if granted.IsExpired(h.nowFn()) || granted.Subject == "" {
		unauthorized(ctx, "userinfo")
		return
	}
	payload := granted.UserInfoPayload
	if payload == nil {
		payload = map[string]any{"sub": granted.Subject}
	}
	noStore(ctx)
	ctx.JSON(http.StatusOK, payload)
}
