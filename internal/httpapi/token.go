package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cfszone_connect/answer_uma_provider/internal/grant"
	"cfszone_connect/answer_uma_provider/internal/model"
)

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type TokenHandler struct {
	grants *grant.Service
	logger *slog.Logger
	nowFn  func() time.Time
}

func NewTokenHandler(grants *grant.Service, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		grants: grants,
		logger: logger,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (h *TokenHandler) Handle(ctx HTTPContext) {
	req := grant.Request{
		GrantType:        strings.TrimSpace(ctx.PostForm("grant_type")),
		Credentials:      credentials(ctx),
		Scope:            ctx.PostForm("scope"),
		Username:         ctx.PostForm("username"),
		Password:         ctx.PostForm("password"),
		Code:             strings.TrimSpace(ctx.PostForm("code")),
		RedirectURI:      strings.TrimSpace(ctx.PostForm("redirect_uri")),
		CodeVerifier:     strings.TrimSpace(ctx.PostForm("code_verifier")),
		RefreshToken:     strings.TrimSpace(ctx.PostForm("refresh_token")),
		DeviceCode:       strings.TrimSpace(ctx.PostForm("device_code")),
		Ticket:           strings.TrimSpace(ctx.PostForm("ticket")),
		ClaimToken:       strings.TrimSpace(ctx.PostForm("claim_token")),
		ClaimTokenFormat: strings.TrimSpace(ctx.PostForm("claim_token_format")),
	}
	noStore(ctx)
	granted, err := h.grants.Token(ctx.Context(), req)
	if err != nil {
		writeError(ctx, h.logger, err, "token")
		return
	}
	ctx.JSON(http.StatusOK, tokenResponse(granted, h.nowFn()))
}

func tokenResponse(granted *model.GrantedToken, now time.Time) TokenResponse {
	return TokenResponse{
		AccessToken:  granted.AccessToken,
		TokenType:    granted.TokenType,
		ExpiresIn:    granted.ExpiresInSeconds(now),
		RefreshToken: granted.RefreshToken,
		IDToken:      granted.IDToken,
		Scope:        granted.Scope,
	}
}
