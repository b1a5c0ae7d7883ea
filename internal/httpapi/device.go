package httpapi

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"cfszone_connect/answer_uma_provider/internal/grant"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
)

// DeviceHandler serves the device authorization endpoint polled devices start
// from, and the verification endpoint the end user approves them at.
type DeviceHandler struct {
	grants           *grant.Service
	resolveLoginUser UserResolver
	verificationURI  string
	logger           *slog.Logger
}

func NewDeviceHandler(grants *grant.Service, resolve UserResolver, verificationURI string, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{grants: grants, resolveLoginUser: resolve, verificationURI: verificationURI, logger: logger}
}

type deviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

type deviceVerificationResponse struct {
	UserCode  string `json:"user_code"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	Status    string `json:"status"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
}

func (h *DeviceHandler) HandleAuthorization(ctx HTTPContext) {
	noStore(ctx)
	auth, err := h.grants.AuthorizeDevice(ctx.Context(), grant.DeviceAuthorizationRequest{
		Credentials: credentials(ctx),
		Scope:       ctx.PostForm("scope"),
	})
	if err != nil {
		writeError(ctx, h.logger, err, "device_authorization")
		return
	}
	ctx.JSON(http.StatusOK, deviceAuthorizationResponse{
		DeviceCode:              auth.DeviceCode,
		UserCode:                auth.UserCode,
		VerificationURI:         h.verificationURI,
		VerificationURIComplete: h.verificationURI + "?" + url.Values{"user_code": {auth.UserCode}}.Encode(),
		ExpiresIn:               int64(time.Until(auth.ExpiresAt).Round(time.Second) / time.Second),
		Interval:                int64(auth.Interval / time.Second),
	})
}

// HandleLookup shows the logged in user what a user code would authorize.
func (h *DeviceHandler) HandleLookup(ctx HTTPContext) {
	if _, err := h.resolveLoginUser(ctx); err != nil {
		writeOAuthError(ctx, http.StatusUnauthorized, oautherr.AccessDenied, "user not logged in", "", "device_lookup")
		return
	}
	auth, err := h.grants.LookupDevice(ctx.Context(), param(ctx, "user_code"))
	if err != nil {
		writeError(ctx, h.logger, err, "device_lookup")
		return
	}
	h.respond(ctx, auth)
}

// HandleDecision approves the device when approve is "true" and denies it
// otherwise.
func (h *DeviceHandler) HandleDecision(ctx HTTPContext) {
	user, err := h.resolveLoginUser(ctx)
	if err != nil {
		writeOAuthError(ctx, http.StatusUnauthorized, oautherr.AccessDenied, "user not logged in", "", "device_decision")
		return
	}
	auth, err := h.grants.DecideDevice(ctx.Context(), param(ctx, "user_code"), user.Owner, param(ctx, "approve") == "true")
	if err != nil {
		writeError(ctx, h.logger, err, "device_decision")
		return
	}
	h.respond(ctx, auth)
}

func (h *DeviceHandler) respond(ctx HTTPContext, auth *model.DeviceAuthorization) {
	noStore(ctx)
	resp := deviceVerificationResponse{
		UserCode: auth.UserCode,
		ClientID: auth.ClientID,
		Scope:    model.JoinScope(auth.Scopes),
		Status:   string(auth.Status),
	}
	if auth.Status == model.DeviceAuthorizationPending {
		resp.ExpiresIn = int64(time.Until(auth.ExpiresAt).Round(time.Second) / time.Second)
	}
	ctx.JSON(http.StatusOK, resp)
}
