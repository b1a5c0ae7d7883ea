package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"cfszone_connect/answer_uma_provider/internal/cryptoutil"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
)

type AdminClientHandler struct {
	store  store.ClientStore
	logger *slog.Logger
	nowFn  func() time.Time
}

func NewAdminClientHandler(clients store.ClientStore, logger *slog.Logger) *AdminClientHandler {
	return &AdminClientHandler{
		store:  clients,
		logger: logger,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

type clientRequest struct {
	ID                      string           `json:"id"`
	Name                    string           `json:"name"`
	RedirectURIs            []string         `json:"redirect_uris"`
	Scopes                  []string         `json:"scopes"`
	GrantTypes              []string         `json:"grant_types"`
	ResponseTypes           []string         `json:"response_types"`
	TokenEndpointAuthMethod model.AuthMethod `json:"token_endpoint_auth_method"`
	RequirePKCE             bool             `json:"require_pkce"`
	Secret                  string           `json:"secret"`
}

// clientView hides the registered secrets.
func clientView(client *model.Client) *model.Client {
	view := *client
	view.Secrets = nil
	return &view
}

func (r clientRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return oautherr.MissingParameter("name")
	}
	if len(r.GrantTypes) == 0 {
		return oautherr.MissingParameter("grant_types")
	}
	for _, uri := range r.RedirectURIs {
		if u, err := url.Parse(uri); err != nil || !u.IsAbs() {
			return oautherr.Newf(oautherr.InvalidRequest, "the redirect uri %s is not absolute", uri)
		}
	}
	return nil
}

func usesSharedSecret(method model.AuthMethod) bool {
	switch method {
	case model.AuthMethodSecretBasic, model.AuthMethodSecretPost, model.AuthMethodSecretJWT:
		return true
	default:
		return false
	}
}

func (h *AdminClientHandler) HandleCreate(ctx HTTPContext) {
	var req clientRequest
	if err := ctx.BindJSON(&req); err != nil {
		writeOAuthError(ctx, http.StatusBadRequest, oautherr.InvalidRequest, "invalid request body", "", "admin_client_create")
		return
	}
	if err := req.validate(); err != nil {
		writeError(ctx, h.logger, err, "admin_client_create")
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := h.store.GetClient(ctx.Context(), id); err == nil {
		writeOAuthError(ctx, http.StatusConflict, oautherr.InvalidRequest, store.ErrAlreadyExists.Error(), "", "admin_client_create")
		return
	}
	method := req.TokenEndpointAuthMethod
	if method == "" {
		method = model.AuthMethodSecretBasic
	}
	secret := req.Secret
	if secret == "" && usesSharedSecret(method) {
		generated, err := cryptoutil.RandomURLSafe(32)
		if err != nil {
			writeError(ctx, h.logger, oautherr.Internal("failed to generate the client secret", err), "admin_client_create")
			return
		}
		secret = generated
	}
	now := h.nowFn()
	client := &model.Client{
		ID:                      id,
		Name:                    strings.TrimSpace(req.Name),
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		Scopes:                  model.NormalizeScopes(req.Scopes),
		TokenEndpointAuthMethod: method,
		RequirePKCE:             req.RequirePKCE,
		RedirectURIs:            req.RedirectURIs,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if secret != "" {
		client.Secrets = []model.ClientSecret{{Type: model.SecretTypeShared, Value: secret}}
	}
	if err := h.store.SaveClient(ctx.Context(), client); err != nil {
		writeError(ctx, h.logger, oautherr.Internal("failed to create client", err), "admin_client_create")
		return
	}
	ctx.JSON(http.StatusCreated, map[string]any{
		"client":        clientView(client),
		"client_secret": secret,
	})
}

func (h *AdminClientHandler) HandleList(ctx HTTPContext) {
	clients, err := h.store.ListClients(ctx.Context())
	if err != nil {
		writeError(ctx, h.logger, oautherr.Internal("failed to list clients", err), "admin_client_list")
		return
	}
	views := make([]*model.Client, 0, len(clients))
	for _, client := range clients {
		views = append(views, clientView(client))
	}
	ctx.JSON(http.StatusOK, map[string]any{"clients": views})
}

func (h *AdminClientHandler) HandleGet(ctx HTTPContext, clientID string) {
	client, err := h.store.GetClient(ctx.Context(), clientID)
	if err != nil {
		h.notFoundOr(ctx, err, "admin_client_get")
		return
	}
	ctx.JSON(http.StatusOK, clientView(client))
}

func (h *AdminClientHandler) HandleUpdate(ctx HTTPContext, clientID string) {
	var req clientRequest
	if err := ctx.BindJSON(&req); err != nil {
		writeOAuthError(ctx, http.StatusBadRequest, oautherr.InvalidRequest, "invalid request body", "", "admin_client_update")
		return
	}
	if err := req.validate(); err != nil {
		writeError(ctx, h.logger, err, "admin_client_update")
		return
	}
	client, err := h.store.GetClient(ctx.Context(), clientID)
	if err != nil {
		h.notFoundOr(ctx, err, "admin_client_update")
		return
	}
	client.Name = strings.TrimSpace(req.Name)
	client.GrantTypes = req.GrantTypes
	client.ResponseTypes = req.ResponseTypes
	client.Scopes = model.NormalizeScopes(req.Scopes)
	client.RedirectURIs = req.RedirectURIs
	client.RequirePKCE = req.RequirePKCE
	if req.TokenEndpointAuthMethod != "" {
		client.TokenEndpointAuthMethod = req.TokenEndpointAuthMethod
	}
	if req.Secret != "" {
		client.Secrets = []model.ClientSecret{{Type: model.SecretTypeShared, Value: req.Secret}}
	}
	client.UpdatedAt = h.nowFn()
	if err = h.store.SaveClient(ctx.Context(), client); err != nil {
		writeError(ctx, h.logger, oautherr.Internal("failed to update client", err), "admin_client_update")
		return
	}
	ctx.JSON(http.StatusOK, clientView(client))
}

func (h *AdminClientHandler) HandleDelete(ctx HTTPContext, clientID string) {
	if err := h.store.DeleteClient(ctx.Context(), clientID); err != nil {
		h.notFoundOr(ctx, err, "admin_client_delete")
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *AdminClientHandler) notFoundOr(ctx HTTPContext, err error, traceID string) {
	if errors.Is(err, store.ErrNotFound) {
		writeOAuthError(ctx, http.StatusNotFound, oautherr.InvalidRequest, "client not found", "", traceID)
		return
	}
	writeError(ctx, h.logger, oautherr.Internal("failed to load the client", err), traceID)
}
