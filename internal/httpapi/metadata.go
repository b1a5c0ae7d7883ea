package httpapi

import (
	"log/slog"
	"net/http"

	"cfszone_connect/answer_uma_provider/internal/config"
	"cfszone_connect/answer_uma_provider/internal/cryptoutil"
	"cfszone_connect/answer_uma_provider/internal/grant"
	"cfszone_connect/answer_uma_provider/internal/keys"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/uma"
)

type MetadataHandler struct {
	config config.Config
	keys   *keys.KeySet
	logger *slog.Logger
}

func NewMetadataHandler(cfg config.Config, keySet *keys.KeySet, logger *slog.Logger) *MetadataHandler {
	return &MetadataHandler{
		config: cfg.Normalize(),
		keys:   keySet,
		logger: logger,
	}
}

func (h *MetadataHandler) endpoint(path string) string {
	return h.config.Issuer + h.config.BasePath + path
}

func (h *MetadataHandler) document() map[string]any {
	return map[string]any{
		"issuer":                                h.config.Issuer,
		"authorization_endpoint":                h.endpoint("/authorize"),
		"token_endpoint":                        h.endpoint("/token"),
		"userinfo_endpoint":                     h.endpoint("/userinfo"),
		"jwks_uri":                              h.endpoint("/.well-known/jwks.json"),
		"revocation_endpoint":                   h.endpoint("/revoke"),
		"introspection_endpoint":                h.endpoint("/introspect"),
		"device_authorization_endpoint":         h.endpoint("/device_authorization"),
		"response_types_supported":              []string{"code", "token", "id_token", "id_token token", "code id_token", "code token", "code id_token token"},
		"response_modes_supported":              []string{"query", "fragment", "form_post"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": h.keys.SupportedAlgorithms(),
		"grant_types_supported":                 append(grant.SupportedGrantTypes(), model.GrantTypeImplicit),
		"scopes_supported":                      h.config.DefaultScopes,
		"claims_parameter_supported":            true,
		"token_endpoint_auth_methods_supported": []string{
			string(model.AuthMethodSecretBasic),
			string(model.AuthMethodSecretPost),
			string(model.AuthMethodSecretJWT),
			string(model.AuthMethodPrivateKeyJWT),
			string(model.AuthMethodTLSClientAuth),
		},
		"code_challenge_methods_supported": []string{cryptoutil.PKCEMethodPlain, cryptoutil.PKCEMethodS256},
	}
}

func (h *MetadataHandler) HandleDiscovery(ctx HTTPContext) {
	ctx.JSON(http.StatusOK, h.document())
}

// HandleUMAConfiguration serves the UMA 2.0 discovery document, which extends
// the OpenID one with the permission endpoint and claim token profiles.
func (h *MetadataHandler) HandleUMAConfiguration(ctx HTTPContext) {
	doc := h.document()
	doc["permission_endpoint"] = h.endpoint("/perm")
	doc["uma_profiles_supported"] = []string{}
	doc["claim_token_profiles_supported"] = []string{uma.IDTokenClaimFormat}
	ctx.JSON(http.StatusOK, doc)
}

func (h *MetadataHandler) HandleJWKS(ctx HTTPContext) {
	set, err := h.keys.PublicKeys(ctx.Context())
	if err != nil {
		writeError(ctx, h.logger, oautherr.Internal("failed to load the keys", err), "jwks")
		return
	}
	ctx.JSON(http.StatusOK, set)
}
