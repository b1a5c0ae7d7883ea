package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Handlers is one consistent generation of endpoint handlers. The plugin
// swaps generations when its configuration changes.
type Handlers struct {
	Authorize  *AuthorizeHandler
	Token      *TokenHandler
	Revoke     *RevokeHandler
	Permission *PermissionHandler
	Device     *DeviceHandler
	UserInfo   *UserInfoHandler
	Metadata   *MetadataHandler
	Admin      *AdminClientHandler
}

// Provider returns the current handlers, or nil while none are built.
type Provider func() *Handlers

func serve(current Provider, traceID string, fn func(*Handlers, HTTPContext)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WrapGinContext(c)
		h := current()
		if h == nil {
			writeServiceUnavailable(ctx, traceID)
			return
		}
		fn(h, ctx)
	}
}

func serveClient(current Provider, traceID string, fn func(*Handlers, HTTPContext, string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WrapGinContext(c)
		h := current()
		if h == nil {
			writeServiceUnavailable(ctx, traceID)
			return
		}
		fn(h, ctx, strings.TrimSpace(c.Param("client_id")))
	}
}

// RegisterPublic mounts the protocol endpoints.
func RegisterPublic(r gin.IRoutes, current Provider) {
	r.GET("/.well-known/openid-configuration", serve(current, "discovery", func(h *Handlers, ctx HTTPContext) {
		h.Metadata.HandleDiscovery(ctx)
	}))
	r.GET("/.well-known/uma2-configuration", serve(current, "uma_discovery", func(h *Handlers, ctx HTTPContext) {
		h.Metadata.HandleUMAConfiguration(ctx)
	}))
	r.GET("/.well-known/jwks.json", serve(current, "jwks", func(h *Handlers, ctx HTTPContext) {
		h.Metadata.HandleJWKS(ctx)
	}))
	r.GET("/authorize", serve(current, "authorize", func(h *Handlers, ctx HTTPContext) {
		h.Authorize.Handle(ctx)
	}))
	r.POST("/authorize/consent", serve(current, "authorize_consent", func(h *Handlers, ctx HTTPContext) {
		h.Authorize.HandleConsent(ctx)
	}))
	r.POST("/token", serve(current, "token", func(h *Handlers, ctx HTTPContext) {
		h.Token.Handle(ctx)
	}))
	r.POST("/revoke", serve(current, "revoke", func(h *Handlers, ctx HTTPContext) {
		h.Revoke.HandleRevoke(ctx)
	}))
	r.POST("/introspect", serve(current, "introspect", func(h *Handlers, ctx HTTPContext) {
		h.Revoke.HandleIntrospect(ctx)
	}))
	r.POST("/device_authorization", serve(current, "device_authorization", func(h *Handlers, ctx HTTPContext) {
		h.Device.HandleAuthorization(ctx)
	}))
	r.GET("/device", serve(current, "device_lookup", func(h *Handlers, ctx HTTPContext) {
		h.Device.HandleLookup(ctx)
	}))
	r.POST("/device", serve(current, "device_decision", func(h *Handlers, ctx HTTPContext) {
		h.Device.HandleDecision(ctx)
	}))
	r.POST("/perm", serve(current, "permission", func(h *Handlers, ctx HTTPContext) {
		h.Permission.Handle(ctx)
	}))
	userinfo := serve(current, "userinfo", func(h *Handlers, ctx HTTPContext) {
		h.UserInfo.Handle(ctx)
	})
	r.GET("/userinfo", userinfo)
	r.POST("/userinfo", userinfo)
}

// RegisterAdmin mounts client management under r, which the caller must
// restrict to administrators.
func RegisterAdmin(r gin.IRoutes, current Provider) {
	r.GET("/clients", serve(current, "admin_client_list", func(h *Handlers, ctx HTTPContext) {
		h.Admin.HandleList(ctx)
	}))
	r.POST("/clients", serve(current, "admin_client_create", func(h *Handlers, ctx HTTPContext) {
		h.Admin.HandleCreate(ctx)
	}))
	r.GET("/clients/:client_id", serveClient(current, "admin_client_get", func(h *Handlers, ctx HTTPContext, id string) {
		h.Admin.HandleGet(ctx, id)
	}))
	r.PUT("/clients/:client_id", serveClient(current, "admin_client_update", func(h *Handlers, ctx HTTPContext, id string) {
		h.Admin.HandleUpdate(ctx, id)
	}))
	r.DELETE("/clients/:client_id", serveClient(current, "admin_client_delete", func(h *Handlers, ctx HTTPContext, id string) {
		h.Admin.HandleDelete(ctx, id)
	}))
}
