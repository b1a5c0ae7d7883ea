// Package httpapi exposes the authorization engine over HTTP. Handlers are
// written against HTTPContext so the Answer plugin, the standalone server and
// the tests can drive them with different transports.
package httpapi

import (
	"context"
	"crypto/x509"
	"strings"

	"github.com/gin-gonic/gin"

	"cfszone_connect/answer_uma_provider/internal/clientauth"
)

type HTTPContext interface {
	Context() context.Context
	Query(string) string
	PostForm(string) string
	Header(string) string
	// PeerCertificate is the verified TLS client certificate, if any.
	PeerCertificate() *x509.Certificate
	SetHeader(key, value string)
	JSON(int, any)
	HTML(int, []byte)
	Redirect(int, string)
	Status(int)
	BindJSON(any) error
}

type GinContext struct {
	ctx *gin.Context
}

func WrapGinContext(ctx *gin.Context) HTTPContext {
	return &GinContext{ctx: ctx}
}

// Gin returns the underlying gin context.
func (g *GinContext) Gin() *gin.Context {
	return g.ctx
}

func (g *GinContext) Context() context.Context {
	return g.ctx.Request.Context()
}

func (g *GinContext) Query(key string) string {
	return g.ctx.Query(key)
}

func (g *GinContext) PostForm(key string) string {
	return g.ctx.PostForm(key)
}

func (g *GinContext) Header(key string) string {
	return g.ctx.GetHeader(key)
}

func (g *GinContext) PeerCertificate() *x509.Certificate {
	tls := g.ctx.Request.TLS
	if tls == nil || len(tls.PeerCertificates) == 0 {
		return nil
	}
	return tls.PeerCertificates[0]
}

func (g *GinContext) SetHeader(key, value string) {
	g.ctx.Header(key, value)
}

func (g *GinContext) JSON(status int, value any) {
	g.ctx.JSON(status, value)
}

func (g *GinContext) HTML(status int, body []byte) {
	g.ctx.Data(status, "text/html; charset=utf-8", body)
}

func (g *GinContext) Redirect(status int, location string) {
	g.ctx.Redirect(status, location)
}

func (g *GinContext) Status(status int) {
	g.ctx.Status(status)
}

func (g *GinContext) BindJSON(value any) error {
	return g.ctx.ShouldBindJSON(value)
}

// Wrap adapts an HTTPContext handler to gin.
func Wrap(handler func(HTTPContext)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		handler(WrapGinContext(ctx))
	}
}

// credentials collects every client credential the request carries.
func credentials(ctx HTTPContext) clientauth.Instruction {
	return clientauth.Instruction{
		ClientIDFromForm:     strings.TrimSpace(ctx.PostForm("client_id")),
		ClientSecretFromForm: ctx.PostForm("client_secret"),
		AuthorizationHeader:  ctx.Header("Authorization"),
		ClientAssertion:      strings.TrimSpace(ctx.PostForm("client_assertion")),
		ClientAssertionType:  strings.TrimSpace(ctx.PostForm("client_assertion_type")),
		Certificate:          ctx.PeerCertificate(),
	}
}

func bearerToken(ctx HTTPContext) (string, bool) {
	raw := strings.TrimSpace(ctx.Header("Authorization"))
	if len(raw) < len("Bearer ") || !strings.EqualFold(raw[:len("Bearer ")], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(raw[len("Bearer "):])
	return token, token != ""
}

func noStore(ctx HTTPContext) {
	ctx.SetHeader("Cache-Control", "no-store")
	ctx.SetHeader("Pragma", "no-cache")
}
