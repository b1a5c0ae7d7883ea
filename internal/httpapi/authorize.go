package httpapi

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"cfszone_connect/answer_uma_provider/internal/authorize"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
)

// UserResolver returns the logged in end user of the request.
type UserResolver func(ctx HTTPContext) (authorize.Authenticated, error)

var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html><head><title>Submit</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Target}}">
{{range $name, $values := .Parameters}}{{range $values}}<input type="hidden" name="{{$name}}" value="{{.}}">
{{end}}{{end}}<noscript><button type="submit">Continue</button></noscript>
</form>
</body></html>`))

type AuthorizeHandler struct {
	flow             *authorize.Flow
	resolveLoginUser UserResolver
	logger           *slog.Logger
}

func NewAuthorizeHandler(flow *authorize.Flow, resolve UserResolver, logger *slog.Logger) *AuthorizeHandler {
	return &AuthorizeHandler{flow: flow, resolveLoginUser: resolve, logger: logger}
}

// param reads an authorization parameter from the query string, falling back
// to the form body for POSTed requests.
func param(ctx HTTPContext, name string) string {
	if v := ctx.Query(name); v != "" {
		return v
	}
	return ctx.PostForm(name)
}

func authorizationRequest(ctx HTTPContext) authorize.Request {
	return authorize.Request{
		ClientID:            strings.TrimSpace(param(ctx, "client_id")),
		ResponseType:        param(ctx, "response_type"),
		RedirectURI:         strings.TrimSpace(param(ctx, "redirect_uri")),
		Scope:               param(ctx, "scope"),
		State:               param(ctx, "state"),
		ResponseMode:        strings.TrimSpace(param(ctx, "response_mode")),
		Nonce:               param(ctx, "nonce"),
		Prompt:              param(ctx, "prompt"),
		CodeChallenge:       strings.TrimSpace(param(ctx, "code_challenge")),
		CodeChallengeMethod: strings.TrimSpace(param(ctx, "code_challenge_method")),
		Claims:              param(ctx, "claims"),
		PendingCode:         strings.TrimSpace(param(ctx, "code")),
	}
}

// Handle continues an authorization request for the logged in user.
func (h *AuthorizeHandler) Handle(ctx HTTPContext) {
	auth, err := h.resolveLoginUser(ctx)
	if err != nil {
		writeOAuthError(ctx, http.StatusUnauthorized, oautherr.AccessDenied, "user not logged in", "", "authorize")
		return
	}
	req := authorizationRequest(ctx)
	result, err := h.flow.Continue(ctx.Context(), auth, req)
	if err != nil {
		h.fail(ctx, req, err)
		return
	}
	h.render(ctx, result)
}

// HandleConsent completes the request with the user's decision from the
// consent page.
func (h *AuthorizeHandler) HandleConsent(ctx HTTPContext) {
	auth, err := h.resolveLoginUser(ctx)
	if err != nil {
		writeOAuthError(ctx, http.StatusUnauthorized, oautherr.AccessDenied, "user not logged in", "", "authorize_consent")
		return
	}
	req := authorizationRequest(ctx)
	var result authorize.Result
	if param(ctx, "approve") == "true" {
		result, err = h.flow.Approve(ctx.Context(), auth, req)
	} else {
		result, err = h.flow.Deny(ctx.Context(), req)
	}
	if err != nil {
		h.fail(ctx, req, err)
		return
	}
	h.render(ctx, result)
}

func (h *AuthorizeHandler) render(ctx HTTPContext, result authorize.Result) {
	if result.ResponseMode != authorize.ResponseModeFormPost {
		ctx.Redirect(http.StatusFound, result.RedirectURL())
		return
	}
	var body bytes.Buffer
	if err := formPostTemplate.Execute(&body, result); err != nil {
		writeError(ctx, h.logger, oautherr.Internal("failed to render the response", err), "authorize")
		return
	}
	noStore(ctx)
	ctx.HTML(http.StatusOK, body.Bytes())
}

// fail sends consent_required, which is only raised once the redirect URI is
// validated, back to the client. Anything else is rendered to the user agent.
func (h *AuthorizeHandler) fail(ctx HTTPContext, req authorize.Request, err error) {
	oerr := oautherr.As(err)
	if oerr.Code != oautherr.ConsentRequired || req.RedirectURI == "" {
		writeError(ctx, h.logger, err, "authorize")
		return
	}
	values := url.Values{}
	values.Set("error", oerr.Code)
	if oerr.Description != "" {
		values.Set("error_description", oerr.Description)
	}
	if oerr.State != "" {
		values.Set("state", oerr.State)
	}
	mode := authorize.ResponseModeQuery
	if kind, _, kerr := authorize.ResolveFlow(req.ResponseType); kerr == nil && kind != authorize.AuthorizationCodeFlow {
		mode = authorize.ResponseModeFragment
	}
	ctx.Redirect(http.StatusFound, authorize.Result{
		Target:       req.RedirectURI,
		Parameters:   values,
		ResponseMode: mode,
	}.RedirectURL())
}
