// Package authorize continues an authorization request once the end user is
// authenticated: it checks consent and either sends the user to the consent
// page or issues the authorization response.
package authorize

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"cfszone_connect/answer_uma_provider/internal/cryptoutil"
	"cfszone_connect/answer_uma_provider/internal/events"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
	"cfszone_connect/answer_uma_provider/internal/token"
)

const (
	PromptNone    = "none"
	PromptLogin   = "login"
	PromptConsent = "consent"
)

const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

type State int

const (
	NeedConsent State = iota
	HasConsent
	NoClient
	Denied
)

func (s State) String() string {
	switch s {
	case NeedConsent:
		return "need_consent"
	case HasConsent:
		return "has_consent"
	case NoClient:
		return "no_client"
	case Denied:
		return "denied"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

type FlowKind int

const (
	AuthorizationCodeFlow FlowKind = iota
	ImplicitFlow
	HybridFlow
)

// flowKinds maps a sorted, space-joined response type set to its flow.
var flowKinds = map[string]FlowKind{
	"code":                AuthorizationCodeFlow,
	"token":               ImplicitFlow,
	"id_token":            ImplicitFlow,
	"id_token token":      ImplicitFlow,
	"code id_token":       HybridFlow,
	"code token":          HybridFlow,
	"code id_token token": HybridFlow,
}

// ResolveFlow maps a response_type parameter to its flow by exact set match.
func ResolveFlow(responseType string) (FlowKind, []string, error) {
	types := strings.Fields(responseType)
	if len(types) == 0 {
		return 0, nil, oautherr.MissingParameter("response_type")
	}
	sorted := slices.Clone(types)
	sort.Strings(sorted)
	sorted = slices.Compact(sorted)
	kind, ok := flowKinds[strings.Join(sorted, " ")]
	if !ok {
		return 0, nil, oautherr.Newf(oautherr.InvalidRequest, "the response_type %s is not supported", responseType)
	}
	return kind, sorted, nil
}

// Request is the authorization request being continued.
type Request struct {
	ClientID            string
	ResponseType        string
	RedirectURI         string
	Scope               string
	State               string
	ResponseMode        string
	Nonce               string
	Prompt              string
	CodeChallenge       string
	CodeChallengeMethod string
	Claims              string
	// PendingCode identifies a request already parked for the consent page.
	PendingCode string
}

// Authenticated is the end user session the request continues with.
type Authenticated struct {
	Owner    *model.ResourceOwner
	AuthTime time.Time
	AMR      []string
	ACR      string
}

// Result is a redirect instruction.
type Result struct {
	State        State
	Target       string
	Parameters   url.Values
	ResponseMode string
}

// RedirectURL renders the instruction for query and fragment modes.
func (r Result) RedirectURL() string {
	encoded := r.Parameters.Encode()
	if encoded == "" {
		return r.Target
	}
	if r.ResponseMode == ResponseModeFragment {
		return r.Target + "#" + encoded
	}
	separator := "?"
	if strings.Contains(r.Target, "?") {
		separator = "&"
	}
	return r.Target + separator + encoded
}

type Dependencies struct {
	Clients  store.ClientStore
	Consents store.ConsentStore
	Codes    store.AuthorizationCodeStore
	Minter   *token.Minter
	// Publisher receives a token-granted event for each access token the
	// authorization endpoint issues. Optional.
	Publisher events.Publisher
	// ConsentURL is where users are sent to approve a client.
	ConsentURL string
}

type Flow struct {
	clients    store.ClientStore
	consents   store.ConsentStore
	codes      store.AuthorizationCodeStore
	minter     *token.Minter
	publisher  events.Publisher
	consentURL string
	nowFn      func() time.Time
}

func NewFlow(deps Dependencies) *Flow {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Multi{}
	}
	return &Flow{
		clients:    deps.Clients,
		consents:   deps.Consents,
		codes:      deps.Codes,
		minter:     deps.Minter,
		publisher:  publisher,
		consentURL: deps.ConsentURL,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

func (f *Flow) WithClock(nowFn func() time.Time) *Flow {
	f.nowFn = nowFn
	return f
}

type validated struct {
	client        *model.Client
	kind          FlowKind
	responseTypes []string
	scopes        []string
	claims        *model.ClaimsParameter
	prompts       []string
	responseMode  string
}

// Continue resumes req for the authenticated user. Errors raised once the
// redirect URI is trusted carry the request state.
func (f *Flow) Continue(ctx context.Context, auth Authenticated, req Request) (Result, error) {
	v, err := f.validate(ctx, req)
	if err != nil {
		if errors.Is(err, errUnknownClient) {
			return Result{State: NoClient}, oautherr.New(oautherr.InvalidRequest, "the client doesn't exist")
		}
		return Result{}, err
	}

	// prompt=consent always asks again, even over a stored consent. The
	// consent page answers through Approve or Deny, which ignore prompt.
	if slices.Contains(v.prompts, PromptConsent) {
		return f.consentRedirect(req), nil
	}

	consent, err := f.consents.FindConsent(ctx, auth.Owner.Subject, v.client.ID)
	switch {
	case err == nil && consent.Covers(v.scopes, requestedClaimNames(v.claims)):
		return f.respond(ctx, auth, req, v)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return Result{}, oautherr.Internal("failed to load the consent", err).WithState(req.State)
	}
	if slices.Contains(v.prompts, PromptNone) {
		return Result{}, oautherr.New(oautherr.ConsentRequired, "the user has not consented to the client").WithState(req.State)
	}
	return f.consentRedirect(req), nil
}

// Approve records the user's consent to the request and continues it.
func (f *Flow) Approve(ctx context.Context, auth Authenticated, req Request) (Result, error) {
	v, err := f.validate(ctx, req)
	if err != nil {
		if errors.Is(err, errUnknownClient) {
			return Result{State: NoClient}, oautherr.New(oautherr.InvalidRequest, "the client doesn't exist")
		}
		return Result{}, err
	}
	consent := &model.Consent{
		Subject:   auth.Owner.Subject,
		ClientID:  v.client.ID,
		Scopes:    v.scopes,
		Claims:    requestedClaimNames(v.claims),
		GrantedAt: f.nowFn(),
	}
	if existing, err := f.consents.FindConsent(ctx, auth.Owner.Subject, v.client.ID); err == nil {
		consent.ID = existing.ID
		consent.Scopes = model.NormalizeScopes(append(slices.Clone(existing.Scopes), v.scopes...))
		consent.Claims = model.NormalizeScopes(append(slices.Clone(existing.Claims), consent.Claims...))
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, oautherr.Internal("failed to load the consent", err).WithState(req.State)
	}
	if consent.ID == "" {
		id, err := cryptoutil.RandomURLSafe(16)
		if err != nil {
			return Result{}, oautherr.Internal("failed to record the consent", err).WithState(req.State)
		}
		consent.ID = id
	}
	if err = f.consents.SaveConsent(ctx, consent); err != nil {
		return Result{}, oautherr.Internal("failed to record the consent", err).WithState(req.State)
	}
	return f.respond(ctx, auth, req, v)
}

// Deny answers the client with access_denied. The request is validated first
// so the error is only ever sent to a registered redirect URI.
func (f *Flow) Deny(ctx context.Context, req Request) (Result, error) {
	v, err := f.validate(ctx, req)
	if err != nil {
		if errors.Is(err, errUnknownClient) {
			return Result{State: NoClient}, oautherr.New(oautherr.InvalidRequest, "the client doesn't exist")
		}
		return Result{}, err
	}
	params := url.Values{}
	params.Set("error", oautherr.AccessDenied)
	params.Set("error_description", "the user denied the request")
	if req.State != "" {
		params.Set("state", req.State)
	}
	return Result{State: Denied, Target: req.RedirectURI, Parameters: params, ResponseMode: v.responseMode}, nil
}

var errUnknownClient = errors.New("unknown client")

func (f *Flow) validate(ctx context.Context, req Request) (validated, error) {
	if req.ClientID == "" {
		return validated{}, oautherr.MissingParameter("client_id")
	}
	client, err := f.clients.GetClient(ctx, req.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return validated{}, errUnknownClient
	}
	if err != nil {
		return validated{}, oautherr.Internal("failed to load the client", err)
	}
	if req.RedirectURI == "" {
		return validated{}, oautherr.MissingParameter("redirect_uri")
	}
	if !client.HasRedirectURI(req.RedirectURI) {
		return validated{}, oautherr.New(oautherr.InvalidRequest, "the redirect_uri is not registered for the client")
	}

	v := validated{client: client}
	fail := func(e *oautherr.Error) (validated, error) {
		return validated{}, e.WithState(req.State)
	}
	if v.kind, v.responseTypes, err = ResolveFlow(req.ResponseType); err != nil {
		return fail(oautherr.As(err))
	}
	for _, responseType := range v.responseTypes {
		if !client.AllowsResponseType(responseType) {
			return fail(oautherr.Newf(oautherr.UnauthorizedClient, "the client %s doesn't support the response type %s", client.ID, responseType))
		}
	}
	if v.kind != ImplicitFlow && !client.AllowsGrantType(model.GrantTypeAuthorizationCode) {
		return fail(oautherr.Newf(oautherr.UnauthorizedClient, "the client %s doesn't support the grant type %s", client.ID, model.GrantTypeAuthorizationCode))
	}
	if v.scopes = model.SplitScope(req.Scope); len(v.scopes) == 0 {
		return fail(oautherr.MissingParameter("scope"))
	}
	for _, scope := range v.scopes {
		if !slices.Contains(client.Scopes, scope) {
			return fail(oautherr.Newf(oautherr.InvalidScope, "the scope %s is not allowed or invalid", scope))
		}
	}
	if v.claims, err = model.ParseClaimsParameter(req.Claims); err != nil {
		return fail(oautherr.New(oautherr.InvalidRequest, "the claims parameter is not valid"))
	}
	if slices.Contains(v.responseTypes, model.ResponseTypeIDToken) && req.Nonce == "" {
		return fail(oautherr.MissingParameter("nonce"))
	}
	switch req.CodeChallengeMethod {
	case "", cryptoutil.PKCEMethodPlain, cryptoutil.PKCEMethodS256:
	default:
		return fail(oautherr.New(oautherr.InvalidRequest, "the code_challenge_method is not supported"))
	}
	if client.RequirePKCE && v.kind != ImplicitFlow && req.CodeChallenge == "" {
		return fail(oautherr.MissingParameter("code_challenge"))
	}
	v.prompts = strings.Fields(req.Prompt)
	if slices.Contains(v.prompts, PromptNone) && len(v.prompts) > 1 {
		return fail(oautherr.New(oautherr.InvalidRequest, "prompt=none cannot be combined with other values"))
	}
	if v.responseMode, err = selectResponseMode(req.ResponseMode, v.kind); err != nil {
		return fail(oautherr.As(err))
	}
	return v, nil
}

// selectResponseMode honours an explicit mode, else query for the code flow
// and fragment for every other flow.
func selectResponseMode(explicit string, kind FlowKind) (string, error) {
	switch explicit {
	case ResponseModeQuery, ResponseModeFragment, ResponseModeFormPost:
		return explicit, nil
	case "":
		if kind == AuthorizationCodeFlow {
			return ResponseModeQuery, nil
		}
		return ResponseModeFragment, nil
	default:
		return "", oautherr.Newf(oautherr.InvalidRequest, "the response_mode %s is not supported", explicit)
	}
}

func (f *Flow) consentRedirect(req Request) Result {
	params := url.Values{}
	set := func(key, value string) {
		if value != "" {
			params.Set(key, value)
		}
	}
	set("client_id", req.ClientID)
	set("response_type", req.ResponseType)
	set("redirect_uri", req.RedirectURI)
	set("scope", req.Scope)
	set("state", req.State)
	set("response_mode", req.ResponseMode)
	set("nonce", req.Nonce)
	set("prompt", req.Prompt)
	set("code_challenge", req.CodeChallenge)
	set("code_challenge_method", req.CodeChallengeMethod)
	set("claims", req.Claims)
	set("code", req.PendingCode)
	return Result{State: NeedConsent, Target: f.consentURL, Parameters: params, ResponseMode: ResponseModeQuery}
}

// respond issues the authorization response for every requested response type.
func (f *Flow) respond(ctx context.Context, auth Authenticated, req Request, v validated) (Result, error) {
	params := url.Values{}
	var code, accessToken string

	// The code is stored after every requested token has been minted.
	var record *model.AuthorizationCode
	if slices.Contains(v.responseTypes, model.ResponseTypeCode) {
		raw, err := cryptoutil.RandomURLSafe(32)
		if err != nil {
			return Result{}, oautherr.Internal("failed to generate the authorization code", err).WithState(req.State)
		}
		record = &model.AuthorizationCode{
			Code:                raw,
			ClientID:            v.client.ID,
			RedirectURI:         req.RedirectURI,
			Scopes:              v.scopes,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			CreateDateTime:      f.nowFn(),
			Subject:             auth.Owner.Subject,
			ResourceOwnerClaims: auth.Owner.Claims,
			Nonce:               req.Nonce,
			ClaimsParameter:     v.claims,
			AuthTime:            auth.AuthTime,
			AMR:                 auth.AMR,
			ACR:                 auth.ACR,
		}
		code = raw
	}

	var granted *model.GrantedToken
	if slices.Contains(v.responseTypes, model.ResponseTypeToken) {
		var err error
		granted, err = f.minter.Mint(ctx, token.Request{
			Client:    v.client,
			GrantType: model.GrantTypeImplicit,
			Scopes:    v.scopes,
			Owner:     auth.Owner,
		})
		if err != nil {
			return Result{}, oautherr.As(err).WithState(req.State)
		}
		accessToken = granted.AccessToken
		params.Set("access_token", granted.AccessToken)
		params.Set("token_type", granted.TokenType)
		params.Set("expires_in", strconv.FormatInt(granted.ExpiresInSeconds(f.nowFn()), 10))
		params.Set("scope", granted.Scope)
	}

	if slices.Contains(v.responseTypes, model.ResponseTypeIDToken) {
		idToken, err := f.minter.IDToken(ctx, v.client, auth.Owner, v.scopes, token.IDTokenParams{
			Nonce:             req.Nonce,
			AuthTime:          auth.AuthTime,
			AMR:               auth.AMR,
			ACR:               auth.ACR,
			ClaimsParameter:   v.claims,
			AuthorizationCode: code,
		}, accessToken)
		if err != nil {
			return Result{}, oautherr.As(err).WithState(req.State)
		}
		params.Set("id_token", idToken)
	}

	if record != nil {
		if err := f.codes.AddAuthorizationCode(ctx, record); err != nil {
			return Result{}, oautherr.Internal("failed to store the authorization code", err).WithState(req.State)
		}
		params.Set("code", code)
	}
	if granted != nil {
		now := f.nowFn()
		f.publisher.TokenGranted(ctx, events.TokenGranted{
			ID:        events.NewID(now),
			ClientID:  v.client.ID,
			Subject:   auth.Owner.Subject,
			GrantType: model.GrantTypeImplicit,
			Scope:     granted.Scope,
			At:        now,
		})
	}

	if req.State != "" {
		params.Set("state", req.State)
	}
	return Result{State: HasConsent, Target: req.RedirectURI, Parameters: params, ResponseMode: v.responseMode}, nil
}

func requestedClaimNames(param *model.ClaimsParameter) []string {
	if param == nil {
		return nil
	}
	var names []string
	for _, p := range param.IDToken {
		names = append(names, p.Name)
	}
	for _, p := range param.UserInfo {
		names = append(names, p.Name)
	}
	return model.NormalizeScopes(names)
}
