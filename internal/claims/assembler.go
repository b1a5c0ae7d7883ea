// Package claims builds access-token, ID-token and user-info payloads.
//
// ID-token and user-info payloads are produced in one of two modes. Without a
// claims request every claim released by the granted scopes is included. With
// one, the requested claims are resolved and checked against their
// essential/value/values constraints; a violation fails the grant.
package claims

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"

	"cfszone_connect/answer_uma_provider/internal/cryptoutil"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
)

var ErrUnsupportedSigningAlgorithm = errors.New("unsupported signing algorithm")

const (
	ClaimIssuer    = "iss"
	ClaimSubject   = "sub"
	ClaimAudience  = "aud"
	ClaimExpires   = "exp"
	ClaimIssuedAt  = "iat"
	ClaimAuthTime  = "auth_time"
	ClaimNonce     = "nonce"
	ClaimACR       = "acr"
	ClaimAMR       = "amr"
	ClaimAZP       = "azp"
	ClaimCHash     = "c_hash"
	ClaimATHash    = "at_hash"
	ClaimScope     = "scope"
	ClaimClientID  = "client_id"
	ClaimJWTID     = "jti"
	ClaimTicket    = "ticket"
	ClaimTokenType = "typ"
)

// IDTokenRequest describes the authentication an ID token attests to.
type IDTokenRequest struct {
	Client          *model.Client
	Owner           *model.ResourceOwner
	Scopes          []string
	Nonce           string
	AuthTime        time.Time
	AMR             []string
	ACR             string
	ClaimsParameter *model.ClaimsParameter
	Lifetime        time.Duration
	// AuthorizationCode and AccessToken produce c_hash and at_hash when set.
	AuthorizationCode string
	AccessToken       string
}

type Assembler struct {
	issuer  string
	clients store.ClientStore
	scopes  store.ScopeStore
	nowFn   func() time.Time
}

func NewAssembler(issuer string, clients store.ClientStore, scopes store.ScopeStore) *Assembler {
	return &Assembler{
		issuer:  issuer,
		clients: clients,
		scopes:  scopes,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (a *Assembler) WithClock(nowFn func() time.Time) *Assembler {
	clone := *a
	clone.nowFn = nowFn
	return &clone
}

// AccessTokenPayload returns the JWT claims of an access token. extra claims
// never override the registered ones.
func (a *Assembler) AccessTokenPayload(ctx context.Context, client *model.Client, subject string, scopes []string, lifetime time.Duration, extra map[string]any) (map[string]any, error) {
	audiences, err := a.Audiences(ctx, client)
	if err != nil {
		return nil, err
	}
	now := a.nowFn()
	payload := make(map[string]any, len(extra)+8)
	for key, value := range extra {
		payload[key] = value
	}
	payload[ClaimIssuer] = a.issuer
	payload[ClaimAudience] = audiences
	payload[ClaimIssuedAt] = now.Unix()
	payload[ClaimExpires] = now.Add(lifetime).Unix()
	payload[ClaimScope] = model.JoinScope(scopes)
	payload[ClaimClientID] = client.ID
	payload[ClaimJWTID] = uuid.NewString()
	payload[ClaimTokenType] = model.TokenTypeBearer
	if subject != "" {
		payload[ClaimSubject] = subject
	} else {
		delete(payload, ClaimSubject)
	}
	return payload, nil
}

func (a *Assembler) IDTokenPayload(ctx context.Context, req IDTokenRequest) (map[string]any, error) {
	alg := req.Client.SigningAlg()
	if !cryptoutil.SupportsAlgorithm(alg) {
		return nil, unsupportedAlg(alg)
	}
	audiences, err := a.Audiences(ctx, req.Client)
	if err != nil {
		return nil, err
	}
	now := a.nowFn()

	synthetic := map[string]any{
		ClaimIssuer:   a.issuer,
		ClaimSubject:  req.Owner.Subject,
		ClaimAudience: audiences,
		ClaimExpires:  now.Add(req.Lifetime).Unix(),
		ClaimIssuedAt: now.Unix(),
	}
	if !req.AuthTime.IsZero() {
		synthetic[ClaimAuthTime] = req.AuthTime.Unix()
	}
	if req.Nonce != "" {
		synthetic[ClaimNonce] = req.Nonce
	}
	if req.ACR != "" {
		synthetic[ClaimACR] = req.ACR
	}
	if len(req.AMR) > 0 {
		synthetic[ClaimAMR] = req.AMR
	}
	if len(audiences) > 1 || audiences[0] != req.Client.ID {
		synthetic[ClaimAZP] = req.Client.ID
	}

	ownerClaims, err := a.scopeClaims(ctx, req.Owner, req.Scopes)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if req.ClaimsParameter.HasIDToken() {
		payload, err = resolveRequested(req.ClaimsParameter.IDToken, synthetic, req.Owner, ownerClaims)
		if err != nil {
			return nil, err
		}
	} else {
		payload = ownerClaims
		for key, value := range synthetic {
			payload[key] = value
		}
	}

	if req.AuthorizationCode != "" {
		hash, err := cryptoutil.LeftHalfHash(alg, req.AuthorizationCode)
		if err != nil {
			return nil, unsupportedAlg(alg)
		}
		payload[ClaimCHash] = hash
	}
	if req.AccessToken != "" {
		hash, err := cryptoutil.LeftHalfHash(alg, req.AccessToken)
		if err != nil {
			return nil, unsupportedAlg(alg)
		}
		payload[ClaimATHash] = hash
	}
	return payload, nil
}

// UserInfoPayload returns the claims released to the user-info endpoint.
func (a *Assembler) UserInfoPayload(ctx context.Context, owner *model.ResourceOwner, scopes []string, param *model.ClaimsParameter) (map[string]any, error) {
	ownerClaims, err := a.scopeClaims(ctx, owner, scopes)
	if err != nil {
		return nil, err
	}
	if !param.HasUserInfo() {
		return ownerClaims, nil
	}
	payload, err := resolveRequested(param.UserInfo, map[string]any{ClaimSubject: owner.Subject}, owner, ownerClaims)
	if err != nil {
		return nil, err
	}
	payload[ClaimSubject] = owner.Subject
	return payload, nil
}

// Audiences lists every client able to receive ID tokens, then the requesting
// client and the issuer when missing.
func (a *Assembler) Audiences(ctx context.Context, client *model.Client) ([]string, error) {
	clients, err := a.clients.ListClients(ctx)
	if err != nil {
		return nil, oautherr.Internal("failed to list clients", err)
	}
	var audiences []string
	for _, c := range clients {
		if c.AllowsResponseType(model.ResponseTypeIDToken) && !slices.Contains(audiences, c.ID) {
			audiences = append(audiences, c.ID)
		}
	}
	if !slices.Contains(audiences, client.ID) {
		audiences = append(audiences, client.ID)
	}
	if !slices.Contains(audiences, a.issuer) {
		audiences = append(audiences, a.issuer)
	}
	return audiences, nil
}

// ClientClaims returns the client's own claims whose names match one of its
// claim patterns. Invalid patterns are a configuration error.
func (a *Assembler) ClientClaims(client *model.Client) (map[string]any, error) {
	if len(client.Claims) == 0 || len(client.ClaimPatterns) == 0 {
		return nil, nil
	}
	patterns := make([]*regexp.Regexp, 0, len(client.ClaimPatterns))
	for _, raw := range client.ClaimPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, oautherr.Internal("the client claim pattern is invalid", fmt.Errorf("pattern %q: %w", raw, err))
		}
		patterns = append(patterns, re)
	}
	out := make(map[string]any)
	for name, value := range client.Claims {
		for _, re := range patterns {
			if re.MatchString(name) {
				out[name] = value
				break
			}
		}
	}
	return out, nil
}

// scopeClaims returns sub plus the owner claims released by scopes.
func (a *Assembler) scopeClaims(ctx context.Context, owner *model.ResourceOwner, scopes []string) (map[string]any, error) {
	out := map[string]any{ClaimSubject: owner.Subject}
	resolved, err := a.scopes.GetScopes(ctx, scopes)
	if err != nil {
		return nil, oautherr.Internal("failed to resolve scopes", err)
	}
	for _, scope := range resolved {
		for _, name := range scope.Claims {
			if name == ClaimSubject {
				continue
			}
			if value, ok := owner.Claims[name]; ok {
				out[name] = value
			}
		}
	}
	return out, nil
}

// resolveRequested builds the payload for a claims request. Synthetic claims
// win over owner claims of the same name.
func resolveRequested(params []model.ClaimParameter, synthetic map[string]any, owner *model.ResourceOwner, released map[string]any) (map[string]any, error) {
	payload := make(map[string]any, len(synthetic)+len(params))
	for key, value := range synthetic {
		payload[key] = value
	}
	for key, value := range released {
		if _, ok := payload[key]; !ok {
			payload[key] = value
		}
	}
	for _, param := range params {
		value, ok := payload[param.Name]
		if !ok {
			if v, found := owner.Claims[param.Name]; found {
				value, ok = v, true
				payload[param.Name] = v
			}
		}
		if err := checkConstraint(param, value, ok); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func checkConstraint(param model.ClaimParameter, value any, present bool) error {
	if !present {
		if param.Essential || param.HasValue() || param.HasValues() {
			return oautherr.Newf(oautherr.InvalidGrant, "the claim %s is not present", param.Name)
		}
		return nil
	}
	candidates := claimValues(value)
	if param.HasValue() && !slices.Contains(candidates, param.Value) {
		return oautherr.Newf(oautherr.InvalidGrant, "the claim %s is not valid", param.Name)
	}
	if param.HasValues() && !slices.ContainsFunc(candidates, func(v string) bool {
		return slices.Contains(param.Values, v)
	}) {
		return oautherr.Newf(oautherr.InvalidGrant, "the claim %s is not valid", param.Name)
	}
	return nil
}

// claimValues flattens a claim into the strings a constraint may match.
func claimValues(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, model.ClaimString(item))
		}
		return out
	case int64:
		return []string{fmt.Sprint(v)}
	default:
		return []string{model.ClaimString(v)}
	}
}

func unsupportedAlg(alg string) error {
	return oautherr.Internal("the signing algorithm is not supported", fmt.Errorf("%w: %s", ErrUnsupportedSigningAlgorithm, alg))
}
