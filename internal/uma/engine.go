// Package uma decides whether the lines of a permission ticket may be
// granted, returning one of four outcomes rather than a plain allow/deny.
package uma

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/store"
)

// IDTokenClaimFormat is the only claim-token format the engine understands.
const IDTokenClaimFormat = "http://openid.net/specs/openid-connect-core-1_0.html#IDToken"

type Outcome int

const (
	Authorized Outcome = iota
	NotAuthorized
	NeedInfo
	RequestSubmitted
)

func (o Outcome) String() string {
	switch o {
	case Authorized:
		return "authorized"
	case NotAuthorized:
		return "not_authorized"
	case NeedInfo:
		return "need_info"
	case RequestSubmitted:
		return "request_submitted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RequiredClaim tells the requesting party which claim to collect and where.
type RequiredClaim struct {
	Name             string   `json:"name"`
	FriendlyName     string   `json:"friendly_name,omitempty"`
	ClaimType        string   `json:"claim_type,omitempty"`
	ClaimTokenFormat []string `json:"claim_token_format"`
	Issuer           []string `json:"issuer,omitempty"`
}

// Result is the decision for a whole ticket. ResourceSetID names the first
// line that was not authorized.
type Result struct {
	Outcome        Outcome
	ResourceSetID  string
	RequiredClaims []RequiredClaim
}

func (r Result) IsAuthorized() bool {
	return r.Outcome == Authorized
}

// Request is one evaluation. Claims are nil unless a claim token of
// ClaimTokenFormat was presented and validated by the caller.
type Request struct {
	Ticket           *model.Ticket
	ClientID         string
	ClaimTokenFormat string
	Claims           map[string]any
}

type Engine struct {
	resources store.ResourceSetStore
}

func NewEngine(resources store.ResourceSetStore) *Engine {
	return &Engine{resources: resources}
}

// Evaluate authorizes every ticket line in order and stops at the first line
// that is not authorized.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Result, error) {
	claims := req.Claims
	if req.ClaimTokenFormat != IDTokenClaimFormat {
		claims = nil
	}
	for _, line := range req.Ticket.Lines {
		resource, err := e.resources.GetResourceSet(ctx, line.ResourceSetID)
		if errors.Is(err, store.ErrNotFound) {
			return Result{Outcome: NotAuthorized, ResourceSetID: line.ResourceSetID}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("get resource set %s: %w", line.ResourceSetID, err)
		}
		result, err := evaluateLine(resource, lineRequest{
			clientID:       req.ClientID,
			scopes:         line.Scopes,
			authorizedByRO: req.Ticket.IsAuthorizedByRO,
			claims:         claims,
		})
		if err != nil {
			return Result{}, err
		}
		if !result.IsAuthorized() {
			result.ResourceSetID = resource.ID
			return result, nil
		}
	}
	return Result{Outcome: Authorized}, nil
}

type lineRequest struct {
	clientID       string
	scopes         []string
	authorizedByRO bool
	claims         map[string]any
}

// evaluateLine runs every rule of every policy. Any authorizing rule grants
// the line; otherwise NeedInfo outranks RequestSubmitted, which outranks
// NotAuthorized.
func evaluateLine(resource *model.ResourceSet, req lineRequest) (Result, error) {
	if len(resource.Policies) == 0 {
		return Result{Outcome: Authorized}, nil
	}
	var (
		required  []RequiredClaim
		submitted bool
	)
	for _, policy := range resource.Policies {
		for _, rule := range policy.Rules {
			result, err := evaluateRule(rule, req)
			if err != nil {
				return Result{}, fmt.Errorf("policy %s rule %s: %w", policy.ID, rule.ID, err)
			}
			switch result.Outcome {
			case Authorized:
				return result, nil
			case NeedInfo:
				required = mergeRequired(required, result.RequiredClaims)
			case RequestSubmitted:
				submitted = true
			}
		}
	}
	switch {
	case len(required) > 0:
		return Result{Outcome: NeedInfo, RequiredClaims: required}, nil
	case submitted:
		return Result{Outcome: RequestSubmitted}, nil
	default:
		return Result{Outcome: NotAuthorized}, nil
	}
}

func evaluateRule(rule model.PolicyRule, req lineRequest) (Result, error) {
	for _, scope := range req.scopes {
		if !slices.Contains(rule.Scopes, scope) {
			return Result{Outcome: NotAuthorized}, nil
		}
	}
	if len(rule.ClientIDs) > 0 && !slices.Contains(rule.ClientIDs, req.clientID) {
		return Result{Outcome: NotAuthorized}, nil
	}
	if len(rule.Claims) > 0 {
		if req.claims == nil {
			return Result{Outcome: NeedInfo, RequiredClaims: requiredClaims(rule)}, nil
		}
		for _, claim := range rule.Claims {
			ok, err := claimMatches(claim, req.claims[claim.Type])
			if err != nil {
				return Result{}, err
			}
			if !ok {
				return Result{Outcome: NotAuthorized}, nil
			}
		}
	}
	if rule.IsResourceOwnerConsentNeeded && !req.authorizedByRO {
		return Result{Outcome: RequestSubmitted}, nil
	}
	return Result{Outcome: Authorized}, nil
}

func requiredClaims(rule model.PolicyRule) []RequiredClaim {
	var issuer []string
	if rule.ClaimsProvider != nil && rule.ClaimsProvider.Issuer != "" {
		issuer = []string{rule.ClaimsProvider.Issuer}
	}
	out := make([]RequiredClaim, 0, len(rule.Claims))
	for _, claim := range rule.Claims {
		out = append(out, RequiredClaim{
			Name:             claim.Type,
			FriendlyName:     claim.Type,
			ClaimType:        claim.Type,
			ClaimTokenFormat: []string{IDTokenClaimFormat},
			Issuer:           issuer,
		})
	}
	return out
}

func mergeRequired(into, more []RequiredClaim) []RequiredClaim {
	for _, claim := range more {
		if !slices.ContainsFunc(into, func(existing RequiredClaim) bool {
			return existing.Name == claim.Name && slices.Equal(existing.Issuer, claim.Issuer)
		}) {
			into = append(into, claim)
		}
	}
	return into
}

// claimMatches compares a presented claim with a rule requirement: exact
// equality for scalars, containment for arrays, or a regular expression.
func claimMatches(required model.PolicyClaim, presented any) (bool, error) {
	if presented == nil {
		return false, nil
	}
	var values []string
	switch v := presented.(type) {
	case []any:
		for _, item := range v {
			values = append(values, model.ClaimString(item))
		}
	case []string:
		values = v
	default:
		values = []string{model.ClaimString(v)}
	}
	if !required.Regex {
		return slices.Contains(values, required.Value), nil
	}
	re, err := regexp.Compile(required.Value)
	if err != nil {
		return false, fmt.Errorf("invalid claim pattern %q: %w", required.Value, err)
	}
	return slices.ContainsFunc(values, re.MatchString), nil
}
