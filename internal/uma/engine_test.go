package uma

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/store"
)

func newEngine(t *testing.T, resources ...*model.ResourceSet) *Engine {
	t.Helper()
	s := store.NewInMemoryStore()
	for _, r := range resources {
		require.NoError(t, s.SaveResourceSet(context.Background(), r))
	}
	return NewEngine(s)
}

func ticketFor(authorizedByRO bool, lines ...model.TicketLine) *model.Ticket {
	return &model.Ticket{ID: "t", Lines: lines, IsAuthorizedByRO: authorizedByRO}
}

func TestResourceWithoutPoliciesIsOpen(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &model.ResourceSet{ID: "open", Scopes: []string{"read"}})
	result, err := e.Evaluate(context.Background(), Request{
		Ticket:   ticketFor(false, model.TicketLine{ResourceSetID: "open", Scopes: []string{"read"}}),
		ClientID: "rp",
	})
	require.NoError(t, err)
	assert.True(t, result.IsAuthorized())
}

func TestUnknownResourceIsNotAuthorized(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	result, err := e.Evaluate(context.Background(), Request{
		Ticket: ticketFor(false, model.TicketLine{ResourceSetID: "missing", Scopes: []string{"read"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, NotAuthorized, result.Outcome)
	assert.Equal(t, "missing", result.ResourceSetID)
}

func TestRuleChecks(t *testing.T) {
	t.Parallel()

	claimsToken := map[string]any{"role": []any{"reader", "editor"}, "email": "alice@example.com"}
	tests := []struct {
		name           string
		rule           model.PolicyRule
		scopes         []string
		authorizedByRO bool
		claims         map[string]any
		want           Outcome
	}{
		{
			name:   "scope not allowed",
			rule:   model.PolicyRule{Scopes: []string{"read"}},
			scopes: []string{"read", "write"},
			want:   NotAuthorized,
		},
		{
			name:   "client not in allow list",
			rule:   model.PolicyRule{Scopes: []string{"read"}, ClientIDs: []string{"other"}},
			scopes: []string{"read"},
			want:   NotAuthorized,
		},
		{
			name:   "client allowed",
			rule:   model.PolicyRule{Scopes: []string{"read"}, ClientIDs: []string{"rp"}},
			scopes: []string{"read"},
			want:   Authorized,
		},
		{
			name:   "claims required and absent",
			rule:   model.PolicyRule{Scopes: []string{"read"}, Claims: []model.PolicyClaim{{Type: "role", Value: "reader"}}},
			scopes: []string{"read"},
			want:   NeedInfo,
		},
		{
			name:   "array claim contains value",
			rule:   model.PolicyRule{Scopes: []string{"read"}, Claims: []model.PolicyClaim{{Type: "role", Value: "editor"}}},
			scopes: []string{"read"},
			claims: claimsToken,
			want:   Authorized,
		},
		{
			name:   "claim value mismatch",
			rule:   model.PolicyRule{Scopes: []string{"read"}, Claims: []model.PolicyClaim{{Type: "role", Value: "admin"}}},
			scopes: []string{"read"},
			claims: claimsToken,
			want:   NotAuthorized,
		},
		{
			name:   "regex claim",
			rule:   model.PolicyRule{Scopes: []string{"read"}, Claims: []model.PolicyClaim{{Type: "email", Value: `@example\.com$`, Regex: true}}},
			scopes: []string{"read"},
			claims: claimsToken,
			want:   Authorized,
		},
		{
			name:   "missing claim in token",
			rule:   model.PolicyRule{Scopes: []string{"read"}, Claims: []model.PolicyClaim{{Type: "department", Value: "it"}}},
			scopes: []string{"read"},
			claims: claimsToken,
			want:   NotAuthorized,
		},
		{
			name:   "consent pending",
			rule:   model.PolicyRule{Scopes: []string{"read"}, IsResourceOwnerConsentNeeded: true},
			scopes: []string{"read"},
			want:   RequestSubmitted,
		},
		{
			name:           "consent given",
			rule:           model.PolicyRule{Scopes: []string{"read"}, IsResourceOwnerConsentNeeded: true},
			scopes:         []string{"read"},
			authorizedByRO: true,
			want:           Authorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEngine(t, &model.ResourceSet{
				ID:       "rs",
				Policies: []model.Policy{{ID: "p", Rules: []model.PolicyRule{tt.rule}}},
			})
			format := ""
			if tt.claims != nil {
				format = IDTokenClaimFormat
			}
			result, err := e.Evaluate(context.Background(), Request{
				Ticket:           ticketFor(tt.authorizedByRO, model.TicketLine{ResourceSetID: "rs", Scopes: tt.scopes}),
				ClientID:         "rp",
				ClaimTokenFormat: format,
				Claims:           tt.claims,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Outcome)
		})
	}
}

func TestNeedInfoCarriesRequiredClaims(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &model.ResourceSet{
		ID: "rs",
		Policies: []model.Policy{{ID: "p", Rules: []model.PolicyRule{
			{ID: "r1", Scopes: []string{"read"}, Claims: []model.PolicyClaim{{Type: "role", Value: "reader"}}, ClaimsProvider: &model.ClaimsProvider{Name: "idp", Issuer: "https://idp.example.com"}},
			{ID: "r2", Scopes: []string{"read"}, Claims: []model.PolicyClaim{{Type: "role", Value: "reader"}, {Type: "email", Value: "x"}}, ClaimsProvider: &model.ClaimsProvider{Name: "idp", Issuer: "https://idp.example.com"}},
		}}},
	})
	result, err := e.Evaluate(context.Background(), Request{
		Ticket:   ticketFor(false, model.TicketLine{ResourceSetID: "rs", Scopes: []string{"read"}}),
		ClientID: "rp",
	})
	require.NoError(t, err)
	require.Equal(t, NeedInfo, result.Outcome)
	assert.Equal(t, "rs", result.ResourceSetID)
	require.Len(t, result.RequiredClaims, 2)
	assert.Equal(t, "role", result.RequiredClaims[0].Name)
	assert.Equal(t, "email", result.RequiredClaims[1].Name)
	assert.Equal(t, []string{"https://idp.example.com"}, result.RequiredClaims[0].Issuer)
	assert.Equal(t, []string{IDTokenClaimFormat}, result.RequiredClaims[0].ClaimTokenFormat)
}

// A rule needing an absent claim must not hide a later rule that authorizes.
func TestAuthorizationIsORAcrossPolicies(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &model.ResourceSet{
		ID: "rs",
		Policies: []model.Policy{
			{ID: "needs-claims", Rules: []model.PolicyRule{{Scopes: []string{"read"}, Claims: []model.PolicyClaim{{Type: "role", Value: "reader"}}}}},
			{ID: "client-only", Rules: []model.PolicyRule{{Scopes: []string{"read"}, ClientIDs: []string{"rp"}}}},
		},
	})
	ticket := ticketFor(false, model.TicketLine{ResourceSetID: "rs", Scopes: []string{"read"}})

	result, err := e.Evaluate(context.Background(), Request{Ticket: ticket, ClientID: "rp"})
	require.NoError(t, err)
	assert.Equal(t, Authorized, result.Outcome)

	result, err = e.Evaluate(context.Background(), Request{
		Ticket:           ticket,
		ClientID:         "rp",
		ClaimTokenFormat: IDTokenClaimFormat,
		Claims:           map[string]any{"role": "reader"},
	})
	require.NoError(t, err)
	assert.Equal(t, Authorized, result.Outcome)
}

func TestEveryLineMustBeAuthorized(t *testing.T) {
	t.Parallel()

	e := newEngine(t,
		&model.ResourceSet{ID: "open"},
		&model.ResourceSet{ID: "guarded", Policies: []model.Policy{{ID: "p", Rules: []model.PolicyRule{{Scopes: []string{"read"}, IsResourceOwnerConsentNeeded: true}}}}},
	)
	result, err := e.Evaluate(context.Background(), Request{
		Ticket: ticketFor(false,
			model.TicketLine{ResourceSetID: "open", Scopes: []string{"read"}},
			model.TicketLine{ResourceSetID: "guarded", Scopes: []string{"read"}},
		),
		ClientID: "rp",
	})
	require.NoError(t, err)
	assert.Equal(t, RequestSubmitted, result.Outcome)
	assert.Equal(t, "guarded", result.ResourceSetID)
}

// Claims presented without a recognised claim-token format are ignored, so a
// rule that requires claims asks for them instead of denying outright.
func TestMissingClaimTokenFormatYieldsNeedInfo(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &model.ResourceSet{
		ID:       "rs",
		Policies: []model.Policy{{ID: "p", Rules: []model.PolicyRule{{Scopes: []string{"read"}, Claims: []model.PolicyClaim{{Type: "role", Value: "reader"}}}}}},
	})
	ticket := ticketFor(false, model.TicketLine{ResourceSetID: "rs", Scopes: []string{"read"}})

	for _, format := range []string{"", "urn:unknown:format"} {
		result, err := e.Evaluate(context.Background(), Request{
			Ticket:           ticket,
			ClientID:         "rp",
			ClaimTokenFormat: format,
			Claims:           map[string]any{"role": "admin"},
		})
		require.NoError(t, err)
		assert.Equal(t, NeedInfo, result.Outcome, "format %q", format)
	}
}

func TestInvalidClaimPatternIsAnError(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &model.ResourceSet{
		ID:       "rs",
		Policies: []model.Policy{{ID: "p", Rules: []model.PolicyRule{{ID: "r", Scopes: []string{"read"}, Claims: []model.PolicyClaim{{Type: "email", Value: "(", Regex: true}}}}}},
	})
	_, err := e.Evaluate(context.Background(), Request{
		Ticket:           ticketFor(false, model.TicketLine{ResourceSetID: "rs", Scopes: []string{"read"}}),
		ClaimTokenFormat: IDTokenClaimFormat,
		Claims:           map[string]any{"email": "a@b"},
	})
	require.Error(t, err)
}
