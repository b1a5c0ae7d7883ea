package grant

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfszone_connect/answer_uma_provider/internal/claims"
	"cfszone_connect/answer_uma_provider/internal/clientauth"
	"cfszone_connect/answer_uma_provider/internal/events"
	"cfszone_connect/answer_uma_provider/internal/keys"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
	"cfszone_connect/answer_uma_provider/internal/signing"
	"cfszone_connect/answer_uma_provider/internal/store"
	"cfszone_connect/answer_uma_provider/internal/token"
	"cfszone_connect/answer_uma_provider/internal/uma"
)

const (
	issuer      = "https://issuer.example.com"
	redirectURI = "https://rp.example.com/callback"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu        sync.Mutex
	granted   []events.TokenGranted
	failed    []events.GrantFailed
	decisions []events.UMADecision
}

func (r *recorder) TokenGranted(_ context.Context, e events.TokenGranted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.granted = append(r.granted, e)
}

func (r *recorder) GrantFailed(_ context.Context, e events.GrantFailed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, e)
}

func (r *recorder) UMADecision(_ context.Context, e events.UMADecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, e)
}

type fixture struct {
	service  *Service
	store    *store.InMemoryStore
	minter   *token.Minter
	verifier signing.Verifier
	clock    *clock
	events   *recorder
}

var (
	passwordHashOnce sync.Once
	passwordHash     string
)

func administratorHash(t *testing.T) string {
	t.Helper()
	passwordHashOnce.Do(func() {
		hash, err := resourceowner.HashPassword("password")
		require.NoError(t, err)
		passwordHash = hash
	})
	return passwordHash
}

func secretPost(id, secret string) clientauth.Instruction {
	return clientauth.Instruction{ClientIDFromForm: id, ClientSecretFromForm: secret}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewInMemoryStore()
	for _, c := range []*model.Client{
		{
			ID:                      "client",
			TokenEndpointAuthMethod: model.AuthMethodSecretPost,
			Secrets:                 []model.ClientSecret{{Type: model.SecretTypeShared, Value: "client"}},
			GrantTypes: []string{
				model.GrantTypeClientCredentials,
				model.GrantTypePassword,
				model.GrantTypeAuthorizationCode,
				model.GrantTypeRefreshToken,
				model.GrantTypeDeviceCode,
			},
			ResponseTypes: []string{model.ResponseTypeCode, model.ResponseTypeToken, model.ResponseTypeIDToken},
			Scopes:        []string{"openid", "profile", "role", "scim"},
			RedirectURIs:  []string{redirectURI},
		},
		{
			ID:                      "resource-client",
			TokenEndpointAuthMethod: model.AuthMethodSecretPost,
			Secrets:                 []model.ClientSecret{{Type: model.SecretTypeShared, Value: "rs"}},
			GrantTypes:              []string{model.GrantTypeUMATicket},
		},
		{
			ID:                      "no-uma",
			TokenEndpointAuthMethod: model.AuthMethodSecretPost,
			Secrets:                 []model.ClientSecret{{Type: model.SecretTypeShared, Value: "no-uma"}},
			GrantTypes:              []string{model.GrantTypeClientCredentials},
			ResponseTypes:           []string{model.ResponseTypeToken},
			Scopes:                  []string{"scim"},
		},
	} {
		require.NoError(t, s.SaveClient(ctx, c))
	}

	keySet, err := keys.NewKeySet("")
	require.NoError(t, err)
	owners, err := resourceowner.NewStaticAuthenticator([]resourceowner.User{{
		Username:     "administrator",
		PasswordHash: administratorHash(t),
		Claims:       map[string]any{"name": "Administrator", "role": "administrator"},
	}})
	require.NoError(t, err)

	c := &clock{now: time.Now().UTC().Truncate(time.Second)}
	logger := slog.New(slog.DiscardHandler)
	signer := signing.NewJWTSigner(keySet, issuer)
	assembler := claims.NewAssembler(issuer, s, s)
	minter := token.NewMinter(assembler, signer, s, token.Lifetimes{
		AccessToken:  time.Hour,
		IDToken:      time.Hour,
		RefreshToken: 24 * time.Hour,
	}, logger).WithClock(c.Now)
	rec := &recorder{}

	service := NewService(Dependencies{
		Clients:   clientauth.NewAuthenticator(s, issuer, issuer+"/token"),
		Store:     s,
		Assembler: assembler,
		Minter:    minter,
		Owners:    owners,
		Policies:  uma.NewEngine(s),
		Verifier:  signer,
		Publisher: rec,
		Logger:    logger,
	}).WithClock(c.Now)

	return &fixture{service: service, store: s, minter: minter, verifier: signer, clock: c, events: rec}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, oautherr.Is(err, code), "want %s, got %v", code, err)
}

func TestPasswordGrantEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	granted, err := f.service.Token(ctx, Request{
		GrantType:   model.GrantTypePassword,
		Credentials: secretPost("client", "client"),
		Scope:       "scim",
		Username:    "administrator",
		Password:    "password",
	})
	require.NoError(t, err)
	assert.Equal(t, "scim", granted.Scope)
	assert.Equal(t, "administrator", granted.Subject)
	assert.NotEmpty(t, granted.RefreshToken)
	assert.Empty(t, granted.IDToken)

	info, err := f.service.Introspect(ctx, TokenRequest{
		Credentials: secretPost("client", "client"),
		Token:       granted.AccessToken,
	})
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.Equal(t, "scim", info.Scope)
	assert.Equal(t, "client", info.ClientID)
	assert.Equal(t, "administrator", info.Subject)
	assert.Equal(t, model.TokenTypeBearer, info.TokenType)
	assert.Equal(t, granted.ExpiresAt().Unix(), info.ExpiresAt)

	require.Len(t, f.events.granted, 1)
	assert.Equal(t, model.GrantTypePassword, f.events.granted[0].GrantType)
	assert.NotEmpty(t, f.events.granted[0].ID)
}

func TestPasswordGrantWithOpenIDReturnsIDToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	granted, err := f.service.Token(ctx, Request{
		GrantType:   model.GrantTypePassword,
		Credentials: secretPost("client", "client"),
		Scope:       "openid profile",
		Username:    "administrator",
		Password:    "password",
	})
	require.NoError(t, err)
	require.NotEmpty(t, granted.IDToken)

	idClaims, err := f.verifier.Verify(ctx, granted.IDToken)
	require.NoError(t, err)
	assert.Equal(t, "administrator", idClaims["sub"])
	assert.Equal(t, "Administrator", idClaims["name"])
}

func TestPasswordGrantRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service.Token(context.Background(), Request{
		GrantType:   model.GrantTypePassword,
		Credentials: secretPost("client", "client"),
		Scope:       "scim",
		Username:    "administrator",
		Password:    "wrong",
	})
	requireCode(t, err, oautherr.InvalidGrant)
	require.Len(t, f.events.failed, 1)
	assert.Equal(t, oautherr.InvalidGrant, f.events.failed[0].Code)
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"missing grant type", Request{}, oautherr.InvalidRequest},
		{"unsupported grant type", Request{GrantType: "magic"}, oautherr.UnsupportedGrantType},
		{"client credentials without scope", Request{GrantType: model.GrantTypeClientCredentials, Credentials: secretPost("client", "client")}, oautherr.InvalidRequest},
		{"password without username", Request{GrantType: model.GrantTypePassword, Credentials: secretPost("client", "client"), Password: "p", Scope: "scim"}, oautherr.InvalidRequest},
		{"code without redirect uri", Request{GrantType: model.GrantTypeAuthorizationCode, Credentials: secretPost("client", "client"), Code: "c"}, oautherr.InvalidRequest},
		{"relative redirect uri", Request{GrantType: model.GrantTypeAuthorizationCode, Credentials: secretPost("client", "client"), Code: "c", RedirectURI: "/callback"}, oautherr.InvalidRequest},
		{"refresh without token", Request{GrantType: model.GrantTypeRefreshToken, Credentials: secretPost("client", "client")}, oautherr.InvalidRequest},
		{"device without client", Request{GrantType: model.GrantTypeDeviceCode, DeviceCode: "d"}, oautherr.InvalidRequest},
		{"uma without ticket", Request{GrantType: model.GrantTypeUMATicket, Credentials: secretPost("resource-client", "rs")}, oautherr.InvalidRequest},
		{"wrong secret", Request{GrantType: model.GrantTypeClientCredentials, Credentials: secretPost("client", "nope"), Scope: "scim"}, oautherr.InvalidClient},
		{"scope outside client", Request{GrantType: model.GrantTypeClientCredentials, Credentials: secretPost("client", "client"), Scope: "scim admin"}, oautherr.InvalidScope},
		{"grant type not registered", Request{GrantType: model.GrantTypePassword, Credentials: secretPost("no-uma", "no-uma"), Username: "u", Password: "p", Scope: "scim"}, oautherr.UnauthorizedClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			_, err := f.service.Token(context.Background(), tt.req)
			requireCode(t, err, tt.want)
		})
	}
}

func TestImpliedResponseTypeIsRequired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveClient(ctx, &model.Client{
		ID:                      "no-token-response",
		TokenEndpointAuthMethod: model.AuthMethodSecretPost,
		Secrets:                 []model.ClientSecret{{Type: model.SecretTypeShared, Value: "x"}},
		GrantTypes:              []string{model.GrantTypeClientCredentials},
		Scopes:                  []string{"scim"},
	}))
	_, err := f.service.Token(ctx, Request{
		GrantType:   model.GrantTypeClientCredentials,
		Credentials: secretPost("no-token-response", "x"),
		Scope:       "scim",
	})
	requireCode(t, err, oautherr.UnauthorizedClient)
}

func TestClientCredentialsReuse(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	req := Request{
		GrantType:   model.GrantTypeClientCredentials,
		Credentials: secretPost("client", "client"),
		Scope:       "scim",
	}

	first, err := f.service.Token(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, first.RefreshToken)
	assert.Empty(t, first.Subject)

	second, err := f.service.Token(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.AccessToken, second.AccessToken)

	f.clock.Advance(time.Hour)
	third, err := f.service.Token(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, third.AccessToken)

	info, err := f.service.Introspect(ctx, TokenRequest{Credentials: secretPost("client", "client"), Token: first.AccessToken})
	require.NoError(t, err)
	assert.False(t, info.Active)
}

func TestClientCredentialsCarriesClientClaims(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveClient(ctx, &model.Client{
		ID:                      "svc",
		TokenEndpointAuthMethod: model.AuthMethodSecretPost,
		Secrets:                 []model.ClientSecret{{Type: model.SecretTypeShared, Value: "svc"}},
		GrantTypes:              []string{model.GrantTypeClientCredentials},
		ResponseTypes:           []string{model.ResponseTypeToken},
		Scopes:                  []string{"scim"},
		Claims:                  map[string]any{"tenant": "acme", "internal": "x"},
		ClaimPatterns:           []string{"^tenant$"},
	}))
	granted, err := f.service.Token(ctx, Request{
		GrantType:   model.GrantTypeClientCredentials,
		Credentials: secretPost("svc", "svc"),
		Scope:       "scim",
	})
	require.NoError(t, err)

	parsed, err := f.verifier.Verify(ctx, granted.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "acme", parsed["tenant"])
	assert.NotContains(t, parsed, "internal")
}

func TestCancelledContextIsTemporarilyUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.service.Token(ctx, Request{
		GrantType:   model.GrantTypeClientCredentials,
		Credentials: secretPost("client", "client"),
		Scope:       "scim",
	})
	requireCode(t, err, oautherr.TemporarilyUnavailable)
}
