package httpapi

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cfszone_connect/answer_uma_provider/internal/authorize"
	"cfszone_connect/answer_uma_provider/internal/config"
	"cfszone_connect/answer_uma_provider/internal/keys"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
	"cfszone_connect/answer_uma_provider/internal/store"
)

type fakeContext struct {
	query      map[string]string
	form       map[string]string
	headers    map[string]string
	statusCode int
	jsonBody   any
	htmlBody   []byte
	redirect   string
	bindBody   []byte
	written    map[string]string
}

func (f *fakeContext) Context() context.Context {
	return context.Background()
}

func (f *fakeContext) Query(key string) string {
	if f.query == nil {
		return ""
	}
	return f.query[key]
}

func (f *fakeContext) PostForm(key string) string {
	if f.form == nil {
		return ""
	}
	return f.form[key]
}

func (f *fakeContext) Header(key string) string {
	if f.headers == nil {
		return ""
	}
	return f.headers[key]
}

func (f *fakeContext) PeerCertificate() *x509.Certificate {
	return nil
}

func (f *fakeContext) SetHeader(key, value string) {
	if f.written == nil {
		f.written = map[string]string{}
	}
	f.written[key] = value
}

func (f *fakeContext) JSON(status int, value any) {
	f.statusCode = status
	f.jsonBody = value
}

func (f *fakeContext) HTML(status int, body []byte) {
	f.statusCode = status
	f.htmlBody = body
}

func (f *fakeContext) Redirect(status int, location string) {
	f.statusCode = status
	f.redirect = location
}

func (f *fakeContext) Status(status int) {
	f.statusCode = status
}

func (f *fakeContext) BindJSON(value any) error {
	if len(f.bindBody) == 0 {
		return nil
	}
	return json.Unmarshal(f.bindBody, value)
}

func (f *fakeContext) redirectURL(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse(f.redirect)
	require.NoError(t, err)
	return u
}

func mustMarshal(t *testing.T, value any) []byte {
	t.Helper()
	b, err := json.Marshal(value)
	require.NoError(t, err)
	return b
}

// decode round-trips a response body into a generic map.
func decode(t *testing.T, value any) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(mustMarshal(t, value), &out))
	return out
}

const (
	testIssuer   = "https://uma.example.com"
	testRedirect = "https://rp.example.com/callback"
)

type fixture struct {
	handlers *Handlers
	store    *store.InMemoryStore
}

func loggedInAs(subject string) UserResolver {
	return func(HTTPContext) (authorize.Authenticated, error) {
		if subject == "" {
			return authorize.Authenticated{}, ErrNoLoginUser
		}
		return authorize.Authenticated{
			Owner:    &model.ResourceOwner{Subject: subject, Claims: map[string]any{"name": "Alice"}},
			AuthTime: time.Now().UTC(),
		}, nil
	}
}

func newFixture(t *testing.T, users UserResolver) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewInMemoryStore()
	for _, c := range []*model.Client{
		{
			ID:                      "web",
			TokenEndpointAuthMethod: model.AuthMethodSecretBasic,
			Secrets:                 []model.ClientSecret{{Type: model.SecretTypeShared, Value: "web-secret"}},
			GrantTypes:              []string{model.GrantTypeAuthorizationCode, model.GrantTypePassword, model.GrantTypeClientCredentials, model.GrantTypeRefreshToken},
			ResponseTypes:           []string{model.ResponseTypeCode, model.ResponseTypeToken, model.ResponseTypeIDToken},
			Scopes:                  []string{"openid", "profile", "scim"},
			RedirectURIs:            []string{testRedirect},
		},
		{
			ID:                      "rs",
			TokenEndpointAuthMethod: model.AuthMethodSecretPost,
			Secrets:                 []model.ClientSecret{{Type: model.SecretTypeShared, Value: "rs-secret"}},
			GrantTypes:              []string{model.GrantTypeUMATicket},
		},
		{
			ID:                      "tv",
			TokenEndpointAuthMethod: model.AuthMethodSecretPost,
			Secrets:                 []model.ClientSecret{{Type: model.SecretTypeShared, Value: "tv-secret"}},
			GrantTypes:              []string{model.GrantTypeDeviceCode},
			Scopes:                  []string{"openid", "profile"},
		},
	} {
		require.NoError(t, s.SaveClient(ctx, c))
	}
	require.NoError(t, s.SaveResourceSet(ctx, &model.ResourceSet{
		ID:     "photos",
		Scopes: []string{"read", "write"},
		Policies: []model.Policy{{
			ID:    "rs-reads",
			Rules: []model.PolicyRule{{ID: "r1", Scopes: []string{"read"}, ClientIDs: []string{"rs"}}},
		}},
	}))

	keySet, err := keys.NewKeySet("")
	require.NoError(t, err)
	hash, err := resourceowner.HashPassword("password")
	require.NoError(t, err)
	owners, err := resourceowner.NewStaticAuthenticator([]resourceowner.User{{
		Username:     "alice",
		PasswordHash: hash,
		Claims:       map[string]any{"name": "Alice"},
	}})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Issuer = testIssuer
	handlers := NewHandlers(Options{
		Config: cfg,
		Store:  s,
		Keys:   keySet,
		Owners: owners,
		Users:  users,
		Logger: slog.New(slog.DiscardHandler),
	})
	return &fixture{handlers: handlers, store: s}
}
