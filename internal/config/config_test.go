package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
	"cfszone_connect/answer_uma_provider/internal/store"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	c := Config{Issuer: " https://answer.example.com/ ", BasePath: "api/uma/"}.Normalize()
	assert.Equal(t, "https://answer.example.com", c.Issuer)
	assert.Equal(t, "/api/uma", c.BasePath)
	assert.Equal(t, 5*time.Minute, c.TicketTTL)
	assert.Equal(t, 5*time.Second, c.DevicePollInterval)
	assert.Equal(t, "https://answer.example.com/api/uma/token", c.TokenEndpoint())
}

func TestWithFallbackIssuer(t *testing.T) {
	assert.Equal(t, "https://site.example.com", Config{}.WithFallbackIssuer("https://site.example.com/").Issuer)
	assert.Equal(t, "http://localhost:8080", Config{}.WithFallbackIssuer("").Issuer)
	assert.Equal(t, "https://set.example.com", Config{Issuer: "https://set.example.com"}.WithFallbackIssuer("https://site.example.com").Issuer)
}

func TestParsePluginConfig(t *testing.T) {
	current := DefaultConfig()
	current.PrivateKeyPEM = "old"
	next, err := ParsePluginConfig([]byte(`{
		"issuer": "https://answer.example.com",
		"ticket_ttl_seconds": 60,
		"device_poll_interval_seconds": 0,
		"default_scopes": "openid role"
	}`), current)
	require.NoError(t, err)
	assert.Equal(t, "https://answer.example.com", next.Issuer)
	assert.Equal(t, time.Minute, next.TicketTTL)
	assert.Equal(t, 5*time.Second, next.DevicePollInterval)
	assert.Equal(t, []string{"openid", "role"}, next.DefaultScopes)
	assert.Empty(t, next.PrivateKeyPEM)

	_, err = ParsePluginConfig([]byte(`{`), current)
	assert.Error(t, err)
}

func TestPluginConfigFields(t *testing.T) {
	fields := DefaultConfig().ToPluginConfigFields()
	byName := map[string]string{}
	for _, f := range fields {
		byName[f.Name] = f.Value.(string)
	}
	assert.Equal(t, "300", byName["ticket_ttl_seconds"])
	assert.Equal(t, "/api/auth/uma", byName["base_path"])
	assert.Equal(t, "openid profile email", byName["default_scopes"])
}

const sampleFile = `{
	// comments and trailing commas are allowed
	"issuer": "${UMA_TEST_ISSUER:-https://uma.example.com}",
	"ticket_ttl": "2m",
	"store": {"backend": "memory"},
	"clients": [
		{
			"id": "rs",
			"secrets": [{"type": "shared_secret", "value": "s3cret"}],
			"grant_types": ["urn:ietf:params:oauth:grant-type:uma-ticket"],
			"scopes": ["openid"],
			"token_lifetime": "15m",
		},
	],
	"resource_sets": [{"id": "photos", "scopes": ["read"]}],
}`

func TestParseFile(t *testing.T) {
	f, err := ParseFile([]byte(sampleFile))
	require.NoError(t, err)
	assert.Equal(t, "https://uma.example.com", f.Issuer)
	assert.Equal(t, "localhost:8085", f.Listen)
	assert.Equal(t, "text", f.Log.Format)
	assert.Equal(t, model.AuthMethodSecretBasic, f.Clients[0].TokenEndpointAuthMethod)
	assert.Equal(t, 15*time.Minute, f.Clients[0].Model().TokenLifetime)

	provider, err := f.Provider()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, provider.TicketTTL)
	assert.Equal(t, 10*time.Minute, provider.AccessTokenTTL)

	s := store.NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, f.Seed(ctx, s))
	client, err := s.GetClient(ctx, "rs")
	require.NoError(t, err)
	assert.True(t, client.AllowsGrantType(model.GrantTypeUMATicket))
	_, err = s.GetResourceSet(ctx, "photos")
	require.NoError(t, err)
	scopes, err := s.GetScopes(ctx, []string{"openid", "profile"})
	require.NoError(t, err)
	assert.Len(t, scopes, 2)
}

func TestParseFileExpandsEnvironment(t *testing.T) {
	t.Setenv("UMA_TEST_ISSUER", "https://env.example.com")
	f, err := ParseFile([]byte(sampleFile))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", f.Issuer)
}

func TestParseFileRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"unknown field", `{"issuer": "https://a.example.com", "bogus": 1}`, "unknown field"},
		{"missing issuer", `{}`, "issuer is required"},
		{"relative issuer", `{"issuer": "/x"}`, "absolute URL"},
		{"redis without addr", `{"issuer": "https://a.example.com", "store": {"backend": "redis"}}`, "store.redis.addr"},
		{"bad backend", `{"issuer": "https://a.example.com", "store": {"backend": "bolt"}}`, "unknown store backend"},
		{"bad log level", `{"issuer": "https://a.example.com", "log": {"level": "loud"}}`, "unknown log level"},
		{"bad duration", `{"issuer": "https://a.example.com", "ticket_ttl": "soon"}`, "decoding config"},
		{"client without secret", `{"issuer": "https://a.example.com", "clients": [{"id": "c", "grant_types": ["client_credentials"], "scopes": []}]}`, "requires a shared secret"},
		{"duplicate client", `{"issuer": "https://a.example.com", "clients": [
			{"id": "c", "token_endpoint_auth_method": "none", "grant_types": ["implicit"], "scopes": []},
			{"id": "c", "token_endpoint_auth_method": "none", "grant_types": ["implicit"], "scopes": []}]}`, "duplicate id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile([]byte(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseFileKeepsInlinePasswordHashes(t *testing.T) {
	hash, err := resourceowner.HashPassword("password")
	require.NoError(t, err)
	f, err := ParseFile([]byte(`{
		"issuer": "https://uma.example.com",
		"log": {"level": "debug"},
		"users": [{"username": "administrator", "password_hash": "` + hash + `"}],
	}`))
	require.NoError(t, err)
	assert.Equal(t, hash, f.Users[0].PasswordHash)
	assert.Equal(t, slog.LevelDebug, f.Log.SlogLevel())

	owners, err := resourceowner.NewStaticAuthenticator(f.Users)
	require.NoError(t, err)
	_, err = owners.Authenticate(context.Background(), "administrator", "password")
	require.NoError(t, err)
}
