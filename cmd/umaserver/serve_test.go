package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfszone_connect/answer_uma_provider/internal/config"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
)

func testFile(t *testing.T, backend string) *config.File {
	t.Helper()
	adminHash, err := resourceowner.HashPassword("password")
	require.NoError(t, err)
	readerHash, err := resourceowner.HashPassword("reader")
	require.NoError(t, err)
	t.Setenv("UMA_TEST_BACKEND", backend)

	f, err := config.ParseFile([]byte(`{
		"issuer": "https://uma.example.com",
		"store": {"backend": "${UMA_TEST_BACKEND}", "redis": {"addr": "${UMA_TEST_REDIS:-127.0.0.1:6379}"}},
		"clients": [{
			"id": "client",
			"secrets": [{"type": "shared_secret", "value": "client"}],
			"grant_types": ["password", "client_credentials"],
			"response_types": ["token"],
			"scopes": ["scim", "openid"],
		}],
		"scopes": [{"name": "scim"}, {"name": "openid", "is_openid_scope": true}],
		"users": [
			{"username": "administrator", "password_hash": "` + adminHash + `", "claims": {"role": "administrator"}},
			{"username": "reader", "password_hash": "` + readerHash + `"},
		],
	}`))
	require.NoError(t, err)
	return f
}

func newTestServer(t *testing.T, f *config.File, reg prometheus.Registerer) *server {
	t.Helper()
	srv, err := newServer(context.Background(), f, reg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("client", "client")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func passwordGrantThenIntrospect(t *testing.T, h http.Handler) {
	t.Helper()
	rec := postForm(t, h, "/api/auth/uma/token", url.Values{
		"grant_type": {"password"},
		"username":   {"administrator"},
		"password":   {"password"},
		"scope":      {"scim"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var granted struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &granted))
	assert.Equal(t, "scim", granted.Scope)

	rec = postForm(t, h, "/api/auth/uma/introspect", url.Values{"token": {granted.AccessToken}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var info struct {
		Active bool   `json:"active"`
		Scope  string `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.Active)
	assert.Equal(t, "scim", info.Scope)
}

func TestServerPasswordGrantEndToEnd(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := newTestServer(t, testFile(t, config.StoreMemory), reg)
	passwordGrantThenIntrospect(t, srv.handler)

	count, err := testutil.GatherAndCount(reg, "uma_tokens_granted_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestServerWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("UMA_TEST_REDIS", mr.Addr())
	srv := newTestServer(t, testFile(t, config.StoreRedis), prometheus.NewRegistry())
	passwordGrantThenIntrospect(t, srv.handler)
	assert.NotEmpty(t, mr.Keys())
}

func TestServerAdminRequiresAdministrator(t *testing.T) {
	srv := newTestServer(t, testFile(t, config.StoreMemory), prometheus.NewRegistry())

	get := func(user, password string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/uma/admin/clients", nil)
		if user != "" {
			req.SetBasicAuth(user, password)
		}
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, get("", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("administrator", "wrong").Code)
	assert.Equal(t, http.StatusForbidden, get("reader", "reader").Code)

	rec := get("administrator", "password")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"client"`)
	assert.NotContains(t, rec.Body.String(), `"value":"client"`)
}

func TestServerHealthAndDiscovery(t *testing.T) {
	srv := newTestServer(t, testFile(t, config.StoreMemory), prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/uma/.well-known/uma2-configuration", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"permission_endpoint":"https://uma.example.com/api/auth/uma/perm"`)
}

func TestHashPasswordCmd(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, (&HashPasswordCmd{Password: "s3cret"}).Run(&out))
	hash := strings.TrimSpace(out.String())

	owners, err := resourceowner.NewStaticAuthenticator([]resourceowner.User{{Username: "u", PasswordHash: hash}})
	require.NoError(t, err)
	_, err = owners.Authenticate(context.Background(), "u", "s3cret")
	assert.NoError(t, err)
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "json", slog.LevelInfo).Debug("hidden")
	newLogger(&buf, "json", slog.LevelInfo).Info("shown", slog.String("k", "v"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)

	buf.Reset()
	newLogger(&buf, "text", slog.LevelDebug).Debug("shown")
	assert.Contains(t, buf.String(), "level=DEBUG")
}
