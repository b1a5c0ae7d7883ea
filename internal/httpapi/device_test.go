package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDevice(t *testing.T, f *fixture, scope string) deviceAuthorizationResponse {
	t.Helper()
	ctx := &fakeContext{form: map[string]string{"client_id": "tv", "client_secret": "tv-secret", "scope": scope}}
	f.handlers.Device.HandleAuthorization(ctx)
	require.Equal(t, http.StatusOK, ctx.statusCode, ctx.jsonBody)
	assert.Equal(t, "no-store", ctx.written["Cache-Control"])
	resp, ok := ctx.jsonBody.(deviceAuthorizationResponse)
	require.True(t, ok)
	return resp
}

func pollDevice(f *fixture, deviceCode string) *fakeContext {
	ctx := &fakeContext{form: map[string]string{
		"grant_type":    "urn:ietf:params:oauth:grant-type:device_code",
		"client_id":     "tv",
		"client_secret": "tv-secret",
		"device_code":   deviceCode,
	}}
	f.handlers.Token.Handle(ctx)
	return ctx
}

func TestDeviceFlowOverHTTP(t *testing.T) {
	f := newFixture(t, loggedInAs("alice"))
	started := startDevice(t, f, "openid")
	assert.Equal(t, testIssuer+"/api/auth/uma/device", started.VerificationURI)
	complete, err := url.Parse(started.VerificationURIComplete)
	require.NoError(t, err)
	assert.Equal(t, started.UserCode, complete.Query().Get("user_code"))
	assert.Positive(t, started.ExpiresIn)
	assert.EqualValues(t, 5, started.Interval)

	ctx := pollDevice(f, started.DeviceCode)
	assert.Equal(t, http.StatusBadRequest, ctx.statusCode)
	assert.Equal(t, "authorization_pending", decode(t, ctx.jsonBody)["error"])

	lookup := &fakeContext{query: map[string]string{"user_code": strings.ToLower(started.UserCode)}}
	f.handlers.Device.HandleLookup(lookup)
	require.Equal(t, http.StatusOK, lookup.statusCode)
	body := decode(t, lookup.jsonBody)
	assert.Equal(t, "tv", body["client_id"])
	assert.Equal(t, "openid", body["scope"])
	assert.Equal(t, "pending", body["status"])

	decision := &fakeContext{form: map[string]string{"user_code": started.UserCode, "approve": "true"}}
	f.handlers.Device.HandleDecision(decision)
	require.Equal(t, http.StatusOK, decision.statusCode)
	assert.Equal(t, "approved", decode(t, decision.jsonBody)["status"])
}

func TestDeviceDecisionRequiresLogin(t *testing.T) {
	f := newFixture(t, loggedInAs(""))
	started := startDevice(t, f, "")

	for _, handle := range []func(HTTPContext){f.handlers.Device.HandleLookup, f.handlers.Device.HandleDecision} {
		ctx := &fakeContext{form: map[string]string{"user_code": started.UserCode, "approve": "true"}}
		handle(ctx)
		assert.Equal(t, http.StatusUnauthorized, ctx.statusCode)
		assert.Equal(t, "access_denied", decode(t, ctx.jsonBody)["error"])
	}

	ctx := pollDevice(f, started.DeviceCode)
	assert.Equal(t, "authorization_pending", decode(t, ctx.jsonBody)["error"])
}

func TestDeviceAuthorizationRejects(t *testing.T) {
	f := newFixture(t, loggedInAs("alice"))
	tests := []struct {
		name   string
		form   map[string]string
		status int
		code   string
	}{
		{"wrong secret", map[string]string{"client_id": "tv", "client_secret": "nope"}, http.StatusUnauthorized, "invalid_client"},
		{"client without device grant", map[string]string{"client_id": "rs", "client_secret": "rs-secret"}, http.StatusBadRequest, "unauthorized_client"},
		{"scope not registered", map[string]string{"client_id": "tv", "client_secret": "tv-secret", "scope": "scim"}, http.StatusBadRequest, "invalid_scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := &fakeContext{form: tt.form}
			f.handlers.Device.HandleAuthorization(ctx)
			assert.Equal(t, tt.status, ctx.statusCode)
			assert.Equal(t, tt.code, decode(t, ctx.jsonBody)["error"])
		})
	}

	unknown := &fakeContext{query: map[string]string{"user_code": "ZZZZ-ZZZZ"}}
	f.handlers.Device.HandleLookup(unknown)
	assert.Equal(t, http.StatusBadRequest, unknown.statusCode)
	assert.Equal(t, "invalid_grant", decode(t, unknown.jsonBody)["error"])
}
