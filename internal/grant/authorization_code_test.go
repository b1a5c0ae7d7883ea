package grant

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfszone_connect/answer_uma_provider/internal/cryptoutil"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
)

const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

func (f *fixture) addCode(t *testing.T, code string, mutate func(*model.AuthorizationCode)) {
	t.Helper()
	record := &model.AuthorizationCode{
		Code:                code,
		ClientID:            "client",
		RedirectURI:         redirectURI,
		Scopes:              []string{"openid", "profile"},
		CodeChallenge:       cryptoutil.S256Challenge(verifier),
		CodeChallengeMethod: cryptoutil.PKCEMethodS256,
		CreateDateTime:      f.clock.Now(),
		Subject:             "administrator",
		ResourceOwnerClaims: map[string]any{"name": "Administrator"},
		Nonce:               "nonce-1",
		AuthTime:            f.clock.Now(),
	}
	if mutate != nil {
		mutate(record)
	}
	require.NoError(t, f.store.AddAuthorizationCode(context.Background(), record))
}

func codeRequest(code string) Request {
	return Request{
		GrantType:    model.GrantTypeAuthorizationCode,
		Credentials:  secretPost("client", "client"),
		Code:         code,
		RedirectURI:  redirectURI,
		CodeVerifier: verifier,
	}
}

func TestAuthorizationCodeExchange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.addCode(t, "code-1", nil)

	granted, err := f.service.Token(ctx, codeRequest("code-1"))
	require.NoError(t, err)
	assert.Equal(t, "administrator", granted.Subject)
	assert.Equal(t, "openid profile", granted.Scope)
	assert.NotEmpty(t, granted.RefreshToken)
	require.NotEmpty(t, granted.IDToken)

	idClaims, err := f.verifier.Verify(ctx, granted.IDToken)
	require.NoError(t, err)
	assert.Equal(t, "nonce-1", idClaims["nonce"])
	assert.NotEmpty(t, idClaims["at_hash"])

	_, err = f.store.GetAuthorizationCode(ctx, "code-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.service.Token(ctx, codeRequest("code-1"))
	requireCode(t, err, oautherr.InvalidGrant)
}

func TestAuthorizationCodeIsSingleUseUnderConcurrency(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addCode(t, "contended", nil)

	const callers = 8
	var (
		wins   atomic.Int32
		losses atomic.Int32
		wg     sync.WaitGroup
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Token(context.Background(), codeRequest("contended"))
			switch {
			case err == nil:
				wins.Add(1)
			case oautherr.Is(err, oautherr.InvalidGrant):
				losses.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(callers-1), losses.Load())
}

func TestAuthorizationCodeChecksPrecedeConsumption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*model.AuthorizationCode)
		req    func(Request) Request
		want   string
	}{
		{
			name: "redirect uri mismatch",
			req: func(r Request) Request {
				r.RedirectURI = "https://evil.example.com/callback"
				return r
			},
			want: oautherr.InvalidGrant,
		},
		{
			name: "wrong verifier",
			req: func(r Request) Request {
				r.CodeVerifier = "not-the-verifier"
				return r
			},
			want: oautherr.InvalidGrant,
		},
		{
			name: "missing verifier",
			req: func(r Request) Request {
				r.CodeVerifier = ""
				return r
			},
			want: oautherr.InvalidRequest,
		},
		{
			name:   "issued to another client",
			mutate: func(c *model.AuthorizationCode) { c.ClientID = "someone-else" },
			want:   oautherr.InvalidGrant,
		},
		{
			name:   "expired",
			mutate: func(c *model.AuthorizationCode) { c.CreateDateTime = c.CreateDateTime.Add(-11 * time.Minute) },
			want:   oautherr.InvalidGrant,
		},
		{
			name:   "unsupported challenge method",
			mutate: func(c *model.AuthorizationCode) { c.CodeChallengeMethod = "S512" },
			want:   oautherr.InvalidGrant,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.addCode(t, "code", tt.mutate)
			req := codeRequest("code")
			if tt.req != nil {
				req = tt.req(req)
			}
			_, err := f.service.Token(context.Background(), req)
			requireCode(t, err, tt.want)

			_, err = f.store.GetAuthorizationCode(context.Background(), "code")
			assert.NoError(t, err, "a rejected exchange must not consume the code")
		})
	}
}

func TestAuthorizationCodePlainPKCEAndRequiredPKCE(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.addCode(t, "plain", func(c *model.AuthorizationCode) {
		c.CodeChallenge = "plain-verifier"
		c.CodeChallengeMethod = ""
		c.Scopes = []string{"scim"}
	})
	req := codeRequest("plain")
	req.CodeVerifier = "plain-verifier"
	granted, err := f.service.Token(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, granted.IDToken)

	client, err := f.store.GetClient(ctx, "client")
	require.NoError(t, err)
	client.RequirePKCE = true
	require.NoError(t, f.store.SaveClient(ctx, client))
	f.addCode(t, "no-challenge", func(c *model.AuthorizationCode) { c.CodeChallenge = "" })
	_, err = f.service.Token(ctx, codeRequest("no-challenge"))
	requireCode(t, err, oautherr.InvalidGrant)
}

func TestRefreshTokenRotation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.addCode(t, "code", nil)
	first, err := f.service.Token(ctx, codeRequest("code"))
	require.NoError(t, err)

	refresh := func(token, scope string) (*model.GrantedToken, error) {
		return f.service.Token(ctx, Request{
			GrantType:    model.GrantTypeRefreshToken,
			Credentials:  secretPost("client", "client"),
			RefreshToken: token,
			Scope:        scope,
		})
	}

	_, err = refresh(first.RefreshToken, "openid profile scim")
	requireCode(t, err, oautherr.InvalidScope)

	second, err := refresh(first.RefreshToken, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "administrator", second.Subject)
	assert.NotEmpty(t, second.IDToken)

	_, err = refresh(first.RefreshToken, "")
	requireCode(t, err, oautherr.InvalidGrant)

	narrowed, err := refresh(second.RefreshToken, "profile")
	require.NoError(t, err)
	assert.Equal(t, "profile", narrowed.Scope)
	assert.Empty(t, narrowed.IDToken)

	f.clock.Advance(25 * time.Hour)
	_, err = refresh(narrowed.RefreshToken, "")
	requireCode(t, err, oautherr.InvalidGrant)
}

func TestRefreshTokenBelongsToClient(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveClient(ctx, &model.Client{
		ID:                      "other",
		TokenEndpointAuthMethod: model.AuthMethodSecretPost,
		Secrets:                 []model.ClientSecret{{Type: model.SecretTypeShared, Value: "other"}},
		GrantTypes:              []string{model.GrantTypeRefreshToken},
	}))
	granted, err := f.service.Token(ctx, Request{
		GrantType:   model.GrantTypePassword,
		Credentials: secretPost("client", "client"),
		Scope:       "scim",
		Username:    "administrator",
		Password:    "password",
	})
	require.NoError(t, err)

	_, err = f.service.Token(ctx, Request{
		GrantType:    model.GrantTypeRefreshToken,
		Credentials:  secretPost("other", "other"),
		RefreshToken: granted.RefreshToken,
	})
	requireCode(t, err, oautherr.InvalidGrant)
	_, err = f.store.GetRefreshToken(ctx, granted.RefreshToken)
	assert.NoError(t, err)
}

func TestDeviceCodeStates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AddDeviceAuthorization(ctx, &model.DeviceAuthorization{
		DeviceCode:     "device-1",
		UserCode:       "ABCD-EFGH",
		ClientID:       "client",
		Scopes:         []string{"openid", "scim"},
		Status:         model.DeviceAuthorizationPending,
		CreateDateTime: f.clock.Now(),
		ExpiresAt:      f.clock.Now().Add(10 * time.Minute),
		Interval:       5 * time.Second,
	}))
	poll := func() (*model.GrantedToken, error) {
		return f.service.Token(ctx, Request{
			GrantType:   model.GrantTypeDeviceCode,
			Credentials: secretPost("client", "client"),
			DeviceCode:  "device-1",
		})
	}

	_, err := poll()
	requireCode(t, err, oautherr.AuthorizationPending)

	_, err = poll()
	requireCode(t, err, oautherr.SlowDown)

	f.clock.Advance(5 * time.Second)
	_, err = poll()
	requireCode(t, err, oautherr.AuthorizationPending)

	auth, err := f.store.GetDeviceAuthorization(ctx, "device-1")
	require.NoError(t, err)
	auth.Status = model.DeviceAuthorizationApproved
	auth.Subject = "administrator"
	auth.ResourceOwnerClaims = map[string]any{"name": "Administrator"}
	require.NoError(t, f.store.UpdateDeviceAuthorization(ctx, auth))

	f.clock.Advance(5 * time.Second)
	granted, err := poll()
	require.NoError(t, err)
	assert.Equal(t, "administrator", granted.Subject)
	assert.NotEmpty(t, granted.IDToken)

	f.clock.Advance(5 * time.Second)
	_, err = poll()
	requireCode(t, err, oautherr.InvalidGrant)
}

func TestDeviceCodeDeniedAndExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	for _, auth := range []*model.DeviceAuthorization{
		{DeviceCode: "denied", ClientID: "client", Status: model.DeviceAuthorizationDenied, ExpiresAt: now.Add(time.Minute)},
		{DeviceCode: "expired", ClientID: "client", Status: model.DeviceAuthorizationApproved, ExpiresAt: now},
		{DeviceCode: "foreign", ClientID: "someone-else", Status: model.DeviceAuthorizationApproved, ExpiresAt: now.Add(time.Minute)},
	} {
		require.NoError(t, f.store.AddDeviceAuthorization(ctx, auth))
	}

	tests := map[string]string{
		"denied":  oautherr.AccessDenied,
		"expired": oautherr.ExpiredToken,
		"foreign": oautherr.InvalidGrant,
		"unknown": oautherr.InvalidGrant,
	}
	for code, want := range tests {
		_, err := f.service.Token(ctx, Request{
			GrantType:   model.GrantTypeDeviceCode,
			Credentials: secretPost("client", "client"),
			DeviceCode:  code,
		})
		requireCode(t, err, want)
	}
}

func TestDeviceCodeRequiresGrantType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service.DeviceCode(context.Background(), Request{
		Credentials: secretPost("no-uma", "no-uma"),
		DeviceCode:  "d",
	})
	requireCode(t, err, oautherr.UnauthorizedClient)
}
