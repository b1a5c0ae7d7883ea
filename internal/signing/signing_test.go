package signing

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfszone_connect/answer_uma_provider/internal/keys"
)

func newSigner(t *testing.T) (*JWTSigner, *keys.KeySet) {
	t.Helper()
	set, err := keys.NewKeySet("")
	require.NoError(t, err)
	return NewJWTSigner(set, "https://issuer.example.com"), set
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	signer, _ := newSigner(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, alg := range []string{"RS256", "RS512", "ES256"} {
		t.Run(alg, func(t *testing.T) {
			raw, err := signer.Sign(ctx, alg, map[string]any{
				"iss": "https://issuer.example.com",
				"sub": "alice",
				"iat": now.Unix(),
				"exp": now.Add(time.Hour).Unix(),
			})
			require.NoError(t, err)

			claims, err := signer.Verify(ctx, raw)
			require.NoError(t, err)
			assert.Equal(t, "alice", claims["sub"])
		})
	}
}

func TestVerifyRejectsForeignOrExpiredTokens(t *testing.T) {
	t.Parallel()

	signer, _ := newSigner(t)
	other, _ := newSigner(t)
	ctx := context.Background()
	now := time.Now().UTC()

	foreign, err := other.Sign(ctx, "RS256", map[string]any{"iss": "https://issuer.example.com", "exp": now.Add(time.Hour).Unix()})
	require.NoError(t, err)
	_, err = signer.Verify(ctx, foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := signer.Sign(ctx, "RS256", map[string]any{"iss": "https://issuer.example.com", "exp": now.Add(-time.Minute).Unix()})
	require.NoError(t, err)
	_, err = signer.Verify(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := signer.Sign(ctx, "RS256", map[string]any{"iss": "https://evil.example.com", "exp": now.Add(time.Hour).Unix()})
	require.NoError(t, err)
	_, err = signer.Verify(ctx, wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	signer, _ := newSigner(t)
	_, err := signer.Sign(context.Background(), "XX999", map[string]any{})
	require.Error(t, err)

	_, err = signer.Sign(context.Background(), jwt.SigningMethodHS256.Alg(), map[string]any{})
	assert.ErrorIs(t, err, keys.ErrUnsupportedAlgorithm)
}

func TestVerifyIDTokenRejectsAccessTokens(t *testing.T) {
	t.Parallel()

	signer, _ := newSigner(t)
	ctx := context.Background()
	now := time.Now().UTC()
	base := func() map[string]any {
		return map[string]any{
			"iss": "https://issuer.example.com",
			"sub": "alice",
			"aud": []string{"client"},
			"iat": now.Unix(),
			"exp": now.Add(time.Hour).Unix(),
		}
	}

	idToken, err := signer.Sign(ctx, "RS256", base())
	require.NoError(t, err)
	claims, err := signer.VerifyIDToken(ctx, idToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["sub"])

	accessToken, err := signer.SignAccessToken(ctx, "RS256", base())
	require.NoError(t, err)
	_, err = signer.VerifyIDToken(ctx, accessToken)
	assert.ErrorIs(t, err, ErrNotIDToken)
	_, err = signer.Verify(ctx, accessToken)
	assert.NoError(t, err)

	for name, mutate := range map[string]func(map[string]any){
		"scope claim":     func(c map[string]any) { c["scope"] = "openid" },
		"client_id claim": func(c map[string]any) { c["client_id"] = "client" },
		"typ claim":       func(c map[string]any) { c["typ"] = "Bearer" },
		"no subject":      func(c map[string]any) { delete(c, "sub") },
		"no audience":     func(c map[string]any) { delete(c, "aud") },
	} {
		claims := base()
		mutate(claims)
		raw, err := signer.Sign(ctx, "RS256", claims)
		require.NoError(t, err)
		_, err = signer.VerifyIDToken(ctx, raw)
		assert.ErrorIs(t, err, ErrNotIDToken, name)
	}
}
