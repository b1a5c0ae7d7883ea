// Package signing turns assembled payloads into compact JWS tokens and
// verifies the tokens this server issued.
package signing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cfszone_connect/answer_uma_provider/internal/store"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNotIDToken   = errors.New("not an identity token")
)

// AccessTokenType is the JOSE typ header of access tokens (RFC 9068). ID
// tokens keep the default JWT.
const AccessTokenType = "at+jwt"

type Signer interface {
	Sign(ctx context.Context, alg string, claims map[string]any) (string, error)
	SignAccessToken(ctx context.Context, alg string, claims map[string]any) (string, error)
}

type Verifier interface {
	Verify(ctx context.Context, raw string) (map[string]any, error)
}

// IDTokenVerifier accepts only ID tokens this server issued.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, raw string) (map[string]any, error)
}

// JWTSigner signs with keys from a JWKS store and verifies against its public keys.
type JWTSigner struct {
	keys   store.JWKSStore
	issuer string
	nowFn  func() time.Time
}

func NewJWTSigner(keys store.JWKSStore, issuer string) *JWTSigner {
	return &JWTSigner{
		keys:   keys,
		issuer: issuer,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *JWTSigner) Sign(ctx context.Context, alg string, claims map[string]any) (string, error) {
	return s.sign(ctx, alg, "", claims)
}

func (s *JWTSigner) SignAccessToken(ctx context.Context, alg string, claims map[string]any) (string, error) {
	return s.sign(ctx, alg, AccessTokenType, claims)
}

func (s *JWTSigner) sign(ctx context.Context, alg, typ string, claims map[string]any) (string, error) {
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", fmt.Errorf("unknown signing method %q", alg)
	}
	key, err := s.keys.SigningKey(ctx, alg)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(method, jwt.MapClaims(claims))
	token.Header["kid"] = key.KeyID
	if typ != "" {
		token.Header["typ"] = typ
	}
	signed, err := token.SignedString(key.Key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *JWTSigner) Verify(ctx context.Context, raw string) (map[string]any, error) {
	_, claims, err := s.parse(ctx, raw)
	return claims, err
}

// VerifyIDToken verifies raw as an ID token. Access tokens fail on their typ
// header or on the scope and client_id claims only they carry.
func (s *JWTSigner) VerifyIDToken(ctx context.Context, raw string) (map[string]any, error) {
	header, claims, err := s.parse(ctx, raw)
	if err != nil {
		return nil, err
	}
	if typ, _ := header["typ"].(string); typ != "" && !strings.EqualFold(typ, "JWT") {
		return nil, ErrNotIDToken
	}
	for _, name := range []string{"typ", "scope", "client_id"} {
		if _, ok := claims[name]; ok {
			return nil, ErrNotIDToken
		}
	}
	if sub, _ := claims["sub"].(string); sub == "" {
		return nil, ErrNotIDToken
	}
	if aud, err := jwt.MapClaims(claims).GetAudience(); err != nil || len(aud) == 0 {
		return nil, ErrNotIDToken
	}
	return claims, nil
}

func (s *JWTSigner) parse(ctx context.Context, raw string) (map[string]any, map[string]any, error) {
	publicKeys, err := s.keys.PublicKeys(ctx)
	if err != nil {
		return nil, nil, err
	}
	parsed, err := jwt.ParseWithClaims(raw, jwt.MapClaims{}, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		matches := publicKeys.Key(kid)
		if len(matches) == 0 {
			return nil, ErrInvalidToken
		}
		return matches[0].Key, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256"}),
		jwt.WithTimeFunc(s.nowFn),
	)
	if err != nil || !parsed.Valid {
		return nil, nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, nil, ErrInvalidToken
	}
	return parsed.Header, map[string]any(claims), nil
}
