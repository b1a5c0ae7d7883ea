// Package token mints, signs and persists granted tokens.
package token

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"cfszone_connect/answer_uma_provider/internal/claims"
	"cfszone_connect/answer_uma_provider/internal/cryptoutil"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/signing"
	"cfszone_connect/answer_uma_provider/internal/store"
)

const accessTokenAlg = "RS256"

type Lifetimes struct {
	AccessToken  time.Duration
	IDToken      time.Duration
	RefreshToken time.Duration
}

// IDTokenParams asks for an ID token alongside the access token.
type IDTokenParams struct {
	Nonce             string
	AuthTime          time.Time
	AMR               []string
	ACR               string
	ClaimsParameter   *model.ClaimsParameter
	AuthorizationCode string
}

type Request struct {
	Client      *model.Client
	GrantType   string
	Scopes      []string
	Owner       *model.ResourceOwner
	ExtraClaims map[string]any
	// WithRefreshToken issues a refresh token bound to the access token.
	WithRefreshToken bool
	IDToken          *IDTokenParams
}

func (r Request) subject() string {
	if r.Owner == nil {
		return ""
	}
	return r.Owner.Subject
}

type Minter struct {
	assembler *claims.Assembler
	signer    signing.Signer
	tokens    store.TokenStore
	lifetimes Lifetimes
	logger    *slog.Logger
	nowFn     func() time.Time
	group     singleflight.Group
}

func NewMinter(assembler *claims.Assembler, signer signing.Signer, tokens store.TokenStore, lifetimes Lifetimes, logger *slog.Logger) *Minter {
	return &Minter{
		assembler: assembler,
		signer:    signer,
		tokens:    tokens,
		lifetimes: lifetimes,
		logger:    logger,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Minter) WithClock(nowFn func() time.Time) *Minter {
	m.nowFn = nowFn
	m.assembler = m.assembler.WithClock(nowFn)
	return m
}

// Mint always creates and persists a new token.
func (m *Minter) Mint(ctx context.Context, req Request) (*model.GrantedToken, error) {
	now := m.nowFn()
	lifetime := m.lifetimes.AccessToken
	if req.Client.TokenLifetime > 0 {
		lifetime = req.Client.TokenLifetime
	}

	payload, err := m.assembler.AccessTokenPayload(ctx, req.Client, req.subject(), req.Scopes, lifetime, req.ExtraClaims)
	if err != nil {
		return nil, err
	}
	accessToken, err := m.signer.SignAccessToken(ctx, accessTokenAlg, payload)
	if err != nil {
		return nil, oautherr.Internal("failed to sign the access token", err)
	}

	granted := &model.GrantedToken{
		AccessToken:    accessToken,
		TokenType:      model.TokenTypeBearer,
		Scope:          model.JoinScope(req.Scopes),
		CreateDateTime: now,
		ExpiresIn:      lifetime,
		ClientID:       req.Client.ID,
		Subject:        req.subject(),
		GrantType:      req.GrantType,
	}
	if req.WithRefreshToken {
		refresh, err := cryptoutil.RandomURLSafe(32)
		if err != nil {
			return nil, oautherr.Internal("failed to generate the refresh token", err)
		}
		granted.RefreshToken = refresh
		granted.RefreshExpiresAt = now.Add(m.lifetimes.RefreshToken)
	}
	if req.Owner != nil {
		var param *model.ClaimsParameter
		if req.IDToken != nil {
			param = req.IDToken.ClaimsParameter
		}
		granted.UserInfoPayload, err = m.assembler.UserInfoPayload(ctx, req.Owner, req.Scopes, param)
		if err != nil {
			return nil, err
		}
	}
	if err = m.attachIDToken(ctx, granted, req); err != nil {
		return nil, err
	}

	if err = m.tokens.AddToken(ctx, granted); err != nil {
		return nil, oautherr.Internal("failed to persist the token", err)
	}
	m.logger.DebugContext(ctx, "token minted",
		slog.String("client_id", granted.ClientID),
		slog.String("grant_type", req.GrantType),
		slog.Bool("refresh_token", granted.RefreshToken != ""),
		slog.Bool("id_token", granted.IDToken != ""),
	)
	return granted, nil
}

// ReuseOrMint returns the still-valid token already issued for the client,
// subject and scope, minting one otherwise. Concurrent callers for the same
// key share one mint. A requested ID token is always minted for the caller.
func (m *Minter) ReuseOrMint(ctx context.Context, req Request) (*model.GrantedToken, error) {
	scope := model.JoinScope(sortedScopes(req.Scopes))
	key := req.Client.ID + "\x00" + req.subject() + "\x00" + scope
	shared, err, _ := m.group.Do(key, func() (any, error) {
		existing, err := m.tokens.FindToken(ctx, req.Client.ID, req.subject(), scope)
		switch {
		case err == nil && !existing.IsExpired(m.nowFn()):
			return existing, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, oautherr.Internal("failed to look up tokens", err)
		}
		base := req
		base.IDToken = nil
		return m.Mint(ctx, base)
	})
	if err != nil {
		return nil, err
	}
	granted := *shared.(*model.GrantedToken)
	if granted.IsExpired(m.nowFn()) {
		return m.Mint(ctx, req)
	}
	if err = m.attachIDToken(ctx, &granted, req); err != nil {
		return nil, err
	}
	return &granted, nil
}

// IDToken mints a standalone ID token, as returned from the authorization
// endpoint in implicit and hybrid flows.
func (m *Minter) IDToken(ctx context.Context, client *model.Client, owner *model.ResourceOwner, scopes []string, params IDTokenParams, accessToken string) (string, error) {
	payload, err := m.assembler.IDTokenPayload(ctx, claims.IDTokenRequest{
		Client:            client,
		Owner:             owner,
		Scopes:            scopes,
		Nonce:             params.Nonce,
		AuthTime:          params.AuthTime,
		AMR:               params.AMR,
		ACR:               params.ACR,
		ClaimsParameter:   params.ClaimsParameter,
		Lifetime:          m.lifetimes.IDToken,
		AuthorizationCode: params.AuthorizationCode,
		AccessToken:       accessToken,
	})
	if err != nil {
		return "", err
	}
	signed, err := m.signer.Sign(ctx, client.SigningAlg(), payload)
	if err != nil {
		return "", oautherr.Internal("failed to sign the identity token", err)
	}
	return signed, nil
}

func (m *Minter) attachIDToken(ctx context.Context, granted *model.GrantedToken, req Request) error {
	if req.IDToken == nil || req.Owner == nil || !slices.Contains(req.Scopes, model.ScopeOpenID) {
		return nil
	}
	payload, err := m.assembler.IDTokenPayload(ctx, claims.IDTokenRequest{
		Client:            req.Client,
		Owner:             req.Owner,
		Scopes:            req.Scopes,
		Nonce:             req.IDToken.Nonce,
		AuthTime:          req.IDToken.AuthTime,
		AMR:               req.IDToken.AMR,
		ACR:               req.IDToken.ACR,
		ClaimsParameter:   req.IDToken.ClaimsParameter,
		Lifetime:          m.lifetimes.IDToken,
		AuthorizationCode: req.IDToken.AuthorizationCode,
		AccessToken:       granted.AccessToken,
	})
	if err != nil {
		return err
	}
	signed, err := m.signer.Sign(ctx, req.Client.SigningAlg(), payload)
	if err != nil {
		return oautherr.Internal("failed to sign the identity token", err)
	}
	granted.IDToken = signed
	granted.IDTokenPayload = payload
	return nil
}

func sortedScopes(scopes []string) []string {
	out := slices.Clone(scopes)
	slices.Sort(out)
	return out
}
