// Package store declares the persistence contracts the authorization engine
// depends on, together with in-memory, Answer KV and Redis implementations.
//
// Every Remove operation is a critical section: when two callers race to
// remove the same code, ticket, refresh token or device code, exactly one
// receives nil and every other caller receives ErrNotFound. The engine relies
// on this to make consumption single-use.
package store

import (
	"context"
	"errors"

	"github.com/go-jose/go-jose/v4"

	"cfszone_connect/answer_uma_provider/internal/model"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

type ClientStore interface {
	GetClient(ctx context.Context, id string) (*model.Client, error)
	ListClients(ctx context.Context) ([]*model.Client, error)
	SaveClient(ctx context.Context, client *model.Client) error
	DeleteClient(ctx context.Context, id string) error
}

type ScopeStore interface {
	// GetScopes returns the known scopes among names, skipping unknown ones.
	GetScopes(ctx context.Context, names []string) ([]*model.Scope, error)
	SaveScope(ctx context.Context, scope *model.Scope) error
}

type ResourceSetStore interface {
	GetResourceSet(ctx context.Context, id string) (*model.ResourceSet, error)
	SaveResourceSet(ctx context.Context, resource *model.ResourceSet) error
}

type TicketStore interface {
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	AddTicket(ctx context.Context, ticket *model.Ticket) error
	RemoveTicket(ctx context.Context, id string) error
}

type AuthorizationCodeStore interface {
	GetAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error)
	AddAuthorizationCode(ctx context.Context, code *model.AuthorizationCode) error
	RemoveAuthorizationCode(ctx context.Context, code string) error
}

type TokenStore interface {
	GetAccessToken(ctx context.Context, accessToken string) (*model.GrantedToken, error)
	GetRefreshToken(ctx context.Context, refreshToken string) (*model.GrantedToken, error)
	// FindToken returns the most recent token minted for the client, subject and
	// scope. Callers must check expiry themselves.
	FindToken(ctx context.Context, clientID, subject, scope string) (*model.GrantedToken, error)
	AddToken(ctx context.Context, token *model.GrantedToken) error
	RemoveAccessToken(ctx context.Context, accessToken string) error
	RemoveRefreshToken(ctx context.Context, refreshToken string) error
}

type DeviceAuthorizationStore interface {
	GetDeviceAuthorization(ctx context.Context, deviceCode string) (*model.DeviceAuthorization, error)
	// GetDeviceAuthorizationByUserCode finds the authorization the end user
	// types in on the verification page.
	GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*model.DeviceAuthorization, error)
	AddDeviceAuthorization(ctx context.Context, auth *model.DeviceAuthorization) error
	UpdateDeviceAuthorization(ctx context.Context, auth *model.DeviceAuthorization) error
	RemoveDeviceAuthorization(ctx context.Context, deviceCode string) error
}

type ConsentStore interface {
	FindConsent(ctx context.Context, subject, clientID string) (*model.Consent, error)
	SaveConsent(ctx context.Context, consent *model.Consent) error
}

// JWKSStore exposes the server's own keys. Signing keys carry private material.
type JWKSStore interface {
	SigningKey(ctx context.Context, alg string) (*jose.JSONWebKey, error)
	PublicKeys(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// Store aggregates every data contract a backend provides.
type Store interface {
	ClientStore
	ScopeStore
	ResourceSetStore
	TicketStore
	AuthorizationCodeStore
	TokenStore
	DeviceAuthorizationStore
	ConsentStore
}
