package model

import (
	"slices"
	"time"

	"github.com/go-jose/go-jose/v4"
)

const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeUMATicket         = "urn:ietf:params:oauth:grant-type:uma-ticket"
	GrantTypeImplicit          = "implicit"
)

const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
)

type AuthMethod string

const (
	AuthMethodSecretPost    AuthMethod = "client_secret_post"
	AuthMethodSecretBasic   AuthMethod = "client_secret_basic"
	AuthMethodPrivateKeyJWT AuthMethod = "private_key_jwt"
	AuthMethodSecretJWT     AuthMethod = "client_secret_jwt"
	AuthMethodTLSClientAuth AuthMethod = "tls_client_auth"
	AuthMethodNone          AuthMethod = "none"
)

type SecretType string

const (
	SecretTypeShared         SecretType = "shared_secret"
	SecretTypeX509Thumbprint SecretType = "x509_thumbprint"
	SecretTypeX509Name       SecretType = "x509_name"
)

type ClientSecret struct {
	Type  SecretType `json:"type"`
	Value string     `json:"value"`
}

// Client is the registered identity of a calling application.
type Client struct {
	ID                       string              `json:"id"`
	Name                     string              `json:"name"`
	GrantTypes               []string            `json:"grant_types"`
	ResponseTypes            []string            `json:"response_types"`
	Scopes                   []string            `json:"scopes"`
	Secrets                  []ClientSecret      `json:"secrets,omitempty"`
	TokenEndpointAuthMethod  AuthMethod          `json:"token_endpoint_auth_method"`
	RequirePKCE              bool                `json:"require_pkce"`
	IDTokenSignedResponseAlg string              `json:"id_token_signed_response_alg,omitempty"`
	RedirectURIs             []string            `json:"redirect_uris"`
	TokenLifetime            time.Duration       `json:"token_lifetime,omitempty"`
	JSONWebKeys              *jose.JSONWebKeySet `json:"jwks,omitempty"`
	Claims                   map[string]any      `json:"claims,omitempty"`
	ClaimPatterns            []string            `json:"claim_patterns,omitempty"`
	CreatedAt                time.Time           `json:"created_at"`
	UpdatedAt                time.Time           `json:"updated_at"`
}

func (c *Client) AllowsGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

func (c *Client) AllowsResponseType(responseType string) bool {
	return slices.Contains(c.ResponseTypes, responseType)
}

func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// SecretsOfType returns the registered secret values of the given kind.
func (c *Client) SecretsOfType(t SecretType) []string {
	var out []string
	for _, secret := range c.Secrets {
		if secret.Type == t {
			out = append(out, secret.Value)
		}
	}
	return out
}

// SigningAlg is the algorithm used for ID tokens minted for the client.
func (c *Client) SigningAlg() string {
	if c.IDTokenSignedResponseAlg == "" {
		return "RS256"
	}
	return c.IDTokenSignedResponseAlg
}
