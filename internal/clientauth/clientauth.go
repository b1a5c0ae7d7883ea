// Package clientauth verifies the credential a client presents at the token,
// revocation and introspection endpoints.
package clientauth

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cfszone_connect/answer_uma_provider/internal/cryptoutil"
	"cfszone_connect/answer_uma_provider/internal/model"
	"cfszone_connect/answer_uma_provider/internal/oautherr"
	"cfszone_connect/answer_uma_provider/internal/store"
)

const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Instruction carries every credential the transport found on the request.
type Instruction struct {
	ClientIDFromForm     string
	ClientSecretFromForm string
	AuthorizationHeader  string
	ClientAssertion      string
	ClientAssertionType  string
	Certificate          *x509.Certificate
}

type credentialKind int

const (
	kindNone credentialKind = iota
	kindSecretPost
	kindSecretBasic
	kindAssertion
	kindCertificate
)

type credential struct {
	kind     credentialKind
	clientID string
	secret   string
}

type Authenticator struct {
	clients   store.ClientStore
	audiences []string
	nowFn     func() time.Time
}

// NewAuthenticator returns an authenticator accepting assertions addressed to
// any of audiences, typically the issuer and the token endpoint URL.
func NewAuthenticator(clients store.ClientStore, audiences ...string) *Authenticator {
	return &Authenticator{
		clients:   clients,
		audiences: audiences,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

func (a *Authenticator) Authenticate(ctx context.Context, in Instruction) (*model.Client, error) {
	cred, err := extractCredential(in)
	if err != nil {
		return nil, err
	}
	if cred.clientID == "" {
		return nil, oautherr.New(oautherr.InvalidClient, "the client cannot be identified")
	}
	client, err := a.clients.GetClient(ctx, cred.clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, oautherr.New(oautherr.InvalidClient, "the client doesn't exist")
	}
	if err != nil {
		return nil, oautherr.Internal("failed to load client", err)
	}

	method := client.TokenEndpointAuthMethod
	if method == "" {
		method = model.AuthMethodSecretBasic
	}
	if !methodAccepts(method, cred.kind) {
		return nil, oautherr.Newf(oautherr.InvalidClient, "the client must authenticate with %s", method)
	}

	switch method {
	case model.AuthMethodSecretBasic, model.AuthMethodSecretPost:
		if !matchesAny(client.SecretsOfType(model.SecretTypeShared), cred.secret) {
			return nil, oautherr.New(oautherr.InvalidClient, "the client secret is invalid")
		}
	case model.AuthMethodPrivateKeyJWT, model.AuthMethodSecretJWT:
		if err = a.verifyAssertion(client, in.ClientAssertion); err != nil {
			return nil, err
		}
	case model.AuthMethodTLSClientAuth:
		if !certificateMatches(client, in.Certificate) {
			return nil, oautherr.New(oautherr.InvalidClient, "the client certificate is not registered")
		}
	case model.AuthMethodNone:
	default:
		return nil, oautherr.Newf(oautherr.InvalidClient, "unsupported authentication method %s", method)
	}
	return client, nil
}

func extractCredential(in Instruction) (credential, error) {
	formID := strings.TrimSpace(in.ClientIDFromForm)
	switch {
	case in.ClientAssertion != "":
		if in.ClientAssertionType != ClientAssertionTypeJWTBearer {
			return credential{}, oautherr.New(oautherr.InvalidClient, "client_assertion_type is not supported")
		}
		subject, err := unverifiedSubject(in.ClientAssertion)
		if err != nil {
			return credential{}, oautherr.New(oautherr.InvalidClient, "the client assertion is malformed")
		}
		if formID != "" && formID != subject {
			return credential{}, oautherr.New(oautherr.InvalidClient, "client_id does not match the assertion subject")
		}
		return credential{kind: kindAssertion, clientID: subject}, nil
	case in.AuthorizationHeader != "":
		id, secret, ok := parseBasic(in.AuthorizationHeader)
		if !ok {
			return credential{}, oautherr.New(oautherr.InvalidClient, "the authorization header is malformed")
		}
		if formID != "" && formID != id {
			return credential{}, oautherr.New(oautherr.InvalidClient, "client_id does not match the authorization header")
		}
		return credential{kind: kindSecretBasic, clientID: id, secret: secret}, nil
	case in.ClientSecretFromForm != "":
		return credential{kind: kindSecretPost, clientID: formID, secret: in.ClientSecretFromForm}, nil
	case in.Certificate != nil:
		return credential{kind: kindCertificate, clientID: formID}, nil
	default:
		return credential{kind: kindNone, clientID: formID}, nil
	}
}

func methodAccepts(method model.AuthMethod, kind credentialKind) bool {
	switch method {
	case model.AuthMethodSecretBasic:
		return kind == kindSecretBasic
	case model.AuthMethodSecretPost:
		return kind == kindSecretPost
	case model.AuthMethodPrivateKeyJWT, model.AuthMethodSecretJWT:
		return kind == kindAssertion
	case model.AuthMethodTLSClientAuth:
		return kind == kindCertificate
	case model.AuthMethodNone:
		return kind == kindNone
	default:
		return false
	}
}

// parseBasic decodes an RFC 6749 section 2.3.1 header, where both parts are
// form-urlencoded before base64 encoding.
func parseBasic(header string) (string, string, bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	rawID, rawSecret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}
	id, err := url.QueryUnescape(rawID)
	if err != nil {
		return "", "", false
	}
	secret, err := url.QueryUnescape(rawSecret)
	if err != nil {
		return "", "", false
	}
	return id, secret, id != ""
}

func matchesAny(registered []string, presented string) bool {
	if presented == "" {
		return false
	}
	matched := false
	for _, secret := range registered {
		if cryptoutil.ConstantTimeEquals(secret, presented) {
			matched = true
		}
	}
	return matched
}

func unverifiedSubject(assertion string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(assertion, claims); err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("assertion has no subject")
	}
	return sub, nil
}

func (a *Authenticator) verifyAssertion(client *model.Client, assertion string) error {
	parserOpts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(client.ID),
		jwt.WithSubject(client.ID),
		jwt.WithTimeFunc(a.nowFn),
	}

	var (
		claims jwt.MapClaims
		err    error
	)
	if client.TokenEndpointAuthMethod == model.AuthMethodPrivateKeyJWT {
		claims, err = a.parseWithClientKeys(client, assertion, parserOpts)
	} else {
		claims, err = a.parseWithSharedSecrets(client, assertion, parserOpts)
	}
	if err != nil {
		return oautherr.New(oautherr.InvalidClient, "the client assertion is invalid")
	}

	audiences, err := claims.GetAudience()
	if err != nil || !slices.ContainsFunc(audiences, func(aud string) bool {
		return slices.Contains(a.audiences, aud)
	}) {
		return oautherr.New(oautherr.InvalidClient, "the client assertion audience is invalid")
	}
	return nil
}

func (a *Authenticator) parseWithClientKeys(client *model.Client, assertion string, opts []jwt.ParserOption) (jwt.MapClaims, error) {
	if client.JSONWebKeys == nil || len(client.JSONWebKeys.Keys) == 0 {
		return nil, errors.New("client has no registered keys")
	}
	opts = append(opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}))
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(assertion, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" && len(client.JSONWebKeys.Keys) == 1 {
			return client.JSONWebKeys.Keys[0].Key, nil
		}
		keys := client.JSONWebKeys.Key(kid)
		if len(keys) == 0 {
			return nil, errors.New("unknown key id")
		}
		return keys[0].Key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (a *Authenticator) parseWithSharedSecrets(client *model.Client, assertion string, opts []jwt.ParserOption) (jwt.MapClaims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	lastErr := errors.New("client has no shared secret")
	for _, secret := range client.SecretsOfType(model.SecretTypeShared) {
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(assertion, claims, func(*jwt.Token) (any, error) {
			return []byte(secret), nil
		}, opts...)
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func certificateMatches(client *model.Client, cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	sum := sha256.Sum256(cert.Raw)
	thumbprint := hex.EncodeToString(sum[:])
	for _, registered := range client.SecretsOfType(model.SecretTypeX509Thumbprint) {
		normalized := strings.ToLower(strings.ReplaceAll(registered, ":", ""))
		if cryptoutil.ConstantTimeEquals(normalized, thumbprint) {
			return true
		}
	}
	subject := cert.Subject.String()
	for _, registered := range client.SecretsOfType(model.SecretTypeX509Name) {
		if registered == subject {
			return true
		}
	}
	return false
}
