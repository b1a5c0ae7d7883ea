// Package keys holds the server's signing keys and publishes their public half
// as a JSON Web Key Set.
package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"

	"cfszone_connect/answer_uma_provider/internal/store"
)

var (
	ErrPrivateKeyInvalid    = errors.New("private key is invalid")
	ErrUnsupportedAlgorithm = errors.New("no signing key for algorithm")
)

var _ store.JWKSStore = (*KeySet)(nil)

// KeySet signs with one RSA key (RS256/384/512) and one P-256 key (ES256).
type KeySet struct {
	rsaKey *rsa.PrivateKey
	rsaKID string
	ecKey  *ecdsa.PrivateKey
	ecKID  string
}

// NewKeySet parses the RSA key from PEM, generating one when the PEM is empty.
// The EC key is always generated.
func NewKeySet(privateKeyPEM string) (*KeySet, error) {
	rsaKey, err := parseOrGenerateRSAKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate EC key: %w", err)
	}
	rsaKID, err := deriveKeyID(rsaKey)
	if err != nil {
		return nil, err
	}
	ecKID, err := deriveKeyID(ecKey)
	if err != nil {
		return nil, err
	}
	return &KeySet{rsaKey: rsaKey, rsaKID: rsaKID, ecKey: ecKey, ecKID: ecKID}, nil
}

func (k *KeySet) SigningKey(ctx context.Context, alg string) (*jose.JSONWebKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch alg {
	case "RS256", "RS384", "RS512":
		return &jose.JSONWebKey{Key: k.rsaKey, KeyID: k.rsaKID, Algorithm: alg, Use: "sig"}, nil
	case "ES256":
		return &jose.JSONWebKey{Key: k.ecKey, KeyID: k.ecKID, Algorithm: alg, Use: "sig"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

func (k *KeySet) PublicKeys(ctx context.Context) (*jose.JSONWebKeySet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &k.rsaKey.PublicKey, KeyID: k.rsaKID, Algorithm: "RS256", Use: "sig"},
		{Key: &k.ecKey.PublicKey, KeyID: k.ecKID, Algorithm: "ES256", Use: "sig"},
	}}, nil
}

// SupportedAlgorithms lists the algorithms advertised in discovery.
func (k *KeySet) SupportedAlgorithms() []string {
	return []string{"RS256", "RS384", "RS512", "ES256"}
}

func parseOrGenerateRSAKey(privateKeyPEM string) (*rsa.PrivateKey, error) {
	if privateKeyPEM == "" {
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, ErrPrivateKeyInvalid
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, ErrPrivateKeyInvalid
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrPrivateKeyInvalid
	}
	return rsaKey, nil
}

func deriveKeyID(key crypto.Signer) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}
