package cryptoutil

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

var (
	ErrPKCEMethodNotSupported = errors.New("unsupported code_challenge_method")
	ErrPKCEVerifierMismatch   = errors.New("invalid code_verifier")
)

// VerifyPKCE checks verifier against the stored challenge. An empty method
// means plain.
func VerifyPKCE(method, verifier, challenge string) error {
	if verifier == "" || challenge == "" {
		return ErrPKCEVerifierMismatch
	}
	var computed string
	switch method {
	case "", PKCEMethodPlain:
		computed = verifier
	case PKCEMethodS256:
		computed = S256Challenge(verifier)
	default:
		return ErrPKCEMethodNotSupported
	}
	if !ConstantTimeEquals(computed, challenge) {
		return ErrPKCEVerifierMismatch
	}
	return nil
}

func S256Challenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
