package cryptoutil

import (
	"crypto"
	"encoding/base64"
	"errors"

	_ "crypto/sha256"
	_ "crypto/sha512"
)

var ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

// LeftHalfHash computes the at_hash / c_hash value for value under the JWS
// algorithm alg: the left-most half of the digest, base64url without padding.
func LeftHalfHash(alg, value string) (string, error) {
	h, err := hashForAlg(alg)
	if err != nil {
		return "", err
	}
	hasher := h.New()
	hasher.Write([]byte(value))
	sum := hasher.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}

func hashForAlg(alg string) (crypto.Hash, error) {
	switch alg {
	case "RS256", "ES256", "PS256", "HS256":
		return crypto.SHA256, nil
	case "RS384", "ES384", "PS384", "HS384":
		return crypto.SHA384, nil
	case "RS512", "ES512", "PS512", "HS512":
		return crypto.SHA512, nil
	default:
		return 0, ErrUnsupportedAlgorithm
	}
}

func SupportsAlgorithm(alg string) bool {
	_, err := hashForAlg(alg)
	return err == nil
}
