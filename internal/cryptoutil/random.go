package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

func SHA256Hex(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// RandomURLSafe returns size random bytes encoded as unpadded base64url.
func RandomURLSafe(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ConstantTimeEquals compares digests of both values so the comparison time
// does not depend on where they differ or on their lengths.
func ConstantTimeEquals(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// userCodeAlphabet omits vowels and look-alike characters.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

// RandomUserCode returns eight characters from userCodeAlphabet formatted as
// XXXX-XXXX.
func RandomUserCode() (string, error) {
	const limit = 256 - 256%len(userCodeAlphabet)
	out := make([]byte, 0, 9)
	buf := make([]byte, 16)
	for len(out) < 9 {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			if len(out) == 4 {
				out = append(out, '-')
			}
			out = append(out, userCodeAlphabet[int(b)%len(userCodeAlphabet)])
			if len(out) == 9 {
				break
			}
		}
	}
	return string(out), nil
}

// NormalizeUserCode upper-cases a typed user code and restores its dash, so
// "bcdf ghjk" and "BCDF-GHJK" find the same authorization.
func NormalizeUserCode(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	code := b.String()
	if len(code) != 8 {
		return code
	}
	return code[:4] + "-" + code[4:]
}
