package revocation

import (
	"crypto/sha256"
	"encoding/base64"
)

// DigestSize is the length of a digest string.
const DigestSize = 43

// Digest returns the SHA-256 of token as unpadded base64url. The result is
// safe to embed in a Redis key or a database primary key.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
