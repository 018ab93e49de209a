// Package token generates opaque single-use invitation tokens.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
)

// rawLen is the number of random bytes per token; 32 bytes gives 256 bits of
// entropy.
const rawLen = 32

// New returns a fresh URL-safe token.
func New() string {
	buf := make([]byte, rawLen)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Matches compares a presented token against a stored one in constant time.
func Matches(presented, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}
