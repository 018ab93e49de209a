package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := New()
		assert.Len(t, tok, 43, "32 raw bytes base64url-encode to 43 characters")
		assert.False(t, seen[tok], "tokens never repeat")
		seen[tok] = true
	}
}

func TestNewIsURLSafe(t *testing.T) {
	for i := 0; i < 20; i++ {
		tok := New()
		assert.False(t, strings.ContainsAny(tok, "+/="), "token %q must embed in a URL unescaped", tok)
	}
}

func TestMatches(t *testing.T) {
	tok := New()
	assert.True(t, Matches(tok, tok))
	assert.False(t, Matches(tok, New()))
	assert.False(t, Matches("", tok))
	assert.False(t, Matches(tok, tok[:len(tok)-1]))
}
