package csrf

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

// TokenBytes is the number of random bytes in a token secret.
const TokenBytes = 32

// TokenLength is the length of the hex-encoded secret.
const TokenLength = 2 * TokenBytes

// randomBytes fills n bytes from src. A failing random source leaves no
// safe fallback, so it panics the same way crypto/rand.Read does.
func randomBytes(src io.Reader, n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(src, b); err != nil {
		panic(fmt.Sprintf("csrf: random source failed: %v", err))
	}
	return b
}

// generateToken returns a fresh lowercase hex secret.
func generateToken(src io.Reader) string {
	return hex.EncodeToString(randomBytes(src, TokenBytes))
}

// isToken reports whether s is a well-formed secret: TokenLength lowercase hex chars.
func isToken(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// mask hides secret behind a one-time key: hex(secret XOR key) || hex(key).
// Every call yields a different value that unmasks to the same secret.
func mask(secret string, src io.Reader) string {
	raw, err := hex.DecodeString(secret)
	if err != nil || len(raw) != TokenBytes {
		panic("csrf: mask called with malformed secret")
	}
	key := randomBytes(src, TokenBytes)
	out := make([]byte, TokenBytes)
	subtle.XORBytes(out, raw, key)
	return hex.EncodeToString(out) + hex.EncodeToString(key)
}

// unmask reverses mask. ok is false for values of the wrong shape.
func unmask(masked string) (secret string, ok bool) {
	if len(masked) != 2*TokenLength {
		return "", false
	}
	raw, err := hex.DecodeString(masked)
	if err != nil {
		return "", false
	}
	out := make([]byte, TokenBytes)
	subtle.XORBytes(out, raw[:TokenBytes], raw[TokenBytes:])
	return hex.EncodeToString(out), true
}

// tokensEqual compares in constant time for equal-length inputs.
// Only the length, which is public, can leak through timing.
func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
