// Package auth provides credential primitives: API token generation and
// hashing, bearer extraction, and the structural test that tells an opaque
// token apart from a federated identity JWT.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// TokenPrefix marks registry API tokens so leaked secrets are greppable
// and obviously not passwords.
const TokenPrefix = "isl_"

// tokenSecretBytes is the entropy of the random component. 32 bytes
// encodes to 43 unpadded base64url characters.
const tokenSecretBytes = 32

var tokenPattern = regexp.MustCompile(`^isl_[A-Za-z0-9_-]{43}$`)

// GenerateToken creates a new opaque API token. The secret is returned
// exactly once; only its hash is ever stored.
func GenerateToken() (string, error) {
	secret := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate token entropy: %w", err)
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(secret), nil
}

// ValidateTokenFormat reports whether a credential has the shape of a
// registry API token. A cheap pre-check before touching the store.
func ValidateTokenFormat(token string) bool {
	return tokenPattern.MatchString(token)
}

// HashToken hashes a token for storage and lookup. The digest is
// deterministic so the token column can be indexed; the raw secret never
// reaches the store.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ExtractBearer pulls the credential out of an Authorization header.
// Accepts "Bearer <cred>", "Token <cred>", or a bare credential; returns
// the empty string when the header carries nothing usable.
func ExtractBearer(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	for _, scheme := range []string{"Bearer ", "bearer ", "Token ", "token "} {
		if strings.HasPrefix(header, scheme) {
			return strings.TrimSpace(strings.TrimPrefix(header, scheme))
		}
	}
	return header
}

// LooksLikeJWT reports whether a credential is structurally a JWT: three
// dot-separated base64url segments. The registry uses this to route a
// bearer credential to federated verification instead of the token store.
func LooksLikeJWT(credential string) bool {
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := base64.RawURLEncoding.DecodeString(p); err != nil {
			return false
		}
	}
	return true
}
