package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// MinRefreshTokenBytes is the floor applied to refresh token entropy.
const MinRefreshTokenBytes = 32

// NewRefreshToken returns a base64url opaque bearer secret drawn from crypto/rand.
func NewRefreshToken(size int) (string, error) {
	if size < MinRefreshTokenBytes {
		size = MinRefreshTokenBytes
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshToken is the storage key for a refresh token value.
func HashRefreshToken(token, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	_, _ = mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
