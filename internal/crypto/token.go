package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HashRefreshToken produces the stored form of a refresh token. Keyed with the
// signing secret so a leaked database dump is not enough to forge a match.
func HashRefreshToken(secret, token string) string {
	sum := sha256.Sum256([]byte(secret + token))
	return hex.EncodeToString(sum[:])
}

// VerifyRefreshToken compares a presented raw token against the stored hash in
// constant time.
func VerifyRefreshToken(secret, token, storedHash string) bool {
	computed := HashRefreshToken(secret, token)
	return hmac.Equal([]byte(computed), []byte(storedHash))
}
