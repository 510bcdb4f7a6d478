package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// Sha256Hex returns the SHA-256 digest of the input encoded as lowercase hex.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HMACSHA256 returns the raw HMAC-SHA256 of body under secret.
func HMACSHA256(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// HMACSHA256Hex is HMACSHA256 encoded as lowercase hex.
func HMACSHA256Hex(secret string, body []byte) string {
	return hex.EncodeToString(HMACSHA256(secret, body))
}

// HMACSHA256Base64 is HMACSHA256 encoded as standard base64.
func HMACSHA256Base64(secret string, body []byte) string {
	return base64.StdEncoding.EncodeToString(HMACSHA256(secret, body))
}
