package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether the plaintext matches the stored bcrypt hash.
func VerifyPassword(password, passwordHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) == nil
}

// HashDeviceToken returns the hex SHA-256 of a device-token plaintext.
// Device tokens are high-entropy, so a fast stable hash is sufficient and
// avoids bcrypt's 72-byte input limit.
func HashDeviceToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// GenerateDeviceToken returns a fresh URL-safe device-token plaintext with
// 256 bits of entropy. The plaintext is emitted to the device exactly once;
// storage keeps only the hash.
func GenerateDeviceToken() string {
	return GenerateToken(32)
}

// GenerateToken returns a URL-safe random string from n bytes of entropy.
func GenerateToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
