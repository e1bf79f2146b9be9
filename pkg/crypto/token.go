package crypto

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashToken hashes an admin token using bcrypt.
func HashToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// TokenMatches reports whether token hashes to hash.
func TokenMatches(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
