package links

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// hashPassword derives a bcrypt hash for storage. An empty password
// yields an empty hash, meaning no password protection.
func hashPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// checkPassword reports whether the candidate matches the stored hash.
func checkPassword(hash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}
