package password

import (
	"golang.org/x/crypto/bcrypt"
)

// Hash generates a bcrypt hash for the given plaintext password
func Hash(plain string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
}

// Compare checks a plaintext password against a stored hash
func Compare(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
