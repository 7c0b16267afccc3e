package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptySecret is returned when hashing an empty secret.
var ErrEmptySecret = errors.New("secret is empty")

// HashPassword hashes a plain password or shared key using bcrypt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptySecret
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares plain password with hashed password. Empty input never matches.
func CheckPassword(plain, hashed string) bool {
	if plain == "" || hashed == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
