package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the hashing cost used for new passwords.
const DefaultBcryptCost = 12

// PasswordHasher hashes and checks passwords.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher with cost, or DefaultBcryptCost when
// cost is out of bcrypt's range.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns the bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether password matches hash.
func (h *PasswordHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
