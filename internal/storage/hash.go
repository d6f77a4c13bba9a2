package storage

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost defines the computational cost for bcrypt hashing.
	// Cost 10 = ~60ms per hash, an acceptable balance for an operator typing
	// a PIN at a workstation rather than a high-throughput auth path.
	bcryptCost  = 10
	bcryptLimit = 72
)

// ErrPINEmpty is returned when an empty PIN is hashed or compared.
var ErrPINEmpty = errors.New("PIN cannot be empty")

// HashPIN generates a bcrypt hash of an operator PIN for storage in
// User.pin_hash. The PIN is never stored in plaintext.
//
// Bcrypt has a 72-byte input limit; PINs longer than that are pre-hashed
// with SHA-256 first so arbitrarily long PINs still hash consistently.
func HashPIN(pin string) (string, error) {
	if pin == "" {
		return "", ErrPINEmpty
	}

	hash, err := bcrypt.GenerateFromPassword(pinInput(pin), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash PIN: %w", err)
	}

	return string(hash), nil
}

// ComparePIN performs constant-time comparison of a PIN against its bcrypt
// hash. Returns false for any error condition (empty inputs, malformed
// hash) rather than propagating bcrypt's error, since the caller only ever
// needs a yes/no answer for admin-command gating.
func ComparePIN(hash, pin string) bool {
	if hash == "" || pin == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), pinInput(pin)) == nil
}

func pinInput(pin string) []byte {
	if len(pin) > bcryptLimit {
		sum := sha256.Sum256([]byte(pin))
		return sum[:]
	}

	return []byte(pin)
}
