package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrFacilitatorDisabled = errors.New("facilitator key is not configured")

// Facilitator checks the admin bearer key against a bcrypt hash so the
// plaintext key never has to live in the server environment.
type Facilitator struct {
	hash []byte
}

func NewFacilitator(hash string) (*Facilitator, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return &Facilitator{}, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("facilitator key hash: %w", err)
	}
	return &Facilitator{hash: []byte(hash)}, nil
}

func (f *Facilitator) Check(key string) error {
	if len(f.hash) == 0 {
		return ErrFacilitatorDisabled
	}
	if err := bcrypt.CompareHashAndPassword(f.hash, []byte(key)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashFacilitatorKey produces the value for ECONFAIR_FACILITATOR_KEY_HASH.
func HashFacilitatorKey(key string) (string, error) {
	if len(strings.TrimSpace(key)) < 8 {
		return "", fmt.Errorf("facilitator key must be at least 8 characters")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
