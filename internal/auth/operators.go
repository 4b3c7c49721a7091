package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Operators holds the accounts allowed to log in, keyed by lower-cased email.
// Each operator owns one tracking context.
type Operators struct {
	hashes map[string][]byte
}

// ParseOperators reads "email:bcrypt-hash" pairs separated by commas.
func ParseOperators(list string) (*Operators, error) {
	ops := &Operators{hashes: make(map[string][]byte)}
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		email, hash, ok := strings.Cut(pair, ":")
		email = strings.ToLower(strings.TrimSpace(email))
		if !ok || email == "" || hash == "" {
			return nil, fmt.Errorf("operator entry %q: want email:hash", pair)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("operator %s: %w", email, err)
		}
		ops.hashes[email] = []byte(hash)
	}
	return ops, nil
}

// Add registers an operator with a plain password.
func (o *Operators) Add(email, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	o.hashes[strings.ToLower(strings.TrimSpace(email))] = []byte(hash)
	return nil
}

// Len reports how many operators are configured.
func (o *Operators) Len() int { return len(o.hashes) }

// Authenticate checks the password and returns the owner id for the operator.
func (o *Operators) Authenticate(email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, ok := o.hashes[email]
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return email, nil
}

// HashPassword returns a bcrypt hash suitable for the OPERATORS setting.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
