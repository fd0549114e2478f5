package utils

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used when the configured cost is unset.
const DefaultBcryptCost = 10

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HashPasswordContext runs HashPassword on its own goroutine so a caller
// whose context is cancelled is released without waiting for bcrypt.
func HashPasswordContext(ctx context.Context, plain string, cost int) (string, error) {
	type result struct {
		hash string
		err  error
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	done := make(chan result, 1)
	go func() {
		h, err := HashPassword(plain, cost)
		done <- result{hash: h, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.hash, r.err
	}
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
