// Package ident generates collision-checked instance ids and host tokens.
package ident

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	// MaxAttempts bounds how many candidates are drawn before giving up.
	MaxAttempts = 128
	// TokenLength is the number of alphanumeric characters in a host token.
	TokenLength = 64

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ErrExhaustedUniqueIDs means every candidate collided. With a healthy
// randomness source this should never happen.
var ErrExhaustedUniqueIDs = errors.New("exhausted attempts to generate a unique identifier")

// Generator draws ids and tokens from Rand.
type Generator struct {
	Rand io.Reader
}

var defaultGenerator = Generator{Rand: rand.Reader}

// NewUniqueID returns a random v4 UUID for which taken reports false.
func NewUniqueID(taken func(string) bool) (string, error) {
	return defaultGenerator.NewUniqueID(taken)
}

// NewUniqueToken returns a random 64 character alphanumeric token for which taken reports false.
func NewUniqueToken(taken func(string) bool) (string, error) {
	return defaultGenerator.NewUniqueToken(taken)
}

func (g Generator) NewUniqueID(taken func(string) bool) (string, error) {
	return unique(taken, func() (string, error) {
		id, err := uuid.NewRandomFromReader(g.reader())
		if err != nil {
			return "", err
		}
		return id.String(), nil
	})
}

func (g Generator) NewUniqueToken(taken func(string) bool) (string, error) {
	return unique(taken, func() (string, error) {
		return randomString(g.reader(), TokenLength)
	})
}

func (g Generator) reader() io.Reader {
	if g.Rand == nil {
		return rand.Reader
	}
	return g.Rand
}

func unique(taken func(string) bool, next func() (string, error)) (string, error) {
	for range MaxAttempts {
		candidate, err := next()
		if err != nil {
			return "", fmt.Errorf("read randomness: %w", err)
		}
		if taken == nil || !taken(candidate) {
			return candidate, nil
		}
	}
	return "", ErrExhaustedUniqueIDs
}

// randomString draws n characters from alphabet. Bytes at or above the largest
// multiple of len(alphabet) are rejected so every character is equally likely.
func randomString(r io.Reader, n int) (string, error) {
	const limit = 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// Set adapts a set of existing values into a collision predicate.
func Set(values ...string) func(string) bool {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return func(s string) bool {
		_, ok := m[s]
		return ok
	}
}
