// Package slug generates and validates the short codes that identify links.
//
// Generated codes use an unambiguous base58-style alphabet (no 0/O, 1/l/I)
// so they survive being read aloud or retyped from print. User-chosen
// aliases are normalized instead of generated.
package slug

import (
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"strings"
	"unicode"
)

// alphabet excludes visually ambiguous characters.
const alphabet = "23456789abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

// DefaultLength balances collision probability against URL length: 7 chars
// over a 57-symbol alphabet give ~2*10^12 combinations.
const DefaultLength = 7

var (
	// ErrInvalidLength indicates a non-positive requested length.
	ErrInvalidLength = errors.New("slug length must be positive")

	// ErrInvalidSlug indicates a candidate alias that cannot be used.
	ErrInvalidSlug = errors.New("invalid slug")
)

var validSlug = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,62}[a-zA-Z0-9])?$`)

// New returns a random slug of n characters.
func New(n int) (string, error) {
	if n <= 0 {
		return "", ErrInvalidLength
	}

	var b strings.Builder
	b.Grow(n)
	maxIdx := big.NewInt(int64(len(alphabet)))
	for range n {
		idx, err := rand.Int(rand.Reader, maxIdx)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// MustNew is New with the default length, panicking on entropy failure.
// crypto/rand failing means the host is unusable anyway.
func MustNew() string {
	s, err := New(DefaultLength)
	if err != nil {
		panic(err)
	}
	return s
}

// Normalize converts a user-chosen alias into its canonical form:
// lowercased, spaces collapsed to hyphens, everything outside
// [a-z0-9_-] dropped.
func Normalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))

	var b strings.Builder
	b.Grow(len(s))
	lastHyphen := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsSpace(r), r == '-':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.Trim(b.String(), "-")
}

// Validate reports whether s is acceptable as a link slug: 1-64 chars,
// alphanumeric with inner hyphens/underscores.
func Validate(s string) error {
	if !validSlug.MatchString(s) {
		return ErrInvalidSlug
	}
	return nil
}
