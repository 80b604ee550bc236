// Package code generates and validates the 6-digit session codes that
// endpoints exchange out of band to find each other's negotiation record.
package code

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Length is the number of digits in a session code.
const Length = 6

// ErrInvalid is returned when user input does not contain exactly six digits.
var ErrInvalid = errors.New("invalid session code")

const (
	minCode = 100000
	span    = 900000 // 100000..999999
)

// Generate returns a uniformly random code in "100000"–"999999".
// Uniqueness among open sessions is only probabilistic; the record store
// rejects a collision with an open record.
func Generate() string {
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(fmt.Sprintf("code: reading random source: %v", err))
	}
	return fmt.Sprintf("%d", minCode+n.Int64())
}

// Normalize strips every non-digit character from input. The result is
// valid iff exactly six digits remain.
func Normalize(input string) (string, error) {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) != Length {
		return "", fmt.Errorf("%w: %q has %d digits, need %d", ErrInvalid, input, len(out), Length)
	}
	return out, nil
}

// Format splits a code for display, "123456" → "123-456". Anything that is
// not a bare 6-digit code is returned unchanged.
func Format(code string) string {
	if len(code) != Length || !isDigits(code) {
		return code
	}
	return code[:3] + "-" + code[3:]
}

// Valid reports whether code is already in normalized form.
func Valid(code string) bool {
	return len(code) == Length && isDigits(code)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
