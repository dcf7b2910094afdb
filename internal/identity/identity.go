// Package identity validates the external participant identity format.
//
// Identities are opaque to the engine's accounting but arrive from the
// execution host as base58-encoded public keys; malformed values are
// rejected before any state is touched.
package identity

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidIdentity is returned for identities that are not base58
	// strings of public-key length.
	ErrInvalidIdentity = errors.New("identity: invalid identity format")
)

// identityRegex matches base58 strings of 32-44 characters (the encoded
// length of a 32-byte public key).
var identityRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// Parse validates an identity string and returns it unchanged.
func Parse(s string) (string, error) {
	if !identityRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q (expected 32-44 base58 characters)", ErrInvalidIdentity, s)
	}
	return s, nil
}

// Valid reports whether s is a well-formed identity.
func Valid(s string) bool {
	return identityRegex.MatchString(s)
}

// Short returns an abbreviated form for logging.
func Short(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}
