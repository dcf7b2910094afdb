package identity_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stakelotto/lotto-engine/internal/identity"
)

func TestParse_Valid(t *testing.T) {
	cases := []string{
		"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", // typical 44-char key
		strings.Repeat("A", 32),
		strings.Repeat("z", 44),
	}
	for _, s := range cases {
		got, err := identity.Parse(s)
		if err != nil {
			t.Errorf("parse(%q): %v", s, err)
		}
		if got != s {
			t.Errorf("parse(%q) returned %q", s, got)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"",
		"short",
		strings.Repeat("A", 31),            // too short
		strings.Repeat("A", 45),            // too long
		strings.Repeat("A", 31) + "0",      // 0 not in base58
		strings.Repeat("A", 31) + "O",      // O not in base58
		strings.Repeat("A", 31) + "I",      // I not in base58
		strings.Repeat("A", 31) + "l",      // l not in base58
		strings.Repeat("A", 30) + " A",     // whitespace
	}
	for _, s := range cases {
		if _, err := identity.Parse(s); !errors.Is(err, identity.ErrInvalidIdentity) {
			t.Errorf("parse(%q): expected ErrInvalidIdentity, got %v", s, err)
		}
		if identity.Valid(s) {
			t.Errorf("valid(%q) = true", s)
		}
	}
}

func TestShort(t *testing.T) {
	key := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	if got := identity.Short(key); got != "9WzD..AWWM" {
		t.Errorf("short(%q) = %q", key, got)
	}
	if got := identity.Short("tiny"); got != "tiny" {
		t.Errorf("short of short string = %q, want unchanged", got)
	}
}
