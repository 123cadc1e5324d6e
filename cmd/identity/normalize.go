package identity

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxEmailLen = 254
	maxNameLen  = 100
)

// Loose shape check: something@something.tld, no whitespace.
var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s has an acceptable email shape.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxEmailLen {
		return false
	}
	return emailRe.MatchString(s)
}

// ValidName reports whether s is an acceptable display name. The name is
// optional, so an empty s is valid.
func ValidName(s string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(s)) <= maxNameLen
}
