package util

import (
	"strings"
	"unicode"
)

// SanitizeInput trims surrounding whitespace and drops control characters.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ContainsSuspicious flags script-like fragments in free text.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<script", "javascript:", "onerror=", "onload=", "${"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
