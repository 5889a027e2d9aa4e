package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashKey joins parts with a separator that cannot appear in normal text and returns the hex sha256.
func HashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Truncate cuts s to at most n runes, appending "..." when something was removed.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
