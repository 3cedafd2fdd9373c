package project

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

const (
	commentExcerptLimit = 280
	bodyExcerptLimit    = 800
)

// safeExcerpt collapses runs of whitespace to a single space, trims the
// ends, and truncates to limit characters with a trailing ellipsis if the
// collapsed text was longer.
func safeExcerpt(text string, limit int) string {
	collapsed := strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	return string(runes[:limit]) + "..."
}

// commentExcerpt truncates comment/review body text at the 280-char limit.
func commentExcerpt(text string) string { return safeExcerpt(text, commentExcerptLimit) }

// bodyExcerpt truncates issue/PR body text at the 800-char limit.
func bodyExcerpt(text string) string { return safeExcerpt(text, bodyExcerptLimit) }

// sha256Hex12 returns the first 12 hex characters of SHA-256 over s, used
// as a surrogate key when a GraphQL node carries no stable id of its own.
func sha256Hex12(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}
