package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/retrocourt/retrocourt/internal/forgehttp"
)

// Fingerprint derives the stable identity of one HTTP exchange: the first 16
// hex characters of SHA-256 over method, url, redacted headers (sorted by
// key so map iteration order never changes the digest), and body. Two
// requests with the same fingerprint are, by construction, the same
// request — the basis for idempotent archive paths and resume skipping.
func Fingerprint(method, url string, headers map[string]string, body string) string {
	redacted := forgehttp.RedactHeaders(headers)
	keys := make([]string, 0, len(redacted))
	for k := range redacted {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\x1f')
	b.WriteString(url)
	b.WriteByte('\x1f')
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(redacted[k])
		b.WriteByte('\x1e')
	}
	b.WriteByte('\x1f')
	b.WriteString(body)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}
