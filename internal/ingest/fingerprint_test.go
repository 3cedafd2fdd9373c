package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_Deterministic(t *testing.T) {
	headers := map[string]string{"Accept": "application/json", "Authorization": "Bearer secret"}
	a := Fingerprint("GET", "https://api.github.com/repos/o/r", headers, "")
	b := Fingerprint("GET", "https://api.github.com/repos/o/r", headers, "")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestFingerprint_IgnoresAuthTokenValue(t *testing.T) {
	h1 := map[string]string{"Authorization": "Bearer token-one"}
	h2 := map[string]string{"Authorization": "Bearer token-two"}
	a := Fingerprint("GET", "https://api.github.com/x", h1, "")
	b := Fingerprint("GET", "https://api.github.com/x", h2, "")
	assert.Equal(t, a, b, "fingerprint redacts Authorization before hashing, so token rotation doesn't change the archive key")
}

func TestFingerprint_DiffersByMethodOrURL(t *testing.T) {
	base := Fingerprint("GET", "https://api.github.com/x", nil, "")
	assert.NotEqual(t, base, Fingerprint("POST", "https://api.github.com/x", nil, ""))
	assert.NotEqual(t, base, Fingerprint("GET", "https://api.github.com/y", nil, ""))
}
