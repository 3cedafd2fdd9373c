// Package integrity provides tamper-evident hashing and Merkle tree
// construction over court judgements. All functions are pure and
// deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// hashPrefix marks a digest as produced by the current length-prefixed
// binary encoding, so a future format change can be detected rather than
// silently compared against the wrong algorithm.
const hashPrefix = "v1:"

// ComputeJudgementHash produces a versioned SHA-256 hex digest over a
// judgement's canonical fields. createdAt is truncated to microsecond
// precision because PostgreSQL stores timestamptz at microsecond
// resolution — hashing Go's nanosecond-precision time.Now() would never
// match a hash recomputed from the DB-roundtripped timestamp.
func ComputeJudgementHash(id, courtRunID, caseID uuid.UUID, verdict map[string]any, createdAt time.Time) (string, error) {
	verdictJSON, err := canonicalVerdict(verdict)
	if err != nil {
		return "", err
	}
	return hashPrefix + computeHash(id, courtRunID, caseID, verdictJSON, createdAt.Truncate(time.Microsecond)), nil
}

// VerifyJudgementHash reports whether stored matches the recomputed hash
// for the given judgement fields.
func VerifyJudgementHash(stored string, id, courtRunID, caseID uuid.UUID, verdict map[string]any, createdAt time.Time) (bool, error) {
	expected, err := ComputeJudgementHash(id, courtRunID, caseID, verdict, createdAt)
	if err != nil {
		return false, err
	}
	return stored == expected, nil
}

// canonicalVerdict marshals verdict to JSON. encoding/json sorts map keys
// alphabetically, so the result is deterministic across processes for the
// same logical content.
func canonicalVerdict(verdict map[string]any) (string, error) {
	b, err := json.Marshal(verdict)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// computeHash produces a length-prefixed SHA-256 hex digest. Each field is
// encoded as a 4-byte big-endian length prefix followed by the field
// bytes, avoiding delimiter collisions when the verdict JSON contains
// arbitrary characters.
func computeHash(id, courtRunID, caseID uuid.UUID, verdictJSON string, createdAt time.Time) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // field lengths are bounded by HTTP request body limits
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(id.String())
	writeField(courtRunID.String())
	writeField(caseID.String())
	writeField(verdictJSON)
	writeField(createdAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

// hashPair produces SHA-256(0x01 || len(a) || a || b) as a hex string.
// The 0x01 prefix is a domain separator for internal Merkle tree nodes
// (per RFC 6962), ensuring internal node hashes can never collide with
// leaf content hashes. The 4-byte big-endian length prefix on a prevents
// second-preimage attacks from boundary ambiguity.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	aBytes := []byte(a)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(aBytes))) //nolint:gosec // hash inputs are bounded-length hex strings
	h.Write(lenBuf[:])
	h.Write(aBytes)
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the
// root. Leaves must be sorted deterministically by the caller (e.g. by
// judgement ID) so the same set of judgements always produces the same
// root. Odd-length levels hash the last node with itself for structural
// binding.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}
