package integrity

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestComputeJudgementHash_Deterministic(t *testing.T) {
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	courtRunID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	caseID := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	createdAt := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	verdict := map[string]any{"ruling": "no_action", "rationale": "agent followed process"}

	h1, err := ComputeJudgementHash(id, courtRunID, caseID, verdict, createdAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	h2, err := ComputeJudgementHash(id, courtRunID, caseID, verdict, createdAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q != %q", h1, h2)
	}
	if h1[:len(hashPrefix)] != hashPrefix {
		t.Fatalf("expected %q prefix, got %q", hashPrefix, h1)
	}
}

func TestComputeJudgementHash_NanosecondPrecisionIgnored(t *testing.T) {
	id := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	courtRunID := uuid.MustParse("55555555-5555-5555-5555-555555555555")
	caseID := uuid.MustParse("66666666-6666-6666-6666-666666666666")
	verdict := map[string]any{"ruling": "requires_retrain"}

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	withNanos := base.Add(123 * time.Nanosecond)

	h1, err := ComputeJudgementHash(id, courtRunID, caseID, verdict, base)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	h2, err := ComputeJudgementHash(id, courtRunID, caseID, verdict, withNanos)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if h1 != h2 {
		t.Fatal("sub-microsecond precision should not affect the hash, matching Postgres's timestamptz resolution")
	}
}

func TestComputeJudgementHash_DifferentVerdicts(t *testing.T) {
	id := uuid.MustParse("77777777-7777-7777-7777-777777777777")
	courtRunID := uuid.MustParse("88888888-8888-8888-8888-888888888888")
	caseID := uuid.MustParse("99999999-9999-9999-9999-999999999999")
	createdAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	h1, err := ComputeJudgementHash(id, courtRunID, caseID, map[string]any{"ruling": "no_action"}, createdAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	h2, err := ComputeJudgementHash(id, courtRunID, caseID, map[string]any{"ruling": "requires_retrain"}, createdAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if h1 == h2 {
		t.Fatal("different verdicts should produce different hashes")
	}
}

func TestVerifyJudgementHash(t *testing.T) {
	id := uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	courtRunID := uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	caseID := uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc")
	createdAt := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	verdict := map[string]any{"ruling": "no_action", "rationale": "cost analysis favored option B"}

	hash, err := ComputeJudgementHash(id, courtRunID, caseID, verdict, createdAt)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	ok, err := VerifyJudgementHash(hash, id, courtRunID, caseID, verdict, createdAt)
	if err != nil || !ok {
		t.Fatalf("verification should succeed for matching inputs, got ok=%v err=%v", ok, err)
	}

	tampered := map[string]any{"ruling": "requires_retrain", "rationale": "cost analysis favored option B"}
	ok, err = VerifyJudgementHash(hash, id, courtRunID, caseID, tampered, createdAt)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("verification should fail for a tampered verdict")
	}

	ok, err = VerifyJudgementHash("not_a_real_hash", id, courtRunID, caseID, verdict, createdAt)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("verification should fail for a tampered hash")
	}
}

func TestBuildMerkleRoot_Empty(t *testing.T) {
	root := BuildMerkleRoot(nil)
	if root != "" {
		t.Fatalf("empty input should produce empty root, got %q", root)
	}
}

func TestBuildMerkleRoot_SingleLeaf(t *testing.T) {
	leaf := "abc123"
	root := BuildMerkleRoot([]string{leaf})
	if root != leaf {
		t.Fatalf("single leaf should be the root: got %q, want %q", root, leaf)
	}
}

func TestBuildMerkleRoot_Deterministic(t *testing.T) {
	leaves := []string{"hash_a", "hash_b", "hash_c", "hash_d"}

	r1 := BuildMerkleRoot(leaves)
	r2 := BuildMerkleRoot(leaves)

	if r1 != r2 {
		t.Fatalf("Merkle root not deterministic: %q != %q", r1, r2)
	}
	if len(r1) != 64 {
		t.Fatalf("expected 64-char hex SHA-256 root, got %d chars", len(r1))
	}
}

func TestBuildMerkleRoot_OrderMatters(t *testing.T) {
	r1 := BuildMerkleRoot([]string{"a", "b", "c"})
	r2 := BuildMerkleRoot([]string{"b", "a", "c"})

	if r1 == r2 {
		t.Fatal("different leaf ordering should produce different roots")
	}
}

func TestBuildMerkleRoot_OddLeafCount(t *testing.T) {
	root := BuildMerkleRoot([]string{"x", "y", "z"})
	if root == "" {
		t.Fatal("odd leaf count should still produce a root")
	}
	if len(root) != 64 {
		t.Fatalf("expected 64-char hex SHA-256 root, got %d chars", len(root))
	}
}
