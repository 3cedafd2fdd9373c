// Package ingest implements the forge ingester: discovery and hydration of
// a repository's issues/PRs via internal/forgehttp, archived to disk as
// idempotent RawRecord files and indexed in a local SQLite database so a
// resumed run does not rewrite archive files it already wrote.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/retrocourt/retrocourt/internal/model"
)

// Archiver writes and reads RawRecord files under rootDir/raw_http/{tag}/.
type Archiver struct {
	rootDir string
}

// NewArchiver builds an Archiver rooted at rootDir (the configured
// RETROCOURT_ARCHIVE_DIR).
func NewArchiver(rootDir string) *Archiver {
	return &Archiver{rootDir: rootDir}
}

// Path returns the archive path for one (tag, fingerprint, attempt) triple.
// The path alone is the idempotency key: re-deriving it for the same
// request always yields the same file.
func (a *Archiver) Path(tag, fingerprint string, attempt int) string {
	return filepath.Join(a.rootDir, "raw_http", tag, fmt.Sprintf("%s_a%d.json", fingerprint, attempt))
}

// Write persists rec to its archive path via write-to-temp-then-rename, so
// a crash mid-write never leaves a partially written file at the real path.
func (a *Archiver) Write(rec model.RawRecord) (string, error) {
	path := a.Path(rec.Meta.Tag, rec.Meta.RequestFingerprint, rec.Meta.Attempt)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("ingest: mkdir archive dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ingest: marshal raw record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("ingest: write temp archive file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("ingest: rename archive file: %w", err)
	}
	return path, nil
}

// Read loads a previously archived RawRecord from path.
func (a *Archiver) Read(path string) (model.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.RawRecord{}, fmt.Errorf("ingest: read archive file: %w", err)
	}
	var rec model.RawRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.RawRecord{}, fmt.Errorf("ingest: decode archive file: %w", err)
	}
	return rec, nil
}

// Exists reports whether a file is already on disk at path.
func (a *Archiver) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
