package ingest

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// FingerprintIndex is a tiny local database mapping (fingerprint, attempt)
// to the archive path that request was written to. The ingester consults it
// after each completed exchange and skips the archive write when the file is
// already on disk; the request itself is still sent on a resumed run. This
// is an optimization over walking raw_http/{tag}/ directories, not a
// correctness requirement — the archive path itself is already idempotent.
type FingerprintIndex struct {
	db *sql.DB
}

// OpenFingerprintIndex opens (creating if necessary) the SQLite database at
// path and ensures its schema exists.
func OpenFingerprintIndex(path string) (*FingerprintIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open fingerprint index: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS archived_requests (
			fingerprint  TEXT NOT NULL,
			attempt      INT NOT NULL,
			path         TEXT NOT NULL,
			archived_at  TEXT NOT NULL,
			PRIMARY KEY (fingerprint, attempt)
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ingest: create fingerprint index schema: %w", err)
	}
	return &FingerprintIndex{db: db}, nil
}

// Lookup returns the archive path previously recorded for (fingerprint,
// attempt), if any.
func (idx *FingerprintIndex) Lookup(fingerprint string, attempt int) (path string, found bool, err error) {
	row := idx.db.QueryRow(
		`SELECT path FROM archived_requests WHERE fingerprint = ? AND attempt = ?`,
		fingerprint, attempt,
	)
	if err := row.Scan(&path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("ingest: lookup fingerprint: %w", err)
	}
	return path, true, nil
}

// Record upserts the (fingerprint, attempt) -> path mapping.
func (idx *FingerprintIndex) Record(fingerprint string, attempt int, path string) error {
	_, err := idx.db.Exec(
		`INSERT INTO archived_requests (fingerprint, attempt, path, archived_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (fingerprint, attempt) DO UPDATE SET path = excluded.path, archived_at = excluded.archived_at`,
		fingerprint, attempt, path, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("ingest: record fingerprint: %w", err)
	}
	return nil
}

// Close releases the underlying SQLite connection.
func (idx *FingerprintIndex) Close() error {
	return idx.db.Close()
}
