package ingest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retrocourt/retrocourt/internal/model"
)

func TestArchiver_WriteRead_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := NewArchiver(dir)

	rec := model.RawRecord{
		Request:  model.RawRequest{Method: "GET", URL: "https://api.github.com/x"},
		Response: model.RawResponse{StatusCode: 200, Body: `{"ok":true}`},
		Meta: model.RawRecordMeta{
			Tag:                "http",
			RequestFingerprint: "abc123",
			Attempt:            1,
			FetchedAt:          time.Now().UTC(),
		},
	}

	path, err := a.Write(rec)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "raw_http", "http", "abc123_a1.json"), path)
	require.True(t, a.Exists(path))

	got, err := a.Read(path)
	require.NoError(t, err)
	require.Equal(t, rec.Request.URL, got.Request.URL)
	require.Equal(t, rec.Response.StatusCode, got.Response.StatusCode)
}

func TestFingerprintIndex_LookupRecord(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenFingerprintIndex(filepath.Join(dir, "index.sqlite"))
	require.NoError(t, err)
	defer idx.Close()

	_, found, err := idx.Lookup("fp1", 1)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, idx.Record("fp1", 1, "/archive/fp1_a1.json"))

	path, found, err := idx.Lookup("fp1", 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "/archive/fp1_a1.json", path)
}
