package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeArchiveFile(t *testing.T, rawDir, tag, name, reqBody, respBody string) {
	t.Helper()
	dir := filepath.Join(rawDir, "raw_http", tag)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := `{
		"request": {"method": "POST", "url": "https://api.github.com/graphql", "headers": {}, "body": ` + jsonQuote(reqBody) + `},
		"response": {"status_code": 200, "headers": {}, "body": ` + jsonQuote(respBody) + `},
		"meta": {"tag": "` + tag + `", "request_fingerprint": "` + name + `", "attempt": 1, "fetched_at": "2026-01-01T00:00:00Z"}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+"_a1.json"), []byte(content), 0o644))
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestProject_BuildsWorkItemFromCore(t *testing.T) {
	rawDir := t.TempDir()

	reqBody := `{"query":"...","variables":{"owner":"acme","repo":"widgets","number":42}}`
	respBody := `{"data":{"repository":{"issueOrPullRequest":{
		"__typename":"Issue","id":"I_1","number":42,"title":"Widget breaks",
		"body":"it   breaks  \n\nwhen clicked","state":"OPEN",
		"author":{"login":"alice"},"labels":{"nodes":[{"name":"bug"}]},
		"createdAt":"2026-01-01T00:00:00Z","closedAt":null
	}}}}`
	writeArchiveFile(t, rawDir, "core", "fp1", reqBody, respBody)

	views, err := Project(rawDir)
	require.NoError(t, err)
	require.Len(t, views.WorkItems, 1)

	item := views.WorkItems[0]
	require.Equal(t, "acme/widgets", item.RepoFullName)
	require.Equal(t, 42, item.Number)
	require.Equal(t, "Widget breaks", item.Title)
	require.Equal(t, "it breaks when clicked", item.BodyExcerpt)
	require.Equal(t, "@alice", item.Author)
	require.Equal(t, []string{"bug"}, item.Labels)
}

func TestProject_EmptyDirReturnsEmptyViews(t *testing.T) {
	views, err := Project(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, views.WorkItems)
	require.Empty(t, views.Comments)
}
