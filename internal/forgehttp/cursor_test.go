package forgehttp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindPageInfo_Nested(t *testing.T) {
	raw := json.RawMessage(`{
		"repository": {
			"pullRequest": {
				"timelineItems": {
					"pageInfo": {"hasNextPage": true, "endCursor": "abc123"},
					"nodes": [{"id": 1}, {"id": 2}]
				}
			}
		}
	}`)

	info, ok := FindPageInfo(raw)
	require.True(t, ok)
	assert.True(t, info.HasNextPage)
	assert.Equal(t, "abc123", info.EndCursor)
}

func TestFindPageInfo_InsideArray(t *testing.T) {
	raw := json.RawMessage(`{
		"items": [
			{"irrelevant": true},
			{"connection": {"pageInfo": {"hasNextPage": false, "endCursor": ""}}}
		]
	}`)

	info, ok := FindPageInfo(raw)
	require.True(t, ok)
	assert.False(t, info.HasNextPage)
}

func TestFindPageInfo_Absent(t *testing.T) {
	raw := json.RawMessage(`{"data": {"no": "cursor here"}}`)
	_, ok := FindPageInfo(raw)
	assert.False(t, ok)
}

func TestFindPageInfo_MalformedJSON(t *testing.T) {
	_, ok := FindPageInfo(json.RawMessage(`not json`))
	assert.False(t, ok)
}

func TestRedactHeaders(t *testing.T) {
	in := map[string]string{
		"Authorization": "Bearer ghp_abc123",
		"Accept":        "application/vnd.github+json",
	}
	out := RedactHeaders(in)
	assert.NotEqual(t, in["Authorization"], out["Authorization"])
	assert.Contains(t, out["Authorization"], "REDACTED")
	assert.Equal(t, "application/vnd.github+json", out["Accept"])
}
