package forgehttp

import "encoding/json"

// PageInfo is a GraphQL Relay-style pagination cursor.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// FindPageInfo locates the first `pageInfo` object in a decoded GraphQL
// response by walking the JSON tree depth-first, rather than scanning the
// serialized body with a regex — a pageInfo object nested under an array, or
// preceded by an unrelated field also named "pageInfo" deeper in the tree,
// is found the same way regardless of where in the document it sits.
func FindPageInfo(raw json.RawMessage) (PageInfo, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return PageInfo{}, false
	}
	return findPageInfo(v)
}

func findPageInfo(v any) (PageInfo, bool) {
	switch node := v.(type) {
	case map[string]any:
		if pi, ok := node["pageInfo"]; ok {
			if info, ok := decodePageInfo(pi); ok {
				return info, true
			}
		}
		// Deterministic order isn't needed here: the caller only cares
		// about the first structurally valid pageInfo found anywhere in
		// the tree, and GraphQL responses only ever carry one connection
		// per queried path in this system's queries.
		for _, child := range node {
			if info, ok := findPageInfo(child); ok {
				return info, true
			}
		}
	case []any:
		for _, child := range node {
			if info, ok := findPageInfo(child); ok {
				return info, true
			}
		}
	}
	return PageInfo{}, false
}

func decodePageInfo(v any) (PageInfo, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return PageInfo{}, false
	}
	hasNext, ok := obj["hasNextPage"].(bool)
	if !ok {
		return PageInfo{}, false
	}
	var cursor string
	if c, ok := obj["endCursor"].(string); ok {
		cursor = c
	}
	return PageInfo{HasNextPage: hasNext, EndCursor: cursor}, true
}
