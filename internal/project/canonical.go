package project

// itemType maps a GraphQL __typename to the item_type stored in
// repo_work_item.
func itemType(typename string) string {
	if typename == "PullRequest" {
		return "pr"
	}
	return "issue"
}

// timelineEventNames maps GraphQL timeline item __typename values to the
// canonical event_name stored in repo_work_item_event. Every typename the
// hydration query requests (internal/ingest's timelineQuery itemTypes list)
// has an entry here.
var timelineEventNames = map[string]string{
	"LabeledEvent":         "labeled",
	"UnlabeledEvent":       "unlabeled",
	"MilestonedEvent":      "milestoned",
	"DemilestonedEvent":    "demilestoned",
	"AssignedEvent":        "assigned",
	"UnassignedEvent":      "unassigned",
	"CrossReferencedEvent": "cross_referenced",
	"ReferencedEvent":      "referenced",
}

// canonicalEventName returns the mapped event name, or the lowered typename
// itself for any timeline item type not in the table above — so an
// unrecognized (future) GraphQL event type still produces a usable row
// instead of being silently dropped.
func canonicalEventName(typename string) string {
	if name, ok := timelineEventNames[typename]; ok {
		return name
	}
	return lowerFirst(typename)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
