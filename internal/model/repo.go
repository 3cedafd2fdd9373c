package model

import "time"

// ItemType enumerates the two kinds of forge work items tracked by the
// projector.
type ItemType string

const (
	ItemIssue ItemType = "issue"
	ItemPR    ItemType = "pr"
)

// RepoWorkItem is one projected issue or pull request.
type RepoWorkItem struct {
	RepoFullName string    `json:"repo_full_name"`
	Number       int       `json:"number"`
	ItemType     ItemType  `json:"item_type"`
	Title        string    `json:"title"`
	BodyExcerpt  string    `json:"body_excerpt"`
	State        string    `json:"state"`
	Author       string    `json:"author"`
	Labels       []string  `json:"labels"`
	CreatedAt    time.Time `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	NodeID       string    `json:"node_id"`
}

// RepoComment is one projected issue/PR comment.
type RepoComment struct {
	RepoFullName   string    `json:"repo_full_name"`
	WorkItemNumber int       `json:"work_item_number"`
	Author         string    `json:"author"`
	BodyExcerpt    string    `json:"body_excerpt"`
	CreatedAt      time.Time `json:"created_at"`
	NodeID         string    `json:"node_id"`
}

// RepoPRReview is one projected pull-request review.
type RepoPRReview struct {
	RepoFullName   string    `json:"repo_full_name"`
	WorkItemNumber int       `json:"work_item_number"`
	Author         string    `json:"author"`
	State          string    `json:"state"`
	BodyExcerpt    string    `json:"body_excerpt"`
	SubmittedAt    time.Time `json:"submitted_at"`
	NodeID         string    `json:"node_id"`
}

// RepoWorkItemEvent is one canonicalized timeline event (label change,
// title change, assignment, etc.) for a work item.
type RepoWorkItemEvent struct {
	RepoFullName   string         `json:"repo_full_name"`
	WorkItemNumber int            `json:"work_item_number"`
	EventName      string         `json:"event_name"`
	Actor          string         `json:"actor"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Detail         map[string]any `json:"detail,omitempty"`
}

// ActivityType enumerates the contributor actions tracked for activity
// scoring.
type ActivityType string

const (
	ActivityIssueOpened ActivityType = "issue_opened"
	ActivityPROpened    ActivityType = "pr_opened"
	ActivityCommented   ActivityType = "commented"
	ActivityReviewed    ActivityType = "reviewed"
)

// RepoUserActivity is one contributor action, the substrate for the
// pluggable activity-score function.
type RepoUserActivity struct {
	RepoFullName   string       `json:"repo_full_name"`
	Login          string       `json:"login"`
	ActivityType   ActivityType `json:"activity_type"`
	WorkItemNumber int          `json:"work_item_number"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// ActivityCounts tallies one contributor's actions within a scoring window,
// the input to the pluggable activity-score function.
type ActivityCounts struct {
	Login          string
	IssuesOpened   int
	PRsOpened      int
	CommentsPosted int
	ReviewsPosted  int
}

// ActivityScoreFunc weights an ActivityCounts into a single score. The
// default implementation lives in internal/project; callers may supply
// their own.
type ActivityScoreFunc func(ActivityCounts) float64
