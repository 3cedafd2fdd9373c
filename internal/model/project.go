package model

// ProjectedViews is the full output of one projector run over a repo's
// archived raw records: every repo_* row the projector derives, rebuilt
// from scratch on each run (no incremental state).
type ProjectedViews struct {
	WorkItems []RepoWorkItem
	Comments  []RepoComment
	Reviews   []RepoPRReview
	Events    []RepoWorkItemEvent
	Activity  []RepoUserActivity
}
