package project

import "github.com/retrocourt/retrocourt/internal/model"

// DefaultActivityScore is the pluggable contributor activity score's
// default weighting: opening work (issue or PR) counts for more than
// responding to someone else's, and a review counts for slightly more than
// a comment since it represents a deliberate judgment rather than a
// remark. These weights are an original design choice — no equivalent
// weighted scoring function exists upstream to ground them on — callers
// that disagree can supply their own model.ActivityScoreFunc.
func DefaultActivityScore(c model.ActivityCounts) float64 {
	return 3*float64(c.IssuesOpened) +
		3*float64(c.PRsOpened) +
		1*float64(c.CommentsPosted) +
		2*float64(c.ReviewsPosted)
}

// ScoreContributors reduces a repo's activity rows into one ActivityCounts
// per login and applies score to each, returning a login -> score map.
func ScoreContributors(activity []model.RepoUserActivity, score model.ActivityScoreFunc) map[string]float64 {
	if score == nil {
		score = DefaultActivityScore
	}
	counts := make(map[string]*model.ActivityCounts)
	for _, a := range activity {
		c, ok := counts[a.Login]
		if !ok {
			c = &model.ActivityCounts{Login: a.Login}
			counts[a.Login] = c
		}
		switch a.ActivityType {
		case model.ActivityIssueOpened:
			c.IssuesOpened++
		case model.ActivityPROpened:
			c.PRsOpened++
		case model.ActivityCommented:
			c.CommentsPosted++
		case model.ActivityReviewed:
			c.ReviewsPosted++
		}
	}
	out := make(map[string]float64, len(counts))
	for login, c := range counts {
		out[login] = score(*c)
	}
	return out
}
