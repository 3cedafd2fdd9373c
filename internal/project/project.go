// Package project implements the projector: a pure function that rebuilds
// the repo_* views from a directory of archived raw HTTP exchanges
// (internal/ingest's output), in full, on every run.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/retrocourt/retrocourt/internal/model"
)

// Project reads every archived exchange under rawDir/raw_http/*/*.json
// and derives the full set of repo_* projection rows. Selection is by
// meta.tag prefix (core/timeline/reviews), matching what internal/ingest
// writes; the directory a file sits in is not consulted.
func Project(rawDir string) (model.ProjectedViews, error) {
	coreFiles, err := listTagFiles(rawDir, "core")
	if err != nil {
		return model.ProjectedViews{}, err
	}
	timelineFiles, err := listTagFiles(rawDir, "timeline")
	if err != nil {
		return model.ProjectedViews{}, err
	}
	reviewFiles, err := listTagFiles(rawDir, "reviews")
	if err != nil {
		return model.ProjectedViews{}, err
	}

	var repoFullName string
	workItems := make(map[int]model.RepoWorkItem)
	for _, path := range coreFiles {
		rec, err := readRecord(path)
		if err != nil {
			return model.ProjectedViews{}, err
		}
		owner, repo, _, err := requestVariables(rec)
		if err != nil {
			return model.ProjectedViews{}, fmt.Errorf("project: %s: %w", path, err)
		}
		if repoFullName == "" {
			repoFullName = owner + "/" + repo
		}

		var body coreResponse
		if err := json.Unmarshal([]byte(rec.Response.Body), &body); err != nil {
			return model.ProjectedViews{}, fmt.Errorf("project: decode core response %s: %w", path, err)
		}
		node := body.Data.Repository.IssueOrPullRequest
		if node.Number == 0 {
			continue
		}
		workItems[node.Number] = model.RepoWorkItem{
			RepoFullName: repoFullName,
			Number:       node.Number,
			ItemType:     model.ItemType(itemType(node.Typename)),
			Title:        node.Title,
			BodyExcerpt:  bodyExcerpt(node.Body),
			State:        node.State,
			Author:       actorLogin(node.Author.Login),
			Labels:       labelNames(node.Labels.Nodes),
			CreatedAt:    node.CreatedAt,
			ClosedAt:     node.ClosedAt,
			NodeID:       node.ID,
		}
	}

	var comments []model.RepoComment
	var events []model.RepoWorkItemEvent
	for _, path := range timelineFiles {
		rec, err := readRecord(path)
		if err != nil {
			return model.ProjectedViews{}, err
		}
		_, _, number, err := requestVariables(rec)
		if err != nil {
			return model.ProjectedViews{}, fmt.Errorf("project: %s: %w", path, err)
		}

		var body timelineResponse
		if err := json.Unmarshal([]byte(rec.Response.Body), &body); err != nil {
			return model.ProjectedViews{}, fmt.Errorf("project: decode timeline response %s: %w", path, err)
		}
		node := body.Data.Repository.IssueOrPullRequest

		for _, c := range node.Comments.Nodes {
			comments = append(comments, model.RepoComment{
				RepoFullName:   repoFullName,
				WorkItemNumber: number,
				Author:         actorLogin(c.Author.Login),
				BodyExcerpt:    commentExcerpt(c.Body),
				CreatedAt:      c.CreatedAt,
				NodeID:         surrogateID(c.ID, fmt.Sprintf("comment:%s:%d:%s", repoFullName, number, c.CreatedAt)),
			})
		}
		for _, ev := range node.TimelineItems.Nodes {
			events = append(events, model.RepoWorkItemEvent{
				RepoFullName:   repoFullName,
				WorkItemNumber: number,
				EventName:      canonicalEventName(ev.Typename),
				Actor:          actorLogin(ev.Actor.Login),
				OccurredAt:     ev.CreatedAt,
				Detail:         eventDetail(ev),
			})
		}
	}

	var reviews []model.RepoPRReview
	for _, path := range reviewFiles {
		rec, err := readRecord(path)
		if err != nil {
			return model.ProjectedViews{}, err
		}
		_, _, number, err := requestVariables(rec)
		if err != nil {
			return model.ProjectedViews{}, fmt.Errorf("project: %s: %w", path, err)
		}

		var body reviewsResponse
		if err := json.Unmarshal([]byte(rec.Response.Body), &body); err != nil {
			return model.ProjectedViews{}, fmt.Errorf("project: decode reviews response %s: %w", path, err)
		}
		for _, r := range body.Data.Repository.PullRequest.Reviews.Nodes {
			reviews = append(reviews, model.RepoPRReview{
				RepoFullName:   repoFullName,
				WorkItemNumber: number,
				Author:         actorLogin(r.Author.Login),
				State:          r.State,
				BodyExcerpt:    commentExcerpt(r.Body),
				SubmittedAt:    r.SubmittedAt,
				NodeID:         surrogateID(r.ID, fmt.Sprintf("review:%s:%d:%s", repoFullName, number, r.SubmittedAt)),
			})
		}
	}

	activity := deriveActivity(workItemSlice(workItems), comments, reviews)

	views := model.ProjectedViews{
		WorkItems: workItemSlice(workItems),
		Comments:  comments,
		Reviews:   reviews,
		Events:    events,
		Activity:  activity,
	}
	sortViews(&views)
	return views, nil
}

func workItemSlice(m map[int]model.RepoWorkItem) []model.RepoWorkItem {
	out := make([]model.RepoWorkItem, 0, len(m))
	for _, w := range m {
		out = append(out, w)
	}
	return out
}

// deriveActivity derives one repo_user_activity row per (login, action).
func deriveActivity(workItems []model.RepoWorkItem, comments []model.RepoComment, reviews []model.RepoPRReview) []model.RepoUserActivity {
	var out []model.RepoUserActivity
	for _, w := range workItems {
		if w.Author == "" {
			continue
		}
		actType := model.ActivityIssueOpened
		if w.ItemType == model.ItemPR {
			actType = model.ActivityPROpened
		}
		out = append(out, model.RepoUserActivity{
			RepoFullName: w.RepoFullName, Login: w.Author, ActivityType: actType,
			WorkItemNumber: w.Number, OccurredAt: w.CreatedAt,
		})
	}
	for _, c := range comments {
		if c.Author == "" {
			continue
		}
		out = append(out, model.RepoUserActivity{
			RepoFullName: c.RepoFullName, Login: c.Author, ActivityType: model.ActivityCommented,
			WorkItemNumber: c.WorkItemNumber, OccurredAt: c.CreatedAt,
		})
	}
	for _, r := range reviews {
		if r.Author == "" {
			continue
		}
		out = append(out, model.RepoUserActivity{
			RepoFullName: r.RepoFullName, Login: r.Author, ActivityType: model.ActivityReviewed,
			WorkItemNumber: r.WorkItemNumber, OccurredAt: r.SubmittedAt,
		})
	}
	return out
}

func sortViews(v *model.ProjectedViews) {
	sort.Slice(v.WorkItems, func(i, j int) bool { return v.WorkItems[i].Number < v.WorkItems[j].Number })
	sort.Slice(v.Comments, func(i, j int) bool {
		if v.Comments[i].WorkItemNumber != v.Comments[j].WorkItemNumber {
			return v.Comments[i].WorkItemNumber < v.Comments[j].WorkItemNumber
		}
		return v.Comments[i].CreatedAt.Before(v.Comments[j].CreatedAt)
	})
	sort.Slice(v.Reviews, func(i, j int) bool {
		if v.Reviews[i].WorkItemNumber != v.Reviews[j].WorkItemNumber {
			return v.Reviews[i].WorkItemNumber < v.Reviews[j].WorkItemNumber
		}
		return v.Reviews[i].SubmittedAt.Before(v.Reviews[j].SubmittedAt)
	})
	sort.Slice(v.Events, func(i, j int) bool {
		if v.Events[i].WorkItemNumber != v.Events[j].WorkItemNumber {
			return v.Events[i].WorkItemNumber < v.Events[j].WorkItemNumber
		}
		return v.Events[i].OccurredAt.Before(v.Events[j].OccurredAt)
	})
	sort.Slice(v.Activity, func(i, j int) bool {
		if v.Activity[i].Login != v.Activity[j].Login {
			return v.Activity[i].Login < v.Activity[j].Login
		}
		return v.Activity[i].OccurredAt.Before(v.Activity[j].OccurredAt)
	})
}

func listTagFiles(rawDir, tag string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(rawDir, "raw_http", "*", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("project: glob %s archive: %w", tag, err)
	}
	sort.Strings(matches)
	var selected []string
	for _, path := range matches {
		rec, err := readRecord(path)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(rec.Meta.Tag, tag) {
			selected = append(selected, path)
		}
	}
	return selected, nil
}

func readRecord(path string) (model.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.RawRecord{}, fmt.Errorf("project: read %s: %w", path, err)
	}
	var rec model.RawRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.RawRecord{}, fmt.Errorf("project: decode %s: %w", path, err)
	}
	return rec, nil
}

type graphqlRequestBody struct {
	Variables map[string]any `json:"variables"`
}

// requestVariables extracts owner/repo/number from the archived request
// body, the projector's only source of which item an exchange belongs to
// (selection never parses the file path for this).
func requestVariables(rec model.RawRecord) (owner, repo string, number int, err error) {
	var body graphqlRequestBody
	if err := json.Unmarshal([]byte(rec.Request.Body), &body); err != nil {
		return "", "", 0, fmt.Errorf("decode request variables: %w", err)
	}
	owner, _ = body.Variables["owner"].(string)
	repo, _ = body.Variables["repo"].(string)
	if n, ok := body.Variables["number"].(float64); ok {
		number = int(n)
	}
	return owner, repo, number, nil
}

func labelNames(nodes []struct {
	Name string `json:"name"`
}) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

// surrogateID returns nodeID if present, otherwise a stable hash-derived
// surrogate key over seed — used for comment/review rows a GraphQL
// response might, in principle, return without an id.
func surrogateID(nodeID, seed string) string {
	if nodeID != "" {
		return nodeID
	}
	return "sha256:" + sha256Hex12(seed)
}

func eventDetail(ev timelineItemNode) map[string]any {
	switch ev.Typename {
	case "LabeledEvent", "UnlabeledEvent":
		if ev.Label != nil {
			return map[string]any{"label": ev.Label.Name}
		}
	case "MilestonedEvent", "DemilestonedEvent":
		if ev.MilestoneTitle != nil {
			return map[string]any{"milestone": *ev.MilestoneTitle}
		}
	case "AssignedEvent", "UnassignedEvent":
		if ev.Assignee != nil {
			return map[string]any{"assignee": actorLogin(ev.Assignee.Login)}
		}
	case "CrossReferencedEvent":
		if ev.Source != nil {
			return map[string]any{"source_number": ev.Source.Number}
		}
	case "ReferencedEvent":
		if ev.Commit != nil {
			return map[string]any{"commit": ev.Commit.OID}
		}
	}
	return nil
}

// -- GraphQL response decoding shapes, matching internal/ingest's queries --

type coreResponse struct {
	Data struct {
		Repository struct {
			IssueOrPullRequest struct {
				Typename string `json:"__typename"`
				ID       string `json:"id"`
				Number   int    `json:"number"`
				Title    string `json:"title"`
				Body     string `json:"body"`
				State    string `json:"state"`
				Author   struct {
					Login string `json:"login"`
				} `json:"author"`
				Labels struct {
					Nodes []struct {
						Name string `json:"name"`
					} `json:"nodes"`
				} `json:"labels"`
				CreatedAt time.Time  `json:"createdAt"`
				ClosedAt  *time.Time `json:"closedAt"`
			} `json:"issueOrPullRequest"`
		} `json:"repository"`
	} `json:"data"`
}

type timelineItemNode struct {
	Typename  string    `json:"__typename"`
	Actor     struct{ Login string `json:"login"` } `json:"actor"`
	CreatedAt time.Time `json:"createdAt"`
	Label     *struct {
		Name string `json:"name"`
	} `json:"label"`
	MilestoneTitle *string `json:"milestoneTitle"`
	Assignee       *struct {
		Login string `json:"login"`
	} `json:"assignee"`
	Source *struct {
		Number int `json:"number"`
	} `json:"source"`
	Commit *struct {
		OID string `json:"oid"`
	} `json:"commit"`
}

type timelineResponse struct {
	Data struct {
		Repository struct {
			IssueOrPullRequest struct {
				Comments struct {
					Nodes []struct {
						ID     string `json:"id"`
						Author struct {
							Login string `json:"login"`
						} `json:"author"`
						Body      string    `json:"body"`
						CreatedAt time.Time `json:"createdAt"`
					} `json:"nodes"`
				} `json:"comments"`
				TimelineItems struct {
					Nodes []timelineItemNode `json:"nodes"`
				} `json:"timelineItems"`
			} `json:"issueOrPullRequest"`
		} `json:"repository"`
	} `json:"data"`
}

type reviewsResponse struct {
	Data struct {
		Repository struct {
			PullRequest struct {
				Reviews struct {
					Nodes []struct {
						ID     string `json:"id"`
						Author struct {
							Login string `json:"login"`
						} `json:"author"`
						State       string    `json:"state"`
						Body        string    `json:"body"`
						SubmittedAt time.Time `json:"submittedAt"`
					} `json:"nodes"`
				} `json:"reviews"`
			} `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
}
