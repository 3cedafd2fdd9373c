package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"golang.org/x/sync/errgroup"

	"github.com/retrocourt/retrocourt/internal/forgehttp"
	"github.com/retrocourt/retrocourt/internal/model"
)

// Ingester discovers a repository's issues/PRs via REST search and hydrates
// each one's core fields, comments, timeline, and reviews via GraphQL,
// archiving every HTTP exchange along the way.
type Ingester struct {
	client   *forgehttp.Client
	archiver *Archiver
	index    *FingerprintIndex
	logger   *slog.Logger

	// Concurrency bounds how many work items are hydrated at once. 1 (the
	// default) hydrates serially, matching the "default serial for cold
	// backfills" guidance; set higher for warm incremental runs.
	Concurrency int
}

// New builds an Ingester. archiver and index may be shared across repos;
// Ingester itself holds no per-repo state.
func New(client *forgehttp.Client, archiver *Archiver, index *FingerprintIndex, logger *slog.Logger) *Ingester {
	ing := &Ingester{client: client, archiver: archiver, index: index, logger: logger, Concurrency: 1}
	client.OnExchange(ing.archiveExchange)
	return ing
}

// archiveExchange is the forgehttp.Client.OnExchange callback: every
// completed REST or GraphQL round trip is fingerprinted, tagged by what
// kind of call it was, checked against the resume index, and archived if
// not already on disk. The tag is derived from the exchange's own URL/body
// rather than threaded through a shared mutable field, so concurrent
// hydrations (Concurrency > 1) never race on it.
func (ing *Ingester) archiveExchange(ex forgehttp.Exchange) {
	ing.archiveTagged(classifyExchange(ex), ex)
}

// classifyExchange picks the meta.tag the projector selects archive files
// by (spec: "Selection is by meta.tag prefix match, never by file path
// parsing").
func classifyExchange(ex forgehttp.Exchange) string {
	switch {
	case strings.Contains(ex.URL, "/search/issues"):
		return "discover"
	case strings.Contains(ex.RequestBody, "timelineItems"):
		return "timeline"
	case strings.Contains(ex.RequestBody, "reviews("):
		return "reviews"
	case strings.Contains(ex.RequestBody, "issueOrPullRequest"):
		return "core"
	case strings.Contains(ex.URL, "/files"):
		return "files"
	default:
		return "http"
	}
}

func (ing *Ingester) archiveTagged(tag string, ex forgehttp.Exchange) {
	fp := Fingerprint(ex.Method, ex.URL, ex.ReqHeaders, ex.RequestBody)
	if path, found, err := ing.index.Lookup(fp, 1); err == nil && found && ing.archiver.Exists(path) {
		return
	}

	rec := model.RawRecord{
		Request: model.RawRequest{
			Method:  ex.Method,
			URL:     ex.URL,
			Headers: forgehttp.RedactHeaders(ex.ReqHeaders),
			Body:    ex.RequestBody,
		},
		Response: model.RawResponse{
			StatusCode: ex.StatusCode,
			Headers:    forgehttp.RedactHeaders(ex.RespHeaders),
			Body:       ex.ResponseBody,
		},
		Meta: model.RawRecordMeta{
			Tag:                tag,
			RequestFingerprint: fp,
			Attempt:            1,
			FetchedAt:          time.Now().UTC(),
		},
	}

	path, err := ing.archiver.Write(rec)
	if err != nil {
		ing.logger.Warn("ingest: archive write failed", "error", err, "url", ex.URL)
		return
	}
	if err := ing.index.Record(fp, 1, path); err != nil {
		ing.logger.Warn("ingest: fingerprint index record failed", "error", err, "url", ex.URL)
	}
}

// Discover runs the REST search API for issues/PRs in owner/repo in any
// state, returning their item numbers. since, if non-zero, is passed as an
// `updated:>=` search qualifier.
func (ing *Ingester) Discover(ctx context.Context, owner, repo string, since time.Time) ([]int, error) {
	query := fmt.Sprintf("repo:%s/%s is:issue,pr", owner, repo)
	if !since.IsZero() {
		query += fmt.Sprintf(" updated:>=%s", since.Format("2006-01-02"))
	}

	var numbers []int
	opts := &github.SearchOptions{
		Sort:        "updated",
		Order:       "asc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		result, resp, err := ing.client.REST().Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, fmt.Errorf("ingest: discover search: %w", err)
		}
		for _, issue := range result.Issues {
			if issue.Number != nil {
				numbers = append(numbers, *issue.Number)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return numbers, nil
}

// HydrateItem fetches core fields, comments/timeline, and reviews (PRs
// only) for one work item, in that order, archiving every GraphQL exchange.
// File-patch hydration for PRs goes through the REST Pulls.ListFiles call.
func (ing *Ingester) HydrateItem(ctx context.Context, owner, repo string, number int) error {
	if _, err := ing.hydrateCore(ctx, owner, repo, number); err != nil {
		return fmt.Errorf("ingest: hydrate core %s/%s#%d: %w", owner, repo, number, err)
	}
	if err := ing.hydrateTimeline(ctx, owner, repo, number); err != nil {
		return fmt.Errorf("ingest: hydrate timeline %s/%s#%d: %w", owner, repo, number, err)
	}
	if err := ing.hydrateReviewsAndFiles(ctx, owner, repo, number); err != nil {
		return fmt.Errorf("ingest: hydrate reviews/files %s/%s#%d: %w", owner, repo, number, err)
	}
	return nil
}

const coreQuery = `
query($owner: String!, $repo: String!, $number: Int!) {
  repository(owner: $owner, name: $repo) {
    issueOrPullRequest(number: $number) {
      __typename
      ... on Issue { id number title body state author { login } labels(first: 20) { nodes { name } } createdAt closedAt }
      ... on PullRequest { id number title body state author { login } labels(first: 20) { nodes { name } } createdAt closedAt }
    }
  }
}`

func (ing *Ingester) hydrateCore(ctx context.Context, owner, repo string, number int) (json.RawMessage, error) {
	return ing.client.RequestJSON(ctx, coreQuery, map[string]any{
		"owner": owner, "repo": repo, "number": number,
	}, nil)
}

const timelineItemFragment = `
  __typename
  ... on LabeledEvent { actor { login } createdAt label { name } }
  ... on UnlabeledEvent { actor { login } createdAt label { name } }
  ... on MilestonedEvent { actor { login } createdAt milestoneTitle }
  ... on DemilestonedEvent { actor { login } createdAt milestoneTitle }
  ... on AssignedEvent { actor { login } createdAt assignee { ... on User { login } } }
  ... on UnassignedEvent { actor { login } createdAt assignee { ... on User { login } } }
  ... on CrossReferencedEvent { actor { login } createdAt source { ... on Issue { number } ... on PullRequest { number } } }
  ... on ReferencedEvent { actor { login } createdAt commit { oid } }
`

var timelineQuery = `
query($owner: String!, $repo: String!, $number: Int!, $after: String) {
  repository(owner: $owner, name: $repo) {
    issueOrPullRequest(number: $number) {
      ... on Issue { comments(first: 50, after: $after) { pageInfo { hasNextPage endCursor } nodes { id author { login } body createdAt } } timelineItems(first: 50, after: $after, itemTypes: [LABELED_EVENT, UNLABELED_EVENT, MILESTONED_EVENT, DEMILESTONED_EVENT, ASSIGNED_EVENT, UNASSIGNED_EVENT, CROSS_REFERENCED_EVENT, REFERENCED_EVENT]) { pageInfo { hasNextPage endCursor } nodes {` + timelineItemFragment + `} } }
      ... on PullRequest { comments(first: 50, after: $after) { pageInfo { hasNextPage endCursor } nodes { id author { login } body createdAt } } timelineItems(first: 50, after: $after, itemTypes: [LABELED_EVENT, UNLABELED_EVENT, MILESTONED_EVENT, DEMILESTONED_EVENT, ASSIGNED_EVENT, UNASSIGNED_EVENT, CROSS_REFERENCED_EVENT, REFERENCED_EVENT]) { pageInfo { hasNextPage endCursor } nodes {` + timelineItemFragment + `} } }
    }
  }
}`

// hydrateTimeline cursor-paginates comments and timeline events together:
// both connections are requested with the same $after variable, matching
// the original exporter's single-pass walk over an item's activity.
func (ing *Ingester) hydrateTimeline(ctx context.Context, owner, repo string, number int) error {
	return ing.client.Paginate(ctx,
		func(ctx context.Context, cursor string) (json.RawMessage, error) {
			return ing.client.RequestJSON(ctx, timelineQuery, map[string]any{
				"owner": owner, "repo": repo, "number": number, "after": nullableCursor(cursor),
			}, nil)
		},
		func(json.RawMessage) error { return nil },
	)
}

const reviewsQuery = `
query($owner: String!, $repo: String!, $number: Int!, $after: String) {
  repository(owner: $owner, name: $repo) {
    pullRequest(number: $number) {
      reviews(first: 50, after: $after) { pageInfo { hasNextPage endCursor } nodes { id author { login } state body submittedAt } }
    }
  }
}`

// hydrateReviewsAndFiles paginates PR reviews via GraphQL and fetches
// changed files via the REST Pulls.ListFiles call (go-github handles the
// multipart patch response better than a hand-rolled GraphQL files query).
// Issues have neither and this is a no-op for them: the reviews query
// simply returns a nil pullRequest, which callers treat as "no reviews".
func (ing *Ingester) hydrateReviewsAndFiles(ctx context.Context, owner, repo string, number int) error {
	if err := ing.client.Paginate(ctx,
		func(ctx context.Context, cursor string) (json.RawMessage, error) {
			return ing.client.RequestJSON(ctx, reviewsQuery, map[string]any{
				"owner": owner, "repo": repo, "number": number, "after": nullableCursor(cursor),
			}, nil)
		},
		func(json.RawMessage) error { return nil },
	); err != nil {
		return err
	}

	opts := &github.ListOptions{PerPage: 100}
	for {
		_, resp, err := ing.client.REST().PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			// Not every item is a PR; go-github surfaces a 404 for issues,
			// which is an expected non-error outcome here.
			return nil
		}
		if resp.NextPage == 0 {
			return nil
		}
		opts.Page = resp.NextPage
	}
}

func nullableCursor(cursor string) any {
	if cursor == "" {
		return nil
	}
	return cursor
}

// Run discovers then hydrates every item in owner/repo, bounded by
// Concurrency concurrent hydrations via errgroup. Per-item hydration errors
// are logged and not returned, so one bad item doesn't abort the run or
// lose progress on the rest; only a discovery error is returned.
func (ing *Ingester) Run(ctx context.Context, owner, repo string, since time.Time) error {
	numbers, err := ing.Discover(ctx, owner, repo, since)
	if err != nil {
		return err
	}

	concurrency := ing.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, number := range numbers {
		g.Go(func() error {
			if err := ing.HydrateItem(gctx, owner, repo, number); err != nil {
				ing.logger.Warn("ingest: item hydration failed", "number", number, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
