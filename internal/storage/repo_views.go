package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/retrocourt/retrocourt/internal/model"
)

// ReplaceProjectedViews atomically replaces every repo_* projection row for
// repoFullName with the freshly projected set. The projector rebuilds its
// views in full on every run (no incremental state), so this truncates the
// repo's existing rows and re-inserts via COPY, all in one transaction.
func (db *DB) ReplaceProjectedViews(
	ctx context.Context,
	repoFullName string,
	workItems []model.RepoWorkItem,
	comments []model.RepoComment,
	reviews []model.RepoPRReview,
	events []model.RepoWorkItemEvent,
	activity []model.RepoUserActivity,
) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin replace projected views: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tables := []string{"repo_work_item", "repo_comment", "repo_pr_review", "repo_work_item_event", "repo_user_activity"}
	for _, t := range tables {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE repo_full_name = $1`, t), repoFullName); err != nil {
			return fmt.Errorf("storage: clear %s: %w", t, err)
		}
	}

	if len(workItems) > 0 {
		rows := make([][]any, len(workItems))
		for i, w := range workItems {
			rows[i] = []any{w.RepoFullName, w.Number, string(w.ItemType), w.Title, w.BodyExcerpt, w.State, w.Author, w.Labels, w.CreatedAt, w.ClosedAt, w.NodeID}
		}
		cols := []string{"repo_full_name", "number", "item_type", "title", "body_excerpt", "state", "author", "labels", "created_at", "closed_at", "node_id"}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"repo_work_item"}, cols, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("storage: copy repo_work_item: %w", err)
		}
	}

	if len(comments) > 0 {
		rows := make([][]any, len(comments))
		for i, c := range comments {
			rows[i] = []any{c.RepoFullName, c.WorkItemNumber, c.Author, c.BodyExcerpt, c.CreatedAt, c.NodeID}
		}
		cols := []string{"repo_full_name", "work_item_number", "author", "body_excerpt", "created_at", "node_id"}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"repo_comment"}, cols, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("storage: copy repo_comment: %w", err)
		}
	}

	if len(reviews) > 0 {
		rows := make([][]any, len(reviews))
		for i, r := range reviews {
			rows[i] = []any{r.RepoFullName, r.WorkItemNumber, r.Author, r.State, r.BodyExcerpt, r.SubmittedAt, r.NodeID}
		}
		cols := []string{"repo_full_name", "work_item_number", "author", "state", "body_excerpt", "submitted_at", "node_id"}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"repo_pr_review"}, cols, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("storage: copy repo_pr_review: %w", err)
		}
	}

	if len(events) > 0 {
		rows := make([][]any, len(events))
		for i, e := range events {
			rows[i] = []any{e.RepoFullName, e.WorkItemNumber, e.EventName, e.Actor, e.OccurredAt, e.Detail}
		}
		cols := []string{"repo_full_name", "work_item_number", "event_name", "actor", "occurred_at", "detail"}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"repo_work_item_event"}, cols, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("storage: copy repo_work_item_event: %w", err)
		}
	}

	if len(activity) > 0 {
		rows := make([][]any, len(activity))
		for i, a := range activity {
			rows[i] = []any{a.RepoFullName, a.Login, string(a.ActivityType), a.WorkItemNumber, a.OccurredAt}
		}
		cols := []string{"repo_full_name", "login", "activity_type", "work_item_number", "occurred_at"}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"repo_user_activity"}, cols, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("storage: copy repo_user_activity: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit replace projected views: %w", err)
	}
	return nil
}

// ListActivityForRepo returns every recorded contributor activity row for a
// repo, the substrate for the pluggable activity-score function.
func (db *DB) ListActivityForRepo(ctx context.Context, repoFullName string) ([]model.RepoUserActivity, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT repo_full_name, login, activity_type, work_item_number, occurred_at
		 FROM repo_user_activity WHERE repo_full_name = $1`, repoFullName,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list activity: %w", err)
	}
	defer rows.Close()

	var out []model.RepoUserActivity
	for rows.Next() {
		var a model.RepoUserActivity
		var activityType string
		if err := rows.Scan(&a.RepoFullName, &a.Login, &activityType, &a.WorkItemNumber, &a.OccurredAt); err != nil {
			return nil, fmt.Errorf("storage: scan activity: %w", err)
		}
		a.ActivityType = model.ActivityType(activityType)
		out = append(out, a)
	}
	return out, rows.Err()
}
