package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/retrocourt/retrocourt/internal/model"
)

// CreateCase inserts a new case, with its feedback when one is given. The
// redaction persistence gate runs over Metadata, Result and the feedback
// comment before the insert.
func (db *DB) CreateCase(ctx context.Context, c model.Case) (model.Case, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Metadata != nil {
		if err := db.policy.AssertNoSensitiveData(map[string]any(c.Metadata)); err != nil {
			return model.Case{}, fmt.Errorf("storage: case metadata: %w", err)
		}
	}
	if c.Result != nil {
		if err := db.policy.AssertNoSensitiveData(map[string]any(c.Result)); err != nil {
			return model.Case{}, fmt.Errorf("storage: case result: %w", err)
		}
	}

	var feedbackVerdict, feedbackComment *string
	if c.Feedback != nil {
		if err := db.policy.AssertNoSensitiveData(c.Feedback.Comment); err != nil {
			return model.Case{}, fmt.Errorf("storage: case feedback: %w", err)
		}
		feedbackVerdict, feedbackComment = &c.Feedback.Verdict, &c.Feedback.Comment
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO cases (id, source_system, source_ref, metadata, result, redaction_policy_version, feedback_verdict, feedback_comment)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Source.System, c.Source.Ref, c.Metadata, c.Result, c.RedactionPolicyVersion, feedbackVerdict, feedbackComment,
	)
	if err != nil {
		return model.Case{}, fmt.Errorf("storage: create case: %w", err)
	}
	return db.GetCase(ctx, c.ID)
}

// GetCase fetches a case by id.
func (db *DB) GetCase(ctx context.Context, id uuid.UUID) (model.Case, error) {
	var c model.Case
	var feedbackVerdict, feedbackComment *string
	err := db.pool.QueryRow(ctx,
		`SELECT id, source_system, source_ref, metadata, result,
		        feedback_verdict, feedback_comment, redaction_policy_version, created_at
		 FROM cases WHERE id = $1`, id,
	).Scan(
		&c.ID, &c.Source.System, &c.Source.Ref, &c.Metadata, &c.Result,
		&feedbackVerdict, &feedbackComment, &c.RedactionPolicyVersion, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Case{}, ErrNotFound
	}
	if err != nil {
		return model.Case{}, fmt.Errorf("storage: get case: %w", err)
	}
	if feedbackVerdict != nil {
		c.Feedback = &model.CaseFeedback{Verdict: *feedbackVerdict}
		if feedbackComment != nil {
			c.Feedback.Comment = *feedbackComment
		}
	}
	return c, nil
}

// SetCaseFeedback records the human verdict on a case. Feedback is
// attached once the case exists; it does not create a new case version —
// cases themselves are append-only only through CaseEvent, feedback is the
// one mutable field.
func (db *DB) SetCaseFeedback(ctx context.Context, id uuid.UUID, feedback model.CaseFeedback) error {
	if err := db.policy.AssertNoSensitiveData(feedback.Comment); err != nil {
		return fmt.Errorf("storage: case feedback: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE cases SET feedback_verdict = $2, feedback_comment = $3 WHERE id = $1`,
		id, feedback.Verdict, feedback.Comment,
	)
	if err != nil {
		return fmt.Errorf("storage: set case feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCasesOpts filters ListCases.
type ListCasesOpts struct {
	SourceSystem string
	Limit        int
	Offset       int
}

// ListCases returns cases ordered newest first, optionally filtered by
// source system.
func (db *DB) ListCases(ctx context.Context, opts ListCasesOpts) ([]model.Case, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, source_system, source_ref, metadata, result,
	                 feedback_verdict, feedback_comment, redaction_policy_version, created_at
	          FROM cases`
	args := []any{}
	if opts.SourceSystem != "" {
		query += ` WHERE source_system = $1`
		args = append(args, opts.SourceSystem)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, opts.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list cases: %w", err)
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		var c model.Case
		var feedbackVerdict, feedbackComment *string
		if err := rows.Scan(
			&c.ID, &c.Source.System, &c.Source.Ref, &c.Metadata, &c.Result,
			&feedbackVerdict, &feedbackComment, &c.RedactionPolicyVersion, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan case: %w", err)
		}
		if feedbackVerdict != nil {
			c.Feedback = &model.CaseFeedback{Verdict: *feedbackVerdict}
			if feedbackComment != nil {
				c.Feedback.Comment = *feedbackComment
			}
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}
