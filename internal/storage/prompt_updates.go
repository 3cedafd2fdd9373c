package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/retrocourt/retrocourt/internal/model"
)

// CreatePromptUpdate inserts a proposed prompt update.
func (db *DB) CreatePromptUpdate(ctx context.Context, p model.PromptUpdate) (model.PromptUpdate, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = model.PromptUpdateProposed
	}
	if err := db.policy.AssertNoSensitiveData(p.Proposal); err != nil {
		return model.PromptUpdate{}, fmt.Errorf("storage: prompt update proposal: %w", err)
	}
	if err := db.policy.AssertNoSensitiveData(p.Reason); err != nil {
		return model.PromptUpdate{}, fmt.Errorf("storage: prompt update reason: %w", err)
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO prompt_updates (
		     id, case_id, agent_id, role, from_version, proposal, reason, status, evidence_event_ids
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.CaseID, p.AgentID, p.Role, p.FromVersion, p.Proposal, p.Reason,
		string(p.Status), p.EvidenceEventIDs,
	)
	if err != nil {
		return model.PromptUpdate{}, fmt.Errorf("storage: create prompt update: %w", err)
	}
	return p, nil
}

// GetPromptUpdate fetches a prompt update by id.
func (db *DB) GetPromptUpdate(ctx context.Context, id uuid.UUID) (model.PromptUpdate, error) {
	var p model.PromptUpdate
	var status string
	err := db.pool.QueryRow(ctx,
		`SELECT id, case_id, agent_id, role, from_version, proposal, reason, status,
		        review_comment, approved_by, approved_at, applied_at, evidence_event_ids, created_at
		 FROM prompt_updates WHERE id = $1`, id,
	).Scan(
		&p.ID, &p.CaseID, &p.AgentID, &p.Role, &p.FromVersion, &p.Proposal, &p.Reason, &status,
		&p.ReviewComment, &p.ApprovedBy, &p.ApprovedAt, &p.AppliedAt, &p.EvidenceEventIDs, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PromptUpdate{}, ErrNotFound
	}
	if err != nil {
		return model.PromptUpdate{}, fmt.Errorf("storage: get prompt update: %w", err)
	}
	p.Status = model.PromptUpdateStatus(status)
	return p, nil
}

// ReviewPromptUpdate transitions a proposal from proposed to approved or
// rejected. Any other starting status fails with ErrInvalidState.
func (db *DB) ReviewPromptUpdate(ctx context.Context, id uuid.UUID, approve bool, reviewer string, comment *string) (model.PromptUpdate, error) {
	newStatus := model.PromptUpdateRejected
	if approve {
		newStatus = model.PromptUpdateApproved
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.PromptUpdate{}, fmt.Errorf("storage: begin review prompt update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	if err := tx.QueryRow(ctx,
		`SELECT status FROM prompt_updates WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PromptUpdate{}, ErrNotFound
		}
		return model.PromptUpdate{}, fmt.Errorf("storage: lock prompt update: %w", err)
	}
	if model.PromptUpdateStatus(status) != model.PromptUpdateProposed {
		return model.PromptUpdate{}, fmt.Errorf("storage: review prompt update %s: %w", status, ErrInvalidState)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE prompt_updates
		 SET status = $2, review_comment = $3, approved_by = $4,
		     approved_at = CASE WHEN $2 = 'approved' THEN now() ELSE approved_at END
		 WHERE id = $1`,
		id, string(newStatus), comment, reviewer,
	)
	if err != nil {
		return model.PromptUpdate{}, fmt.Errorf("storage: update prompt update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.PromptUpdate{}, ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return model.PromptUpdate{}, fmt.Errorf("storage: commit review prompt update: %w", err)
	}
	return db.GetPromptUpdate(ctx, id)
}

// ApplyPromptUpdate applies an approved prompt update: it bumps the active
// RolePrompt version for the role and marks the proposal applied, all in
// one transaction. Exactly one RolePrompt per role has IsActive = true
// after commit.
//
// Two applications for the same role can lock role_prompts rows in
// different orders (new-version insert vs. prior-version deactivate), so
// Postgres can detect a deadlock between them; the whole attempt is retried
// via WithRetry rather than surfacing that as a caller-visible failure.
func (db *DB) ApplyPromptUpdate(ctx context.Context, id uuid.UUID) (model.RolePrompt, error) {
	var result model.RolePrompt
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		rp, err := db.applyPromptUpdateOnce(ctx, id)
		if err != nil {
			return err
		}
		result = rp
		return nil
	})
	return result, err
}

func (db *DB) applyPromptUpdateOnce(ctx context.Context, id uuid.UUID) (model.RolePrompt, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.RolePrompt{}, fmt.Errorf("storage: begin apply prompt update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status, role, proposal string
	if err := tx.QueryRow(ctx,
		`SELECT status, role, proposal FROM prompt_updates WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status, &role, &proposal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RolePrompt{}, ErrNotFound
		}
		return model.RolePrompt{}, fmt.Errorf("storage: lock prompt update for apply: %w", err)
	}
	if model.PromptUpdateStatus(status) != model.PromptUpdateApproved {
		return model.RolePrompt{}, fmt.Errorf("storage: apply prompt update %s: %w", status, ErrInvalidState)
	}

	var newVersion int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM role_prompts WHERE role = $1`, role,
	).Scan(&newVersion); err != nil {
		return model.RolePrompt{}, fmt.Errorf("storage: compute next role prompt version: %w", err)
	}

	newID := uuid.New()
	if _, err := tx.Exec(ctx,
		`INSERT INTO role_prompts (id, role, version, prompt, is_active) VALUES ($1, $2, $3, $4, true)`,
		newID, role, newVersion, proposal,
	); err != nil {
		return model.RolePrompt{}, fmt.Errorf("storage: insert role prompt: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE role_prompts SET is_active = false WHERE role = $1 AND id <> $2 AND is_active = true`,
		role, newID,
	); err != nil {
		return model.RolePrompt{}, fmt.Errorf("storage: deactivate previous role prompt: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE prompt_updates SET status = 'applied', applied_at = now() WHERE id = $1`, id,
	); err != nil {
		return model.RolePrompt{}, fmt.Errorf("storage: mark prompt update applied: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.RolePrompt{}, fmt.Errorf("storage: commit apply prompt update: %w", err)
	}

	return model.RolePrompt{ID: newID, Role: role, Version: newVersion, Prompt: proposal, IsActive: true}, nil
}

// GetActiveRolePrompt returns the currently active prompt for a role.
func (db *DB) GetActiveRolePrompt(ctx context.Context, role string) (model.RolePrompt, error) {
	var rp model.RolePrompt
	err := db.pool.QueryRow(ctx,
		`SELECT id, role, version, prompt, is_active, created_at
		 FROM role_prompts WHERE role = $1 AND is_active = true`, role,
	).Scan(&rp.ID, &rp.Role, &rp.Version, &rp.Prompt, &rp.IsActive, &rp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RolePrompt{}, ErrNotFound
	}
	if err != nil {
		return model.RolePrompt{}, fmt.Errorf("storage: get active role prompt: %w", err)
	}
	return rp, nil
}
