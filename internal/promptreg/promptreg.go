// Package promptreg orchestrates the lifecycle of judge-proposed prompt
// updates: propose, review (approve/reject), and apply. The state machine
// itself (proposed -> approved|rejected -> applied) is enforced
// transactionally in internal/storage; this package is the thin
// entry point HTTP handlers and the court orchestrator call through.
package promptreg

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/retrocourt/retrocourt/internal/model"
)

// Store is the subset of *storage.DB the registry needs.
type Store interface {
	CreatePromptUpdate(ctx context.Context, p model.PromptUpdate) (model.PromptUpdate, error)
	GetPromptUpdate(ctx context.Context, id uuid.UUID) (model.PromptUpdate, error)
	ReviewPromptUpdate(ctx context.Context, id uuid.UUID, approve bool, reviewer string, comment *string) (model.PromptUpdate, error)
	ApplyPromptUpdate(ctx context.Context, id uuid.UUID) (model.RolePrompt, error)
	GetActiveRolePrompt(ctx context.Context, role string) (model.RolePrompt, error)
}

// Registry is the prompt-update lifecycle entry point.
type Registry struct {
	store Store
}

// New builds a Registry over store.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// Propose records a judge-proposed prompt update against the role's current
// active version.
func (r *Registry) Propose(ctx context.Context, caseID uuid.UUID, p model.PromptProposal) (model.PromptUpdate, error) {
	fromVersion := 0
	if active, err := r.store.GetActiveRolePrompt(ctx, p.Role); err == nil {
		fromVersion = active.Version
	}

	update, err := r.store.CreatePromptUpdate(ctx, model.PromptUpdate{
		CaseID:           caseID,
		AgentID:          p.AgentID,
		Role:             p.Role,
		FromVersion:      fromVersion,
		Proposal:         p.Proposal,
		Reason:           p.Reason,
		EvidenceEventIDs: p.EvidenceEventIDs,
	})
	if err != nil {
		return model.PromptUpdate{}, fmt.Errorf("promptreg: propose: %w", err)
	}
	return update, nil
}

// Review approves or rejects a proposed update. Only a proposal in the
// "proposed" state can be reviewed; storage enforces this and returns
// ErrInvalidState otherwise.
func (r *Registry) Review(ctx context.Context, id uuid.UUID, approve bool, reviewer string, comment *string) (model.PromptUpdate, error) {
	update, err := r.store.ReviewPromptUpdate(ctx, id, approve, reviewer, comment)
	if err != nil {
		return model.PromptUpdate{}, fmt.Errorf("promptreg: review: %w", err)
	}
	return update, nil
}

// Apply activates an approved update's proposal text as the role's new
// active RolePrompt version. Only an "approved" proposal can be applied.
func (r *Registry) Apply(ctx context.Context, id uuid.UUID) (model.RolePrompt, error) {
	rp, err := r.store.ApplyPromptUpdate(ctx, id)
	if err != nil {
		return model.RolePrompt{}, fmt.Errorf("promptreg: apply: %w", err)
	}
	return rp, nil
}

// Get fetches a prompt update by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (model.PromptUpdate, error) {
	update, err := r.store.GetPromptUpdate(ctx, id)
	if err != nil {
		return model.PromptUpdate{}, fmt.Errorf("promptreg: get: %w", err)
	}
	return update, nil
}

// ActivePrompt returns the role's currently active prompt, or
// storage.ErrNotFound if the role has never had one applied.
func (r *Registry) ActivePrompt(ctx context.Context, role string) (model.RolePrompt, error) {
	rp, err := r.store.GetActiveRolePrompt(ctx, role)
	if err != nil {
		return model.RolePrompt{}, fmt.Errorf("promptreg: active prompt: %w", err)
	}
	return rp, nil
}
