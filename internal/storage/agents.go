package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/retrocourt/retrocourt/internal/model"
)

// CreateAgent inserts a new authenticated identity.
func (db *DB) CreateAgent(ctx context.Context, a model.Agent) (model.Agent, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Role == "" {
		a.Role = model.RoleAgent
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO agents (id, agent_id, name, role, tags, metadata, api_key_hash)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.AgentID, a.Name, string(a.Role), a.Tags, a.Metadata, a.APIKeyHash,
	)
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	return db.GetAgentByAgentID(ctx, a.AgentID)
}

// GetAgentByAgentID fetches an agent by its caller-facing agent_id.
func (db *DB) GetAgentByAgentID(ctx context.Context, agentID string) (model.Agent, error) {
	var a model.Agent
	var role string
	err := db.pool.QueryRow(ctx,
		`SELECT id, agent_id, name, role, tags, metadata, api_key_hash, created_at, updated_at
		 FROM agents WHERE agent_id = $1`, agentID,
	).Scan(&a.ID, &a.AgentID, &a.Name, &role, &a.Tags, &a.Metadata, &a.APIKeyHash, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	a.Role = model.AgentRole(role)
	return a, nil
}

// ListAgents returns every registered agent, newest first.
func (db *DB) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, agent_id, name, role, tags, metadata, api_key_hash, created_at, updated_at
		 FROM agents ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		var a model.Agent
		var role string
		if err := rows.Scan(&a.ID, &a.AgentID, &a.Name, &role, &a.Tags, &a.Metadata, &a.APIKeyHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		a.Role = model.AgentRole(role)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
