package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/retrocourt/retrocourt/internal/integrity"
	"github.com/retrocourt/retrocourt/internal/model"
)

// CreateCourtRun inserts a new court run in the running state.
func (db *DB) CreateCourtRun(ctx context.Context, run model.CourtRun) (model.CourtRun, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = model.CourtRunRunning
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO court_runs (id, case_id, model, started_at, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.CaseID, run.Model, run.StartedAt, string(run.Status),
	)
	if err != nil {
		return model.CourtRun{}, fmt.Errorf("storage: create court run: %w", err)
	}
	return run, nil
}

// FinishCourtRun records the terminal status and redacted artifacts blob
// for a court run.
func (db *DB) FinishCourtRun(ctx context.Context, id uuid.UUID, status model.CourtRunStatus, artifacts map[string]any) error {
	if artifacts != nil {
		if err := db.policy.AssertNoSensitiveData(map[string]any(artifacts)); err != nil {
			return fmt.Errorf("storage: court run artifacts: %w", err)
		}
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE court_runs SET status = $2, artifacts = $3, ended_at = now() WHERE id = $1`,
		id, string(status), artifacts,
	)
	if err != nil {
		return fmt.Errorf("storage: finish court run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCourtRun fetches a court run by id.
func (db *DB) GetCourtRun(ctx context.Context, id uuid.UUID) (model.CourtRun, error) {
	var run model.CourtRun
	var status string
	err := db.pool.QueryRow(ctx,
		`SELECT id, case_id, model, started_at, ended_at, status, artifacts
		 FROM court_runs WHERE id = $1`, id,
	).Scan(&run.ID, &run.CaseID, &run.Model, &run.StartedAt, &run.EndedAt, &status, &run.Artifacts)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CourtRun{}, ErrNotFound
	}
	if err != nil {
		return model.CourtRun{}, fmt.Errorf("storage: get court run: %w", err)
	}
	run.Status = model.CourtRunStatus(status)
	return run, nil
}

// ListCourtRunsForCase returns every court run for a case, newest first.
func (db *DB) ListCourtRunsForCase(ctx context.Context, caseID uuid.UUID) ([]model.CourtRun, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, case_id, model, started_at, ended_at, status, artifacts
		 FROM court_runs WHERE case_id = $1 ORDER BY started_at DESC`, caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list court runs: %w", err)
	}
	defer rows.Close()

	var runs []model.CourtRun
	for rows.Next() {
		var run model.CourtRun
		var status string
		if err := rows.Scan(&run.ID, &run.CaseID, &run.Model, &run.StartedAt, &run.EndedAt, &status, &run.Artifacts); err != nil {
			return nil, fmt.Errorf("storage: scan court run: %w", err)
		}
		run.Status = model.CourtRunStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateJudgement inserts the judge stage's verdict for a court run,
// stamped with a tamper-evident content hash over its canonical fields.
func (db *DB) CreateJudgement(ctx context.Context, j model.Judgement) (model.Judgement, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if err := db.policy.AssertNoSensitiveData(map[string]any(j.Verdict)); err != nil {
		return model.Judgement{}, fmt.Errorf("storage: judgement verdict: %w", err)
	}
	hash, err := integrity.ComputeJudgementHash(j.ID, j.CourtRunID, j.CaseID, j.Verdict, j.CreatedAt)
	if err != nil {
		return model.Judgement{}, fmt.Errorf("storage: hash judgement: %w", err)
	}
	j.ContentHash = hash

	_, err = db.pool.Exec(ctx,
		`INSERT INTO judgements (id, court_run_id, case_id, verdict, content_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		j.ID, j.CourtRunID, j.CaseID, j.Verdict, j.ContentHash, j.CreatedAt,
	)
	if err != nil {
		return model.Judgement{}, fmt.Errorf("storage: create judgement: %w", err)
	}
	return j, nil
}

// GetJudgementForCourtRun fetches the judgement for a court run, if any.
func (db *DB) GetJudgementForCourtRun(ctx context.Context, courtRunID uuid.UUID) (model.Judgement, error) {
	var j model.Judgement
	err := db.pool.QueryRow(ctx,
		`SELECT id, court_run_id, case_id, verdict, content_hash, created_at FROM judgements WHERE court_run_id = $1`,
		courtRunID,
	).Scan(&j.ID, &j.CourtRunID, &j.CaseID, &j.Verdict, &j.ContentHash, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Judgement{}, ErrNotFound
	}
	if err != nil {
		return model.Judgement{}, fmt.Errorf("storage: get judgement: %w", err)
	}
	return j, nil
}

// VerifyJudgementIntegrity recomputes a judgement's content hash from its
// stored fields and reports whether it still matches content_hash — a
// positive result means the row has not been altered since insertion by
// any path other than this package.
func (db *DB) VerifyJudgementIntegrity(ctx context.Context, courtRunID uuid.UUID) (bool, error) {
	j, err := db.GetJudgementForCourtRun(ctx, courtRunID)
	if err != nil {
		return false, err
	}
	return integrity.VerifyJudgementHash(j.ContentHash, j.ID, j.CourtRunID, j.CaseID, j.Verdict, j.CreatedAt)
}
