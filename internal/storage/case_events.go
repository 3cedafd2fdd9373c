package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/retrocourt/retrocourt/internal/model"
)

// AppendEvents assigns monotonically increasing sequence numbers to events
// (all for the same case) and inserts them in one transaction. An advisory
// lock on the case id serializes concurrent appenders to the same case so
// seq never collides or gaps; different cases append fully in parallel.
// Every event's Content/Meta is passed through the redaction persistence
// gate before the insert — a match refuses the whole batch.
func (db *DB) AppendEvents(ctx context.Context, caseID uuid.UUID, events []model.CaseEvent) ([]model.CaseEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	for i := range events {
		if err := db.assertEventClean(events[i]); err != nil {
			return nil, err
		}
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin append events: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, caseID); err != nil {
		return nil, fmt.Errorf("storage: lock case for append: %w", err)
	}

	var nextSeq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM case_events WHERE case_id = $1`, caseID,
	).Scan(&nextSeq); err != nil {
		return nil, fmt.Errorf("storage: reserve seq: %w", err)
	}

	now := time.Now().UTC()
	rows := make([][]any, len(events))
	for i := range events {
		e := &events[i]
		e.CaseID = caseID
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.Ts.IsZero() {
			e.Ts = now
		}
		e.Seq = nextSeq + int64(i)

		rows[i] = []any{
			e.ID, e.CaseID, e.CourtRunID, e.Ts, e.Seq,
			string(e.ActorType), e.ActorID, e.Role, string(e.EventType),
			e.Content, e.Meta, e.Usage,
		}
	}

	columns := []string{
		"id", "case_id", "court_run_id", "ts", "seq",
		"actor_type", "actor_id", "role", "event_type",
		"content", "meta", "usage",
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"case_events"}, columns, pgx.CopyFromRows(rows)); err != nil {
		return nil, fmt.Errorf("storage: copy case events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit append events: %w", err)
	}
	return events, nil
}

func (db *DB) assertEventClean(e model.CaseEvent) error {
	if err := db.policy.AssertNoSensitiveData(e.Content); err != nil {
		return fmt.Errorf("storage: case event content: %w", err)
	}
	if e.Meta != nil {
		if err := db.policy.AssertNoSensitiveData(map[string]any(e.Meta)); err != nil {
			return fmt.Errorf("storage: case event meta: %w", err)
		}
	}
	return nil
}

// ListCaseEvents returns every event for a case ordered by (ts, seq), the
// journal's canonical order.
func (db *DB) ListCaseEvents(ctx context.Context, caseID uuid.UUID) ([]model.CaseEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, case_id, court_run_id, ts, seq, actor_type, actor_id, role, event_type, content, meta, usage
		 FROM case_events WHERE case_id = $1
		 ORDER BY ts ASC, seq ASC`, caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list case events: %w", err)
	}
	defer rows.Close()
	return scanCaseEvents(rows)
}

// ListCaseEventsByCourtRun returns only the events journaled by a specific
// court run, still in (ts, seq) order.
func (db *DB) ListCaseEventsByCourtRun(ctx context.Context, courtRunID uuid.UUID) ([]model.CaseEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, case_id, court_run_id, ts, seq, actor_type, actor_id, role, event_type, content, meta, usage
		 FROM case_events WHERE court_run_id = $1
		 ORDER BY ts ASC, seq ASC`, courtRunID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list case events by court run: %w", err)
	}
	defer rows.Close()
	return scanCaseEvents(rows)
}

func scanCaseEvents(rows pgx.Rows) ([]model.CaseEvent, error) {
	var events []model.CaseEvent
	for rows.Next() {
		var e model.CaseEvent
		var actorType, eventType string
		if err := rows.Scan(
			&e.ID, &e.CaseID, &e.CourtRunID, &e.Ts, &e.Seq,
			&actorType, &e.ActorID, &e.Role, &eventType,
			&e.Content, &e.Meta, &e.Usage,
		); err != nil {
			return nil, fmt.Errorf("storage: scan case event: %w", err)
		}
		e.ActorType = model.ActorType(actorType)
		e.EventType = model.EventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}
