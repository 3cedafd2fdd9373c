// Command verify-judgement-hashes scans every stored judgement and
// recomputes its content_hash, reporting any row whose stored hash no
// longer matches — evidence the row was altered by something other than
// CreateJudgement.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./scripts/verify-judgement-hashes
//
// Read-only: mismatches are reported, never corrected. Silently rewriting
// a content_hash would defeat the point of a tamper-evident audit trail.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/retrocourt/retrocourt/internal/integrity"
	"github.com/retrocourt/retrocourt/internal/model"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx,
		`SELECT id, court_run_id, case_id, verdict, content_hash, created_at
		 FROM judgements
		 ORDER BY created_at ASC`)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var total, mismatched int
	for rows.Next() {
		var j model.Judgement
		if err := rows.Scan(&j.ID, &j.CourtRunID, &j.CaseID, &j.Verdict, &j.ContentHash, &j.CreatedAt); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		total++

		ok, err := integrity.VerifyJudgementHash(j.ContentHash, j.ID, j.CourtRunID, j.CaseID, j.Verdict, j.CreatedAt)
		if err != nil {
			return fmt.Errorf("verify judgement %s: %w", j.ID, err)
		}
		if !ok {
			mismatched++
			fmt.Printf("MISMATCH judgement=%s court_run=%s case=%s stored_hash=%s\n",
				j.ID, j.CourtRunID, j.CaseID, j.ContentHash)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}

	fmt.Printf("scanned %d judgements, %d hash mismatch(es)\n", total, mismatched)
	if mismatched > 0 {
		os.Exit(1)
	}
	return nil
}
