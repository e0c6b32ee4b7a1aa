// Package journal keeps a durable history of booking attempts in Postgres.
// The ledger stays the authority on what was booked; the journal is for
// after-the-fact inspection.
package journal

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/example/shift-scheduler/internal/db"
	"github.com/example/shift-scheduler/internal/errors"
)

// Outcome values beyond the workflow's own.
const OutcomeError = "error"

// Attempt is one workflow run for one partition.
type Attempt struct {
	ID             string
	CorrelationID  string
	Cycle          int64
	Partition      string
	Outcome        string
	CandidateID    string
	CandidateTitle string
	Reason         string
	Examined       int
	StartedAt      time.Time
	FinishedAt     time.Time
}

func (a Attempt) Duration() time.Duration { return a.FinishedAt.Sub(a.StartedAt) }

// Journal records attempts.
type Journal interface {
	Record(ctx context.Context, a Attempt) error
}

// Nop drops every attempt.
type Nop struct{}

func (Nop) Record(context.Context, Attempt) error { return nil }

// Store is the part of *db.DB the repo needs.
type Store interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (db.Rows, error)
}

type Repo struct {
	db Store
}

func NewRepo(d Store) *Repo {
	return &Repo{db: d}
}

// Record inserts a. A missing ID is filled with a new ULID so rows sort by
// creation time.
func (r *Repo) Record(ctx context.Context, a Attempt) error {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	err := r.db.Exec(ctx, `
INSERT INTO booking_attempts
  (id, correlation_id, cycle, partition_name, outcome, candidate_id, candidate_title, reason, examined, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),NULLIF($8,''),$9,$10,$11)
ON CONFLICT (id) DO NOTHING`,
		a.ID, a.CorrelationID, a.Cycle, a.Partition, a.Outcome,
		a.CandidateID, a.CandidateTitle, a.Reason, a.Examined, a.StartedAt, a.FinishedAt)
	if err != nil {
		return errors.Wrapf(err, "record attempt %s", a.CorrelationID)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (r *Repo) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
SELECT id, correlation_id, cycle, partition_name, outcome,
       COALESCE(candidate_id,''), COALESCE(candidate_title,''), COALESCE(reason,''),
       examined, started_at, finished_at
FROM booking_attempts
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query attempts")
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.CorrelationID, &a.Cycle, &a.Partition, &a.Outcome,
			&a.CandidateID, &a.CandidateTitle, &a.Reason, &a.Examined, &a.StartedAt, &a.FinishedAt); err != nil {
			return nil, errors.Wrap(err, "scan attempt")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate attempts")
	}
	return out, nil
}
