package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeRunning Outcome = "running"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Run is one maintenance run's ledger entry.
type Run struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      *time.Time
	Outcome         Outcome
	FailClass       string
	ChangesDetected bool
	BackupRan       bool
	SyncRan         bool
	ScrubRan        bool
	DiffCounts      map[string]int
	ErrorMessage    string
}

// Start inserts a new running entry and returns it.
func (s *Store) Start(ctx context.Context) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Outcome:   OutcomeRunning,
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (id, started_at, outcome) VALUES (?, ?, ?)`,
		run.ID,
		run.StartedAt.Format(time.RFC3339Nano),
		string(run.Outcome),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Finish stamps the end time and persists the run's final state. All
// mutable fields on run are written as they stand.
func (s *Store) Finish(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	now := time.Now().UTC()
	run.FinishedAt = &now

	var countsJSON any
	if len(run.DiffCounts) > 0 {
		data, err := json.Marshal(run.DiffCounts)
		if err != nil {
			return fmt.Errorf("marshal diff counts: %w", err)
		}
		countsJSON = string(data)
	}

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
         SET finished_at = ?, outcome = ?, fail_class = ?, changes_detected = ?,
             backup_ran = ?, sync_ran = ?, scrub_ran = ?, diff_counts_json = ?,
             error_message = ?
         WHERE id = ?`,
		nullableTime(run.FinishedAt),
		string(run.Outcome),
		nullableString(run.FailClass),
		boolToInt(run.ChangesDetected),
		boolToInt(run.BackupRan),
		boolToInt(run.SyncRan),
		boolToInt(run.ScrubRan),
		countsJSON,
		nullableString(run.ErrorMessage),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. Insertion order stands in
// for time order since entries are only ever appended.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

const runColumns = "id, started_at, finished_at, outcome, fail_class, changes_detected, backup_ran, sync_ran, scrub_ran, diff_counts_json, error_message"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id          string
		startedRaw  string
		finishedRaw sql.NullString
		outcome     string
		failClass   sql.NullString
		changes     sql.NullInt64
		backupRan   sql.NullInt64
		syncRan     sql.NullInt64
		scrubRan    sql.NullInt64
		countsRaw   sql.NullString
		errMessage  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&startedRaw,
		&finishedRaw,
		&outcome,
		&failClass,
		&changes,
		&backupRan,
		&syncRan,
		&scrubRan,
		&countsRaw,
		&errMessage,
	); err != nil {
		return nil, err
	}

	run := &Run{
		ID:              id,
		Outcome:         Outcome(outcome),
		FailClass:       failClass.String,
		ChangesDetected: changes.Int64 != 0,
		BackupRan:       backupRan.Int64 != 0,
		SyncRan:         syncRan.Int64 != 0,
		ScrubRan:        scrubRan.Int64 != 0,
		ErrorMessage:    errMessage.String,
	}

	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	if countsRaw.Valid && countsRaw.String != "" {
		var counts map[string]int
		if err := json.Unmarshal([]byte(countsRaw.String), &counts); err == nil {
			run.DiffCounts = counts
		}
	}
	return run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
