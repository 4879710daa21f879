package commissioning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
)

// defaultListLimit caps ListRuns when no limit is given.
const defaultListLimit = 50

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Repository defines persistence for commissioning runs.
type Repository interface {
	// SaveRun inserts or replaces a run and its assignments.
	SaveRun(ctx context.Context, r *Result) error

	// GetRun retrieves one run. Returns ErrRunNotFound if it does not exist.
	GetRun(ctx context.Context, id string) (*Result, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]Result, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveRun writes the run and its assignments in one transaction.
func (r *SQLiteRepository) SaveRun(ctx context.Context, res *Result) error {
	used, err := json.Marshal(res.Used)
	if err != nil {
		return fmt.Errorf("encoding used addresses: %w", err)
	}
	unassigned, err := json.Marshal(orEmpty(res.Unassigned))
	if err != nil {
		return fmt.Errorf("encoding unassigned: %w", err)
	}
	failures, err := json.Marshal(orEmpty(res.VerificationFailures))
	if err != nil {
		return fmt.Errorf("encoding verification failures: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO commissioning_runs (
			id, started_at, finished_at, phase, used_addresses, unassigned,
			verification_failures, probes, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID,
		res.StartedAt.UTC().Format(timeLayout),
		nullableTime(res.FinishedAt),
		string(res.Phase),
		string(used),
		string(unassigned),
		string(failures),
		res.Probes,
		nullableString(res.Error),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM commissioning_assignments WHERE run_id = ?`, res.RunID); err != nil {
		return fmt.Errorf("clearing assignments: %w", err)
	}

	for i, a := range res.Assignments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO commissioning_assignments (run_id, seq, random_address, short_address, verified)
			VALUES (?, ?, ?, ?, ?)`,
			res.RunID, i, int64(a.Random), int(a.Short), boolToInt(a.Verified))
		if err != nil {
			return fmt.Errorf("inserting assignment %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Result, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, phase, used_addresses, unassigned,
			verification_failures, probes, error
		FROM commissioning_runs
		WHERE id = ?`, id)

	res, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run by id: %w", err)
	}

	if err := r.loadAssignments(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListRuns returns recent runs with their assignments, newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, phase, used_addresses, unassigned,
			verification_failures, probes, error
		FROM commissioning_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Result
	for rows.Next() {
		res, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	for i := range runs {
		if err := r.loadAssignments(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (r *SQLiteRepository) loadAssignments(ctx context.Context, res *Result) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT random_address, short_address, verified
		FROM commissioning_assignments
		WHERE run_id = ?
		ORDER BY seq`, res.RunID)
	if err != nil {
		return fmt.Errorf("querying assignments: %w", err)
	}
	defer rows.Close()

	res.Assignments = []Assignment{}
	for rows.Next() {
		var random int64
		var short, verified int
		if err := rows.Scan(&random, &short, &verified); err != nil {
			return fmt.Errorf("scanning assignment: %w", err)
		}
		res.Assignments = append(res.Assignments, Assignment{
			Random:   dali.RandomAddress(random), //nolint:gosec // CHECK constraint bounds the column
			Short:    dali.ShortAddress(short),   //nolint:gosec // CHECK constraint bounds the column
			Verified: verified != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating assignments: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Result, error) {
	var (
		res                        Result
		startedAt, phase           string
		finishedAt, errText        sql.NullString
		used, unassigned, failures string
	)

	if err := row.Scan(&res.RunID, &startedAt, &finishedAt, &phase, &used, &unassigned,
		&failures, &res.Probes, &errText); err != nil {
		return nil, err
	}

	var err error
	if res.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if finishedAt.Valid {
		if res.FinishedAt, err = time.Parse(timeLayout, finishedAt.String); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
	}
	res.Phase = Phase(phase)
	res.Error = errText.String

	if err := json.Unmarshal([]byte(used), &res.Used); err != nil {
		return nil, fmt.Errorf("decoding used addresses: %w", err)
	}
	if err := json.Unmarshal([]byte(unassigned), &res.Unassigned); err != nil {
		return nil, fmt.Errorf("decoding unassigned: %w", err)
	}
	if err := json.Unmarshal([]byte(failures), &res.VerificationFailures); err != nil {
		return nil, fmt.Errorf("decoding verification failures: %w", err)
	}
	if len(res.Unassigned) == 0 {
		res.Unassigned = nil
	}
	if len(res.VerificationFailures) == 0 {
		res.VerificationFailures = nil
	}
	return &res, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
