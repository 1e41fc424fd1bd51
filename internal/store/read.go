package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/pcielane/internal/sim"
)

// ErrRunNotFound is returned by ReadRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, scenario, config, config_hash, duration_ns, pass, first_seq, last_seq, counters`

// ReadRun retrieves a single run by ID.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns every stored run, oldest first.
// Run IDs are UUIDv7 so ordering by ID is ordering by creation.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	return s.queryRuns(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
}

// ListRunsByConfig returns the runs whose config hash starts with prefix,
// oldest first.
func (s *Store) ListRunsByConfig(ctx context.Context, prefix string) ([]Run, error) {
	return s.queryRuns(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE substr(config_hash, 1, length(?1)) = ?1
		ORDER BY id COLLATE BINARY ASC
	`, prefix)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	// Return empty slice instead of nil for consistency
	if runs == nil {
		runs = []Run{}
	}
	return runs, nil
}

// ReadTransitions returns a run's trace in seq order. An empty signal
// returns every signal.
func (s *Store) ReadTransitions(ctx context.Context, runID, signal string) ([]sim.Transition, error) {
	query := `
		SELECT seq, time_ns, domain, tick, signal, value
		FROM transitions
		WHERE run_id = ?`
	args := []any{runID}
	if signal != "" {
		query += ` AND signal = ?`
		args = append(args, signal)
	}
	query += `
		ORDER BY seq ASC, signal COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var trace []sim.Transition
	for rows.Next() {
		var t sim.Transition
		var ns int64
		if err := rows.Scan(&t.Seq, &ns, &t.Domain, &t.Tick, &t.Signal, &t.Value); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Time = time.Duration(ns)
		trace = append(trace, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}

	if trace == nil {
		trace = []sim.Transition{}
	}
	return trace, nil
}

// MaxSeq returns the highest seq any stored run reached, or 0 for an empty
// store. A new run continues numbering from here.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(last_seq) FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq.Int64, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r        Run
		config   string
		ns       int64
		pass     sql.NullBool
		counters string
	)
	if err := sc.Scan(&r.ID, &r.Scenario, &config, &r.ConfigHash, &ns, &pass, &r.FirstSeq, &r.LastSeq, &counters); err != nil {
		return Run{}, err
	}
	r.Config = json.RawMessage(config)
	r.Duration = time.Duration(ns)
	if pass.Valid {
		p := pass.Bool
		r.Pass = &p
	}
	if err := json.Unmarshal([]byte(counters), &r.Counters); err != nil {
		return Run{}, fmt.Errorf("unmarshal counters: %w", err)
	}
	return r, nil
}
