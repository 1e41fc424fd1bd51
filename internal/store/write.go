package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/pcielane/internal/sim"
)

// Run is one stored simulation.
type Run struct {
	ID       string
	Scenario string

	// Config is the resolved bench configuration as JSON.
	Config json.RawMessage

	// ConfigHash is set by WriteRun from Config.
	ConfigHash string

	Duration time.Duration

	// Pass is nil for plain runs and set for scenario runs with assertions.
	Pass *bool

	// FirstSeq and LastSeq bound the seqs of the run's edges.
	FirstSeq int64
	LastSeq  int64

	Counters map[string]uint64
}

// WriteRun persists a run.
// Idempotent: writing the same run ID twice is a no-op.
func (s *Store) WriteRun(ctx context.Context, r Run) error {
	config := r.Config
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	counters, err := marshalCounters(r.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}

	var pass sql.NullBool
	if r.Pass != nil {
		pass = sql.NullBool{Bool: *r.Pass, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, config, config_hash, duration_ns, pass, first_seq, last_seq, counters)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, r.Scenario, string(config), ConfigHash(config), int64(r.Duration), pass, r.FirstSeq, r.LastSeq, counters)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteTransitions persists a run's trace in one transaction.
// Idempotent: a (run, seq, signal) already stored is skipped.
func (s *Store) WriteTransitions(ctx context.Context, runID string, trace []sim.Transition) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transitions (run_id, seq, time_ns, domain, tick, signal, value)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq, signal) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare transition insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trace {
		if _, err = stmt.ExecContext(ctx, runID, t.Seq, int64(t.Time), t.Domain, t.Tick, t.Signal, t.Value); err != nil {
			return fmt.Errorf("write transition seq=%d signal=%s: %w", t.Seq, t.Signal, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transitions: %w", err)
	}
	return nil
}

func marshalCounters(c map[string]uint64) (string, error) {
	if c == nil {
		return "{}", nil
	}
	// encoding/json sorts map keys, so the stored text is stable.
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
