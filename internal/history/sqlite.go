// Package history archives finished hydration attempts to SQLite. It
// is an optional sink fed by lifecycle events; the scheduler core
// itself stays memory-resident and never reads this store.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"hydroflow/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS hydration_attempts (
  id TEXT PRIMARY KEY,
  boundary_id TEXT NOT NULL,
  state TEXT NOT NULL CHECK(state IN ('hydrated','error')),
  priority TEXT NOT NULL,
  trigger_kind TEXT NOT NULL,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  replayed INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  occurred_at DATETIME NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_attempts_boundary ON hydration_attempts(boundary_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_attempts_state ON hydration_attempts(state, occurred_at);
`
	_, err := db.Exec(schema)
	return err
}

// Attempt is one archived hydration outcome.
type Attempt struct {
	ID         string
	BoundaryID string
	State      string
	Priority   string
	Trigger    string
	Duration   time.Duration
	Replayed   int
	Error      string
	OccurredAt time.Time
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Record inserts one attempt, assigning a prefixed id when absent.
func (s *Store) Record(ctx context.Context, a Attempt) (string, error) {
	id := a.ID
	if id == "" {
		id = "att_" + uuid.NewString()
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now()
	}
	var errStr any
	if a.Error != "" {
		errStr = a.Error
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO hydration_attempts (id,boundary_id,state,priority,trigger_kind,duration_ms,replayed,error,occurred_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP)
`, id, a.BoundaryID, a.State, a.Priority, a.Trigger, a.Duration.Milliseconds(), a.Replayed, errStr, a.OccurredAt)
	return id, err
}

// ListRecent returns the newest attempts first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id,boundary_id,state,priority,trigger_kind,duration_ms,replayed,error,occurred_at
FROM hydration_attempts ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var durMS int64
		var errStr sql.NullString
		if err := rows.Scan(&a.ID, &a.BoundaryID, &a.State, &a.Priority, &a.Trigger, &durMS, &a.Replayed, &errStr, &a.OccurredAt); err != nil {
			return nil, err
		}
		a.Duration = time.Duration(durMS) * time.Millisecond
		if errStr.Valid {
			a.Error = errStr.String
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CountByState tallies archived attempts per terminal state.
func (s *Store) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT state, COUNT(*) FROM hydration_attempts GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// AttemptFromEvent maps a completion or error lifecycle event to an
// archivable attempt. ok is false for other event kinds.
func AttemptFromEvent(e domain.Event) (Attempt, bool) {
	switch e.Kind {
	case domain.EventHydrationComplete, domain.EventHydrationError:
	default:
		return Attempt{}, false
	}
	return Attempt{
		BoundaryID: e.Boundary.String(),
		State:      string(e.State),
		Priority:   e.Priority.String(),
		Trigger:    string(e.Trigger),
		Duration:   e.Duration,
		Replayed:   e.Replayed,
		Error:      e.Err,
		OccurredAt: e.At,
	}, true
}
