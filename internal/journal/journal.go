// File: internal/journal/journal.go
// Brief: SQLite-backed run journal for scope events.

// Package journal persists unwind runs and their scope event streams in a
// local sqlite database. Events are chained with per-event digests so a run
// record can later be verified for tampering.
package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	_ "modernc.org/sqlite"

	"github.com/kubekattle/unwind/pkg/scope"
)

// Run is one journaled run of a plan.
type Run struct {
	RunID     string
	Plan      string
	Status    string
	CreatedAt string
	UpdatedAt string
	Error     string
}

// StoredEvent is one journaled scope event plus its chain position.
type StoredEvent struct {
	Seq    int64
	Event  scope.Event
	Digest string
}

// ErrNoRuns is returned when a lookup needs at least one journaled run and
// the journal is empty.
var ErrNoRuns = errors.New("journal has no runs")

// Store is a sqlite-backed run journal. It is safe for use from a single
// goroutine, matching how scope stacks are driven.
type Store struct {
	db   *sql.DB
	path string
	log  logr.Logger
}

// Open opens (creating if needed) the journal database at path.
func Open(ctx context.Context, path string, log logr.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: path, log: log}
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path reports where the journal database lives.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS unwind_runs (
  run_id TEXT PRIMARY KEY,
  plan_name TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL,
  error TEXT NOT NULL,
  last_event_digest TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS unwind_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  ts_ns INTEGER NOT NULL,
  type TEXT NOT NULL,
  entry_index INTEGER NOT NULL,
  strategy TEXT NOT NULL,
  label TEXT NOT NULL,
  error TEXT NOT NULL,
  digest TEXT NOT NULL,
  UNIQUE (run_id, seq),
  FOREIGN KEY (run_id) REFERENCES unwind_runs(run_id) ON DELETE CASCADE
);`,
		`CREATE INDEX IF NOT EXISTS idx_unwind_events_run_id_id ON unwind_events(run_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// BeginRun records a new run in "running" state.
func (s *Store) BeginRun(ctx context.Context, runID, planName string) error {
	now := time.Now().UTC().UnixNano()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO unwind_runs (run_id, plan_name, status, created_at_ns, updated_at_ns, error, last_event_digest)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, runID, planName, "running", now, now, "", "")
	if err != nil {
		return fmt.Errorf("begin run %s: %w", runID, err)
	}
	return nil
}

// AppendEvent journals one scope event, extending the run's digest chain.
func (s *Store) AppendEvent(ctx context.Context, runID string, ev scope.Event) error {
	ts, err := time.Parse(time.RFC3339Nano, ev.TS)
	if err != nil {
		ts = time.Now().UTC()
	}
	// Digest the normalized form so verification can rebuild it from rows.
	ev.TS = ts.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	var prev string
	row := tx.QueryRowContext(ctx, `
SELECT seq, digest FROM unwind_events WHERE run_id = ? ORDER BY seq DESC LIMIT 1
`, runID)
	switch err := row.Scan(&seq, &prev); {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		seq, prev = 0, ""
	default:
		return err
	}
	seq++

	digest := eventDigest(prev, seq, ev)
	_, err = tx.ExecContext(ctx, `
INSERT INTO unwind_events (run_id, seq, ts_ns, type, entry_index, strategy, label, error, digest)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, runID, seq, ts.UnixNano(), string(ev.Type), ev.Index, ev.Strategy, ev.Label, ev.Error, digest)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
UPDATE unwind_runs SET last_event_digest = ?, updated_at_ns = ? WHERE run_id = ?
`, digest, time.Now().UTC().UnixNano(), runID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// FinishRun moves a run to its terminal status.
func (s *Store) FinishRun(ctx context.Context, runID, status, errText string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE unwind_runs SET status = ?, error = ?, updated_at_ns = ? WHERE run_id = ?
`, status, errText, time.Now().UTC().UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// GetRun loads one run record.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, plan_name, status, created_at_ns, updated_at_ns, error
FROM unwind_runs WHERE run_id = ?
`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return r, err
}

// MostRecentRunID reports the newest journaled run.
func (s *Store) MostRecentRunID(ctx context.Context) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `
SELECT run_id FROM unwind_runs ORDER BY created_at_ns DESC LIMIT 1
`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRuns
	}
	return runID, err
}

// ListRuns returns the newest runs first. A non-positive limit means 20.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, plan_name, status, created_at_ns, updated_at_ns, error
FROM unwind_runs
ORDER BY created_at_ns DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListEvents returns a run's events in chain order.
func (s *Store) ListEvents(ctx context.Context, runID string) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, ts_ns, type, entry_index, strategy, label, error, digest
FROM unwind_events
WHERE run_id = ?
ORDER BY seq ASC
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredEvent
	for rows.Next() {
		var se StoredEvent
		var tsNS int64
		var typ string
		if err := rows.Scan(&se.Seq, &tsNS, &typ, &se.Event.Index, &se.Event.Strategy, &se.Event.Label, &se.Event.Error, &se.Digest); err != nil {
			return nil, err
		}
		se.Event.TS = time.Unix(0, tsNS).UTC().Format(time.RFC3339Nano)
		se.Event.Type = scope.EventType(typ)
		out = append(out, se)
	}
	return out, rows.Err()
}

// VerifyRun recomputes the run's digest chain and compares it to the stored
// digests, reporting the first event that does not match.
func (s *Store) VerifyRun(ctx context.Context, runID string) error {
	events, err := s.ListEvents(ctx, runID)
	if err != nil {
		return err
	}
	prev := ""
	for _, se := range events {
		if want := eventDigest(prev, se.Seq, se.Event); se.Digest != want {
			return fmt.Errorf("run %s: event %d digest mismatch", runID, se.Seq)
		}
		prev = se.Digest
	}

	var stored string
	err = s.db.QueryRowContext(ctx, `
SELECT last_event_digest FROM unwind_runs WHERE run_id = ?
`, runID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return err
	}
	if stored != prev {
		return fmt.Errorf("run %s: stored last event digest does not match chain head", runID)
	}
	return nil
}

// Recorder returns an observer that journals every scope event under runID.
// Journal write failures are logged, never propagated into the unwind.
func (s *Store) Recorder(ctx context.Context, runID string) scope.EventObserver {
	return scope.EventObserverFunc(func(ev scope.Event) {
		if err := s.AppendEvent(ctx, runID, ev); err != nil {
			s.log.Error(err, "append journal event", "runID", runID, "type", string(ev.Type))
		}
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var createdNS, updatedNS int64
	if err := row.Scan(&r.RunID, &r.Plan, &r.Status, &createdNS, &updatedNS, &r.Error); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, createdNS).UTC().Format(time.RFC3339Nano)
	r.UpdatedAt = time.Unix(0, updatedNS).UTC().Format(time.RFC3339Nano)
	return &r, nil
}

func eventDigest(prev string, seq int64, ev scope.Event) string {
	payload, _ := json.Marshal(ev)
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%d\n", prev, seq)
	h.Write(payload)
	return fmt.Sprintf("sha256:%x", h.Sum(nil))
}
