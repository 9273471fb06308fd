// Package db persists analysis sessions, step reports and event logs in SQLite.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kkk0312/mdia/internal/analysis"
)

// ErrNotFound is returned when no analysis matches the requested id.
var ErrNotFound = errors.New("analysis not found")

// ErrAmbiguous is returned when an id prefix matches more than one analysis.
var ErrAmbiguous = errors.New("analysis id prefix is ambiguous")

// Fixed-width UTC timestamps keep lexical and chronological order equal.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// Store provides persistence for analyses.
type Store struct {
	db *sql.DB
}

// NewStore creates a store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Summary is the listing row of an analysis.
type Summary struct {
	ID          string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DocType     analysis.DocType
	Source      string
	Title       string
	Stage       analysis.Stage
	CurrentStep int
	TotalSteps  int
}

// SaveSession upserts the session snapshot and replaces its step reports in
// one transaction.
func (s *Store) SaveSession(ctx context.Context, sess *analysis.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin save session: %w", err)
	}
	p := sess.Progress
	if _, err := tx.ExecContext(ctx, `INSERT INTO analyses(id, created_at, updated_at, doc_type, source, title, stage, current_step, total_steps, session_json)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at=excluded.updated_at,
			title=excluded.title,
			stage=excluded.stage,
			current_step=excluded.current_step,
			total_steps=excluded.total_steps,
			session_json=excluded.session_json`,
		sess.ID, formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt), string(sess.DocType), sess.Source,
		sess.Title(), string(p.Stage), p.CurrentStep, p.TotalSteps, string(data)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert analysis: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM step_reports WHERE analysis_id=?`, sess.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear step reports: %w", err)
	}
	for i, r := range p.ExecutionReports {
		if _, err := tx.ExecContext(ctx, `INSERT INTO step_reports(analysis_id, step_index, full_step_id, module, name, status, report, tool_output)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, i, nullableString(r.FullStepID), r.Module, r.Name, string(r.Status), r.Report, nullableStringPtr(r.ToolOutput)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert step report %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save session: %w", err)
	}
	return nil
}

// AppendEvent appends ev to the event log of the analysis.
func (s *Store) AppendEvent(ctx context.Context, analysisID string, ev analysis.Event) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin append event: %w", err)
	}
	if err := s.insertEvent(ctx, tx, analysisID, ev); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append event: %w", err)
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, analysisID string, ev analysis.Event) error {
	seq, err := s.nextSeq(ctx, tx, analysisID)
	if err != nil {
		return err
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	var step any
	if ev.Step > 0 {
		step = ev.Step
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(analysis_id, seq, ts, type, step, message) VALUES(?, ?, ?, ?, ?, ?)`,
		analysisID, seq, formatTime(at), string(ev.Type), step, ev.Message); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, analysisID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE analysis_id=?`, analysisID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

// LoadSession returns the analysis with the given id.
func (s *Store) LoadSession(ctx context.Context, id string) (*analysis.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_json FROM analyses WHERE id=?`, id)
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read analysis: %w", err)
	}
	var sess analysis.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode analysis %s: %w", id, err)
	}
	return &sess, nil
}

// Latest returns the most recently created analysis.
func (s *Store) Latest(ctx context.Context) (*analysis.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id FROM analyses ORDER BY created_at DESC LIMIT 1`)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read latest analysis: %w", err)
	}
	return s.LoadSession(ctx, id)
}

// Resolve loads the analysis identified by a full id or a unique id prefix.
// An empty ref selects the latest analysis.
func (s *Store) Resolve(ctx context.Context, ref string) (*analysis.Session, error) {
	if ref == "" {
		return s.Latest(ctx)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM analyses WHERE id=? OR substr(id, 1, ?)=? LIMIT 2`, ref, len(ref), ref)
	if err != nil {
		return nil, fmt.Errorf("resolve analysis: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan analysis id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis ids: %w", err)
	}
	switch len(ids) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return s.LoadSession(ctx, ids[0])
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguous, ref)
	}
}

// List returns analyses, newest first. limit <= 0 lists all.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	query := `SELECT id, created_at, updated_at, doc_type, source, title, stage, current_step, total_steps
		FROM analyses ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			sum                  Summary
			createdAt, updatedAt string
			docType, stage       string
		)
		if err := rows.Scan(&sum.ID, &createdAt, &updatedAt, &docType, &sum.Source, &sum.Title, &stage, &sum.CurrentStep, &sum.TotalSteps); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		sum.CreatedAt, _ = parseTime(createdAt)
		sum.UpdatedAt, _ = parseTime(updatedAt)
		sum.DocType = analysis.DocType(docType)
		sum.Stage = analysis.Stage(stage)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return out, nil
}

// Events returns the event log of an analysis in sequence order.
func (s *Store) Events(ctx context.Context, analysisID string) ([]analysis.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, type, COALESCE(step, 0), message FROM events WHERE analysis_id=? ORDER BY seq`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []analysis.Event
	for rows.Next() {
		var (
			ev  analysis.Event
			ts  string
			typ string
		)
		if err := rows.Scan(&ev.Seq, &ts, &typ, &ev.Step, &ev.Message); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.At, _ = parseTime(ts)
		ev.Type = analysis.EventType(typ)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Delete removes an analysis with its step reports and events.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin delete analysis: %w", err)
	}
	if err := deleteAnalysis(ctx, tx, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete analysis: %w", err)
	}
	return nil
}

func deleteAnalysis(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE analysis_id=?`, id); err != nil {
		return fmt.Errorf("delete events of %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM step_reports WHERE analysis_id=?`, id); err != nil {
		return fmt.Errorf("delete step reports of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM analyses WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete analysis %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableStringPtr(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
