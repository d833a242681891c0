// Package store persists runs and incidents in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Gautam2086/SignalTrace/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// DefaultListLimit is used when ListRuns is called with a non-positive limit.
const DefaultListLimit = 50

// ErrNotFound is returned when a requested run or incident does not exist.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed run and incident store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveRun writes run and all of its incidents in one transaction.
func (s *Store) SaveRun(ctx context.Context, run model.Run, incidents []model.Incident) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, filename, num_lines, num_incidents) VALUES (?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.CreatedAt), run.Filename, run.NumLines, run.NumIncidents,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO incidents (
		incident_id, run_id, rank, signature, score, priority, severity, title, count,
		services_json, first_seen, last_seen, stats_json, evidence_json, explanation_json,
		used_llm, validation_errors_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare incident insert: %w", err)
	}
	defer stmt.Close()

	for i := range incidents {
		inc := &incidents[i]
		row, err := encodeIncident(inc)
		if err != nil {
			return fmt.Errorf("encode incident %s: %w", inc.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			inc.ID, run.ID, inc.Rank, inc.Signature, inc.Score, string(inc.Priority), string(inc.Severity),
			inc.Title, inc.Count, row.services, nullableTime(inc.FirstSeen), nullableTime(inc.LastSeen),
			row.stats, row.evidence, row.explanation, inc.UsedLLM, row.validationErrors,
		); err != nil {
			return fmt.Errorf("insert incident %s: %w", inc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, created_at, filename, num_lines, num_incidents
		 FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns the run with its incident summaries ordered by rank.
func (s *Store) GetRun(ctx context.Context, runID string) (*model.RunDetail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, created_at, filename, num_lines, num_incidents FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT incident_id, rank, title, severity, priority, score, count, services_json,
		        first_seen, last_seen, used_llm
		 FROM incidents WHERE run_id = ? ORDER BY rank ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	detail := &model.RunDetail{Run: run, Incidents: []model.IncidentSummary{}}
	for rows.Next() {
		var (
			sum                 model.IncidentSummary
			severity, priority  string
			services            string
			firstSeen, lastSeen sql.NullString
		)
		if err := rows.Scan(&sum.ID, &sum.Rank, &sum.Title, &severity, &priority, &sum.Score, &sum.Count,
			&services, &firstSeen, &lastSeen, &sum.UsedLLM); err != nil {
			return nil, fmt.Errorf("scan incident summary: %w", err)
		}
		sum.Severity = model.Level(severity)
		sum.Priority = model.Priority(priority)
		if err := json.Unmarshal([]byte(services), &sum.Services); err != nil {
			return nil, fmt.Errorf("decode services: %w", err)
		}
		sum.FirstSeen = parseNullableTime(firstSeen)
		sum.LastSeen = parseNullableTime(lastSeen)
		detail.Incidents = append(detail.Incidents, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return detail, nil
}

// GetIncident returns one incident of a run.
func (s *Store) GetIncident(ctx context.Context, runID, incidentID string) (*model.Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT incident_id, run_id, rank, signature, score, priority, severity, title, count,
		        services_json, first_seen, last_seen, stats_json, evidence_json, explanation_json,
		        used_llm, validation_errors_json
		 FROM incidents WHERE run_id = ? AND incident_id = ?`, runID, incidentID)

	var (
		inc                 model.Incident
		priority, severity  string
		firstSeen, lastSeen sql.NullString
		r                   incidentRow
	)
	err := row.Scan(&inc.ID, &inc.RunID, &inc.Rank, &inc.Signature, &inc.Score, &priority, &severity,
		&inc.Title, &inc.Count, &r.services, &firstSeen, &lastSeen, &r.stats, &r.evidence,
		&r.explanation, &inc.UsedLLM, &r.validationErrors)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	inc.Priority = model.Priority(priority)
	inc.Severity = model.Level(severity)
	inc.FirstSeen = parseNullableTime(firstSeen)
	inc.LastSeen = parseNullableTime(lastSeen)
	if err := r.decodeInto(&inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

// DeleteRun removes a run and, by cascade, its incidents.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (model.Run, error) {
	var (
		run       model.Run
		createdAt string
	)
	if err := row.Scan(&run.ID, &createdAt, &run.Filename, &run.NumLines, &run.NumIncidents); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("scan run: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return run, fmt.Errorf("parse created_at: %w", err)
	}
	run.CreatedAt = t
	return run, nil
}

// incidentRow holds the JSON-encoded columns of an incident.
type incidentRow struct {
	services         string
	stats            string
	evidence         string
	explanation      string
	validationErrors string
}

func encodeIncident(inc *model.Incident) (incidentRow, error) {
	var r incidentRow
	fields := []struct {
		dst *string
		v   any
	}{
		{&r.services, nonNil(inc.Services)},
		{&r.stats, inc.Stats},
		{&r.evidence, inc.Evidence},
		{&r.explanation, inc.Explanation},
		{&r.validationErrors, nonNil(inc.ValidationErrors)},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return r, err
		}
		*f.dst = string(b)
	}
	return r, nil
}

func (r incidentRow) decodeInto(inc *model.Incident) error {
	fields := []struct {
		name string
		src  string
		dst  any
	}{
		{"services", r.services, &inc.Services},
		{"stats", r.stats, &inc.Stats},
		{"evidence", r.evidence, &inc.Evidence},
		{"explanation", r.explanation, &inc.Explanation},
		{"validation_errors", r.validationErrors, &inc.ValidationErrors},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return fmt.Errorf("decode %s: %w", f.name, err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// timeLayout has a fixed-width fraction and is always UTC, so lexical order
// matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
