package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Martian-dev/inbox-triage/internal/analysis"
	"github.com/Martian-dev/inbox-triage/internal/model"
	triagesync "github.com/Martian-dev/inbox-triage/internal/sync"
)

//go:embed schema.sql
var schemaSQL string

// Event types written to the outbox.
const (
	EventMessageClassified   = "message.classified"
	EventApplicationAnalyzed = "application.analyzed"

	DefaultSubjectPrefix = "triage"
)

// Store is the local run journal, analysis ledger and event outbox
type Store struct {
	DB *sql.DB

	// SubjectPrefix is prepended to event types to form broker subjects.
	SubjectPrefix string
}

// OutboxMessage represents a message in the outbox
type OutboxMessage struct {
	ID        int64
	Subject   string
	EventType string
	Payload   []byte
	MsgID     string
	Retries   int
}

// ClassifiedEvent is published for every message the pipeline handled.
type ClassifiedEvent struct {
	EventID    string         `json:"event_id"`
	Type       string         `json:"type"`
	RunID      string         `json:"run_id"`
	MessageID  string         `json:"message_id"`
	Timestamp  int64          `json:"timestamp"`
	Sender     string         `json:"sender"`
	Subject    string         `json:"subject"`
	Category   model.Category `json:"category"`
	Rule       string         `json:"rule"`
	Labels     []string       `json:"labels"`
	Actions    []model.Action `json:"actions"`
	Summary    []string       `json:"summary"`
	Todos      []string       `json:"todos"`
	Notes      []string       `json:"notes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// AnalyzedEvent is published once per analyzed application message.
type AnalyzedEvent struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	MessageID  string          `json:"message_id"`
	Fields     analysis.Fields `json:"fields"`
	RecordPath string          `json:"record_path,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// RunRecord is one row of the run journal.
type RunRecord struct {
	RunID           string     `json:"run_id"`
	Mode            string     `json:"mode"`
	Query           string     `json:"query"`
	Status          string     `json:"status"`
	DryRun          bool       `json:"dry_run"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	Processed       int        `json:"processed"`
	SkippedDeleted  int        `json:"skipped_deleted"`
	Errors          int        `json:"errors"`
	ActionErrors    int        `json:"action_errors"`
	MessageIDsSeen  int        `json:"message_ids_seen"`
	LatestTimestamp *int64     `json:"latest_timestamp"`
	RunCount        int        `json:"run_count"`
}

// Run statuses.
const (
	StatusRunning   = "running"
	StatusOK        = "ok"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Open opens or creates the journal database
func Open(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database with optimized settings
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	// Apply schema
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{DB: db, SubjectPrefix: DefaultSubjectPrefix}, nil
}

// addedColumns lists columns introduced after the first schema, keyed by table.
var addedColumns = map[string][]string{
	"processed_messages": {
		"summary_json TEXT NOT NULL DEFAULT '[]'",
		"todos_json TEXT NOT NULL DEFAULT '[]'",
	},
}

// migrate adds columns missing from journals created by older versions
func migrate(db *sql.DB) error {
	for table, cols := range addedColumns {
		existing := make(map[string]bool)
		rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return fmt.Errorf("failed to inspect %s: %w", table, err)
			}
			existing[name] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}

		for _, def := range cols {
			name := strings.Fields(def)[0]
			if existing[name] {
				continue
			}
			if _, err := db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + def); err != nil {
				return fmt.Errorf("failed to add %s.%s: %w", table, name, err)
			}
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) subject(eventType string) string {
	prefix := s.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + eventType
}

// BeginRun inserts a running journal row
func (s *Store) BeginRun(ctx context.Context, sum triagesync.Summary) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (run_id, mode, query, status, dry_run, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sum.RunID, string(sum.Mode), sum.Query, StatusRunning, boolInt(sum.DryRun), sum.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to begin run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters of a run
func (s *Store) FinishRun(ctx context.Context, sum triagesync.Summary) error {
	status := StatusOK
	switch {
	case sum.Error != "":
		status = StatusFailed
	case sum.Cancelled:
		status = StatusCancelled
	}

	var latest sql.NullInt64
	if sum.LatestTimestamp != nil {
		latest = sql.NullInt64{Int64: *sum.LatestTimestamp, Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = ?,
		    query = ?,
		    finished_at = ?,
		    processed = ?,
		    skipped_deleted = ?,
		    errors = ?,
		    action_errors = ?,
		    message_ids_seen = ?,
		    latest_ts = ?,
		    run_count = ?
		WHERE run_id = ?
	`, status, sum.Query, sum.FinishedAt.UnixMilli(), sum.Processed, sum.SkippedDeleted, sum.Errors,
		sum.ActionErrors, sum.MessageIDsSeen, latest, sum.RunCount, sum.RunID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RecordProcessed journals a handled message and, outside dry runs, queues
// its classified event in the same transaction
func (s *Store) RecordProcessed(ctx context.Context, runID string, msg model.Message, c model.Classification, actions []model.Action) error {
	labelsJSON, err := json.Marshal(nonNil(c.Labels))
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}
	summaryJSON, err := json.Marshal(nonNil(c.Summary))
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	todosJSON, err := json.Marshal(nonNil(c.Todos))
	if err != nil {
		return fmt.Errorf("failed to marshal todos: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO processed_messages
		(run_id, message_id, msg_ts, sender, subject, category, rule, labels_json, actions_json, summary_json, todos_json, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, msg.ID, msg.Timestamp, msg.Sender, msg.Subject, string(c.Category), c.Rule,
		string(labelsJSON), string(actionsJSON), string(summaryJSON), string(todosJSON), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert processed message: %w", err)
	}

	var dryRun int
	err = tx.QueryRowContext(ctx, `SELECT dry_run FROM runs WHERE run_id = ?`, runID).Scan(&dryRun)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to look up run: %w", err)
	}

	if dryRun == 0 {
		ev := ClassifiedEvent{
			EventID:    uuid.NewString(),
			Type:       EventMessageClassified,
			RunID:      runID,
			MessageID:  msg.ID,
			Timestamp:  msg.Timestamp,
			Sender:     msg.Sender,
			Subject:    msg.Subject,
			Category:   c.Category,
			Rule:       c.Rule,
			Labels:     nonNil(c.Labels),
			Actions:    actions,
			Summary:    nonNil(c.Summary),
			Todos:      nonNil(c.Todos),
			Notes:      c.Notes,
			OccurredAt: now.UTC(),
		}
		if err := s.appendOutboxTx(ctx, tx, ev.Type, ev, ev.EventID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordError journals a per-message failure
func (s *Store) RecordError(ctx context.Context, runID, messageID, stage string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO run_errors (run_id, message_id, stage, error, ts)
		VALUES (?, ?, ?, ?, ?)
	`, runID, messageID, stage, msg, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

// AnalysisRecorded reports whether a message was already analyzed
func (s *Store) AnalysisRecorded(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM analyses WHERE message_id = ?
	`, messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query analyses: %w", err)
	}
	return n > 0, nil
}

// RecordAnalysis stores extracted fields and queues an analyzed event
func (s *Store) RecordAnalysis(ctx context.Context, messageID string, f analysis.Fields, recordPath string) error {
	fieldsJSON, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	// The primary key keeps a message from being recorded twice
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO analyses (message_id, company, status, confidence, fields_json, record_path, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, messageID, f.CompanyName(), string(f.Status), f.Confidence, string(fieldsJSON), recordPath, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	ev := AnalyzedEvent{
		EventID:    uuid.NewString(),
		Type:       EventApplicationAnalyzed,
		MessageID:  messageID,
		Fields:     f,
		RecordPath: recordPath,
		OccurredAt: now.UTC(),
	}
	if err := s.appendOutboxTx(ctx, tx, ev.Type, ev, ev.EventID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) appendOutboxTx(ctx context.Context, tx *sql.Tx, eventType string, event any, msgID string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, now, s.subject(eventType), eventType, payload, msgID, now)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}

// DequeueOutbox fetches unpublished messages from outbox
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	now := time.Now().Unix()

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, subject, event_type, payload, msg_id, retries
		FROM outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Subject, &msg.EventType, &msg.Payload, &msg.MsgID, &msg.Retries); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkPublished marks an outbox message as published
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE outbox SET published_at = ? WHERE id = ?
	`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}

	return nil
}

// MarkOutboxRetry updates retry count and next attempt time
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?
	`, time.Now().Add(backoff).Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}

	return nil
}

// RecentRuns returns the newest runs first
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT run_id, mode, query, status, dry_run, started_at, finished_at,
		       processed, skipped_deleted, errors, action_errors, message_ids_seen, latest_ts, run_count
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var (
			r        RunRecord
			dryRun   int
			started  int64
			finished sql.NullInt64
			latest   sql.NullInt64
		)
		if err := rows.Scan(&r.RunID, &r.Mode, &r.Query, &r.Status, &dryRun, &started, &finished,
			&r.Processed, &r.SkippedDeleted, &r.Errors, &r.ActionErrors, &r.MessageIDsSeen, &latest, &r.RunCount); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.DryRun = dryRun != 0
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			t := time.UnixMilli(finished.Int64).UTC()
			r.FinishedAt = &t
		}
		if latest.Valid {
			v := latest.Int64
			r.LatestTimestamp = &v
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// RunErrors returns the journaled errors of one run in insertion order
func (s *Store) RunErrors(ctx context.Context, runID string) ([]triagesync.MessageError, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT message_id, stage, error FROM run_errors WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run errors: %w", err)
	}
	defer rows.Close()

	out := []triagesync.MessageError{}
	for rows.Next() {
		var e triagesync.MessageError
		if err := rows.Scan(&e.MessageID, &e.Stage, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var (
	_ triagesync.Journal = (*Store)(nil)
	_ analysis.Ledger    = (*Store)(nil)
)
