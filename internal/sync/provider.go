package sync

import (
	"context"
	"errors"
	"time"

	"github.com/Martian-dev/inbox-triage/internal/cursor"
	"github.com/Martian-dev/inbox-triage/internal/mailbox"
	"github.com/Martian-dev/inbox-triage/internal/model"
)

var (
	// ErrRunInProgress is returned when a run is requested while one is active.
	ErrRunInProgress = errors.New("sync: run already in progress")
	// ErrNoOwnAddress is returned when the mailbox cannot report its owner.
	ErrNoOwnAddress = errors.New("sync: mailbox returned no own address")
)

// Mode is how candidates were queried.
type Mode string

const (
	ModeBootstrap   Mode = "bootstrap"
	ModeIncremental Mode = "incremental"
)

// Run steps, reported to observers as they are entered.
const (
	StepLoadCursor     = "load_cursor"
	StepConnect        = "connect"
	StepDetermineMode  = "determine_mode"
	StepListCandidates = "list_candidates"
	StepNormalize      = "normalize_all"
	StepFilter         = "filter_eligible"
	StepProcess        = "process_each"
	StepPersist        = "persist_cursor"
	StepDone           = "done"
	StepError          = "error"
)

// Connector opens a fresh mailbox connection for one run.
type Connector func(ctx context.Context) (mailbox.Port, error)

// CursorStore loads and saves the run checkpoint.
type CursorStore interface {
	Load() (cursor.Cursor, error)
	Save(cursor.Cursor) error
}

// Classifier maps a message to its classification.
type Classifier interface {
	Classify(msg model.Message) model.Classification
}

// Journal keeps an audit trail of runs. Failures are logged, never fatal.
type Journal interface {
	BeginRun(ctx context.Context, s Summary) error
	RecordProcessed(ctx context.Context, runID string, msg model.Message, c model.Classification, actions []model.Action) error
	RecordError(ctx context.Context, runID, messageID, stage string, cause error) error
	FinishRun(ctx context.Context, s Summary) error
}

// Observer receives live progress for status reporting.
type Observer interface {
	Step(runID, step, detail string)
	MessageError(runID, messageID string, err error)
	Processed(runID string, msg model.Message, c model.Classification)
}

// MessageError is one entry of the bounded per-run error log.
type MessageError struct {
	MessageID string `json:"message_id"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

// Summary is the machine-readable result of one run.
type Summary struct {
	RunID           string         `json:"run_id"`
	Mode            Mode           `json:"mode"`
	Query           string         `json:"query"`
	Processed       int            `json:"processed"`
	SkippedDeleted  int            `json:"skipped_deleted"`
	Errors          int            `json:"errors"`
	ActionErrors    int            `json:"action_errors"`
	LatestTimestamp *int64         `json:"latest_timestamp"`
	MessageIDsSeen  int            `json:"message_ids_seen"`
	RunCount        int            `json:"run_count"`
	DryRun          bool           `json:"dry_run"`
	Cancelled       bool           `json:"cancelled"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	ErrorLog        []MessageError `json:"error_log,omitempty"`
	// Error is set only on summaries handed to the journal for failed runs.
	Error string `json:"error,omitempty"`
}
