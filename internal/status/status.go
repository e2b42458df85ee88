// Package status keeps a live, goroutine-safe view of the current run for
// the service API.
package status

import (
	stdsync "sync"
	"time"

	"github.com/Martian-dev/inbox-triage/internal/model"
	triagesync "github.com/Martian-dev/inbox-triage/internal/sync"
)

// RecentLimit bounds the recent action and error windows.
const RecentLimit = 50

// State of the run lifecycle.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

// ActionEntry is one attempted action.
type ActionEntry struct {
	Kind      model.ActionKind `json:"kind"`
	MessageID string           `json:"message_id"`
	Label     string           `json:"label,omitempty"`
	DryRun    bool             `json:"dry_run"`
	Error     string           `json:"error,omitempty"`
	At        time.Time        `json:"at"`
}

// ErrorEntry is one per-message failure.
type ErrorEntry struct {
	RunID     string    `json:"run_id"`
	MessageID string    `json:"message_id"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// Snapshot is a copy of the status safe to hand to callers.
type Snapshot struct {
	State         State               `json:"state"`
	RunID         string              `json:"run_id,omitempty"`
	Step          string              `json:"step"`
	Detail        string              `json:"detail,omitempty"`
	Metrics       map[string]int      `json:"metrics"`
	Summary       *triagesync.Summary `json:"summary,omitempty"`
	RecentActions []ActionEntry       `json:"recent_actions"`
	RecentErrors  []ErrorEntry        `json:"recent_errors"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Store holds the live status.
type Store struct {
	mu  stdsync.Mutex
	cur Snapshot
	now func() time.Time
}

// NewStore returns an idle store.
func NewStore() *Store {
	s := &Store{now: time.Now}
	s.cur = Snapshot{
		State:         StateIdle,
		Step:          string(StateIdle),
		Metrics:       map[string]int{},
		RecentActions: []ActionEntry{},
		RecentErrors:  []ErrorEntry{},
		UpdatedAt:     s.now().UTC(),
	}
	return s
}

// Started resets per-run fields for a new run. The recent windows survive.
func (s *Store) Started() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.State = StateRunning
	s.cur.RunID = ""
	s.cur.Step = "starting"
	s.cur.Detail = "Starting run"
	s.cur.Metrics = map[string]int{}
	s.cur.Summary = nil
	s.touch()
}

// Step implements sync.Observer.
func (s *Store) Step(runID, step, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.RunID = runID
	s.cur.Step = step
	s.cur.Detail = detail
	if step != triagesync.StepError {
		s.cur.State = StateRunning
	}
	s.touch()
}

// MessageError implements sync.Observer.
func (s *Store) MessageError(runID, messageID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.cur.Metrics["errors"]++
	s.cur.RecentErrors = appendBounded(s.cur.RecentErrors, ErrorEntry{
		RunID:     runID,
		MessageID: messageID,
		Error:     msg,
		At:        s.now().UTC(),
	})
	s.touch()
}

// Processed implements sync.Observer.
func (s *Store) Processed(_ string, _ model.Message, c model.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Metrics["processed"]++
	s.cur.Metrics[string(c.Category)]++
	s.touch()
}

// ObserveAction matches actions.Observer.
func (s *Store) ObserveAction(a model.Action, dryRun bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := ActionEntry{
		Kind:      a.Kind,
		MessageID: a.MessageID,
		Label:     a.LabelName,
		DryRun:    dryRun,
		At:        s.now().UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.cur.RecentActions = appendBounded(s.cur.RecentActions, e)
	s.touch()
}

// Finished records the outcome of a run. A cancelled run with a summary is
// reported as done.
func (s *Store) Finished(sum *triagesync.Summary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sum != nil {
		cp := *sum
		s.cur.Summary = &cp
		s.cur.RunID = sum.RunID
		s.cur.Metrics = map[string]int{
			"processed":        sum.Processed,
			"message_ids_seen": sum.MessageIDsSeen,
			"skipped_deleted":  sum.SkippedDeleted,
			"errors":           sum.Errors,
			"action_errors":    sum.ActionErrors,
		}
	}

	switch {
	case err != nil && sum == nil:
		s.cur.State = StateError
		s.cur.Step = triagesync.StepError
		s.cur.Detail = err.Error()
	case sum != nil && sum.Cancelled:
		s.cur.State = StateDone
		s.cur.Step = triagesync.StepDone
		s.cur.Detail = "Run cancelled"
	default:
		s.cur.State = StateDone
		s.cur.Step = triagesync.StepDone
		s.cur.Detail = "Run completed"
	}
	s.touch()
}

// Snapshot returns a deep copy of the current status.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.cur
	out.Metrics = make(map[string]int, len(s.cur.Metrics))
	for k, v := range s.cur.Metrics {
		out.Metrics[k] = v
	}
	if s.cur.Summary != nil {
		cp := *s.cur.Summary
		out.Summary = &cp
	}
	out.RecentActions = append([]ActionEntry{}, s.cur.RecentActions...)
	out.RecentErrors = append([]ErrorEntry{}, s.cur.RecentErrors...)
	return out
}

func (s *Store) touch() {
	s.cur.UpdatedAt = s.now().UTC()
}

func appendBounded[T any](list []T, v T) []T {
	list = append(list, v)
	if over := len(list) - RecentLimit; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}

var _ triagesync.Observer = (*Store)(nil)
