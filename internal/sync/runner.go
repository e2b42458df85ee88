package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Martian-dev/inbox-triage/internal/actions"
	"github.com/Martian-dev/inbox-triage/internal/cursor"
	"github.com/Martian-dev/inbox-triage/internal/digest"
	"github.com/Martian-dev/inbox-triage/internal/mailbox"
	"github.com/Martian-dev/inbox-triage/internal/metrics"
	"github.com/Martian-dev/inbox-triage/internal/model"
	"github.com/Martian-dev/inbox-triage/internal/normalize"
	"github.com/Martian-dev/inbox-triage/internal/policy"
)

const (
	DefaultBootstrapDays = 60
	DefaultMaxResults    = 500

	// legacyOffsetMS nudges the query past the stored second for cursors
	// written before the id set existed.
	legacyOffsetMS = 1000
	maxErrorLog    = 50
)

// Runner performs one triage pass over the mailbox.
type Runner struct {
	Connect       Connector
	Cursor        CursorStore
	Classifier    Classifier
	Executor      *actions.Executor
	Journal       Journal  // optional
	Observer      Observer // optional
	Log           *zap.Logger
	BootstrapDays int
	MaxResults    int64
}

// BootstrapQuery lists recent mail on a first run.
func BootstrapQuery(days int) string {
	if days <= 0 {
		days = DefaultBootstrapDays
	}
	return fmt.Sprintf("newer_than:%dd -in:drafts -from:me", days)
}

// IncrementalQuery lists mail from the cursor's second onward. The provider
// filters at second resolution, so ties are settled by the id set.
func IncrementalQuery(c cursor.Cursor) string {
	ms := *c.LastProcessedTimestamp
	if c.Legacy {
		ms += legacyOffsetMS
	}
	return fmt.Sprintf("after:%d -in:drafts -from:me", ms/1000)
}

// RunOnce loads the cursor, processes every new message in chronological
// order and persists the cursor once. Dry runs never persist it. Fatal
// setup errors leave the cursor untouched. On cancellation the cursor is still saved for the messages
// already handled and the partial summary is returned with ctx's error.
func (r *Runner) RunOnce(ctx context.Context) (*Summary, error) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	s := &Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	if r.Executor != nil {
		s.DryRun = r.Executor.DryRun()
	}
	log = log.With(zap.String("run_id", s.RunID))

	began := false
	fail := func(step string, err error) (*Summary, error) {
		r.step(s.RunID, StepError, err.Error())
		log.Error("run failed", zap.String("step", step), zap.Error(err))
		s.FinishedAt = time.Now().UTC()
		metrics.RecordRun(string(s.Mode), "error", s.FinishedAt.Sub(s.StartedAt))
		if began {
			s.Error = err.Error()
			r.journal(log, func(j Journal) error { return j.FinishRun(context.WithoutCancel(ctx), *s) })
		}
		return nil, err
	}

	r.step(s.RunID, StepLoadCursor, "")
	cur, err := r.Cursor.Load()
	if err != nil {
		return fail(StepLoadCursor, fmt.Errorf("load cursor: %w", err))
	}

	r.step(s.RunID, StepConnect, "")
	port, err := r.Connect(ctx)
	if err != nil {
		return fail(StepConnect, fmt.Errorf("connect mailbox: %w", err))
	}
	own, err := port.OwnAddress(ctx)
	if err != nil {
		return fail(StepConnect, fmt.Errorf("resolve own address: %w", err))
	}
	own = model.NormalizeAddress(own)
	if own == "" {
		return fail(StepConnect, ErrNoOwnAddress)
	}

	r.step(s.RunID, StepDetermineMode, "")
	if cur.IsBootstrap() {
		s.Mode = ModeBootstrap
		s.Query = BootstrapQuery(r.BootstrapDays)
	} else {
		s.Mode = ModeIncremental
		s.Query = IncrementalQuery(cur)
	}
	log = log.With(zap.String("mode", string(s.Mode)))
	r.journal(log, func(j Journal) error { return j.BeginRun(ctx, *s) })
	began = true

	r.step(s.RunID, StepListCandidates, s.Query)
	limit := r.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	ids, err := port.ListMessageIDs(ctx, s.Query, limit)
	if err != nil {
		return fail(StepListCandidates, fmt.Errorf("list messages: %w", err))
	}
	log.Info("candidates listed", zap.String("query", s.Query), zap.Int("count", len(ids)))

	r.step(s.RunID, StepNormalize, fmt.Sprintf("%d candidates", len(ids)))
	msgs := r.normalizeAll(ctx, log, port, ids, s)

	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})

	r.step(s.RunID, StepFilter, "")
	eligible := Eligible(msgs, cur, own)
	s.MessageIDsSeen = len(eligible)

	r.step(s.RunID, StepProcess, fmt.Sprintf("%d eligible", len(eligible)))
	// The working pair starts at the stored position so that messages sharing
	// the stored timestamp extend its id set instead of replacing it.
	var (
		latest     int64
		latestIDs  []string
		haveLatest bool
	)
	if !cur.IsBootstrap() {
		latest, latestIDs, haveLatest = *cur.LastProcessedTimestamp, cur.IDs(), true
	}
	for _, msg := range eligible {
		if ctx.Err() != nil {
			s.Cancelled = true
			break
		}

		err := r.processMessage(ctx, log, port, msg, s)
		if err != nil {
			if ctx.Err() != nil {
				s.Cancelled = true
				break
			}
			r.recordError(ctx, log, s, msg.ID, StepProcess, err)
			continue
		}

		s.Processed++
		metrics.IncrementMessage("processed")
		switch {
		case !haveLatest || msg.Timestamp > latest:
			latest = msg.Timestamp
			latestIDs = []string{msg.ID}
			haveLatest = true
		case msg.Timestamp == latest:
			latestIDs = append(latestIDs, msg.ID)
		}
	}

	if s.Processed > 0 {
		ts := latest
		s.LatestTimestamp = &ts
	}

	// A dry run applied nothing, so the cursor must not move past its messages.
	if s.DryRun {
		s.RunCount = cur.RunCount
		log.Info("dry run, cursor not persisted")
	} else {
		r.step(s.RunID, StepPersist, "")
		if s.Processed > 0 {
			cur.Advance(latest, latestIDs)
		}
		cur.RunCount++
		s.RunCount = cur.RunCount
		if err := r.Cursor.Save(cur); err != nil {
			return fail(StepPersist, fmt.Errorf("save cursor: %w", err))
		}
		if cur.LastProcessedTimestamp != nil {
			metrics.SetCursorTimestamp(*cur.LastProcessedTimestamp)
		}
	}

	s.FinishedAt = time.Now().UTC()
	r.journal(log, func(j Journal) error { return j.FinishRun(context.WithoutCancel(ctx), *s) })

	outcome := "ok"
	if s.Cancelled {
		outcome = "cancelled"
	}
	metrics.RecordRun(string(s.Mode), outcome, s.FinishedAt.Sub(s.StartedAt))
	r.step(s.RunID, StepDone, fmt.Sprintf("processed=%d errors=%d", s.Processed, s.Errors))

	log.Info("run finished",
		zap.Int("processed", s.Processed),
		zap.Int("skipped_deleted", s.SkippedDeleted),
		zap.Int("errors", s.Errors),
		zap.Int("action_errors", s.ActionErrors),
		zap.Int("message_ids_seen", s.MessageIDsSeen),
		zap.Bool("cancelled", s.Cancelled))

	if s.Cancelled {
		return s, ctx.Err()
	}
	return s, nil
}

// Eligible filters a chronologically sorted batch against the cursor, drafts
// and mail sent by own.
func Eligible(msgs []model.Message, cur cursor.Cursor, own string) []model.Message {
	own = model.NormalizeAddress(own)
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if cur.Seen(m.Timestamp, m.ID) {
			continue
		}
		if m.IsDraft() {
			continue
		}
		if own != "" && m.SenderAddress() == own {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (r *Runner) normalizeAll(ctx context.Context, log *zap.Logger, port mailbox.Port, ids []string, s *Summary) []model.Message {
	msgs := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			s.Cancelled = true
			return msgs
		}
		raw, err := port.GetMessage(ctx, id)
		switch {
		case errors.Is(err, mailbox.ErrMessageNotFound):
			s.SkippedDeleted++
			metrics.IncrementMessage("skipped_deleted")
			log.Info("message vanished before fetch", zap.String("message_id", id))
			continue
		case err != nil:
			if ctx.Err() != nil {
				s.Cancelled = true
				return msgs
			}
			r.recordError(ctx, log, s, id, StepNormalize, err)
			continue
		}
		msgs = append(msgs, normalize.Message(raw))
	}
	return msgs
}

// processMessage runs classify, plan and execute. Panics from rules or the
// planner surface as errors for this message only.
func (r *Runner) processMessage(ctx context.Context, log *zap.Logger, port mailbox.Port, msg model.Message, s *Summary) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic processing message: %v", p)
		}
	}()

	c := r.Classifier.Classify(msg)
	d := digest.Of(msg.Subject, msg.Snippet, msg.BodyText)
	c.Summary, c.Todos = d.Summary, d.Todos
	c.Notes = append(c.Notes, d.Notes...)
	planned := policy.Plan(c, msg.ID)
	metrics.IncrementClassification(string(c.Category), c.Rule)

	log.Debug("message classified",
		zap.String("message_id", msg.ID),
		zap.String("category", string(c.Category)),
		zap.String("rule", c.Rule),
		zap.Strings("labels", c.Labels),
		zap.Int("todos", len(c.Todos)))

	res, err := r.Executor.Execute(ctx, port, msg, planned)
	s.ActionErrors += res.Failed
	if err != nil {
		return err
	}

	r.journal(log, func(j Journal) error { return j.RecordProcessed(ctx, s.RunID, msg, c, planned) })
	if r.Observer != nil {
		r.Observer.Processed(s.RunID, msg, c)
	}
	return nil
}

func (r *Runner) recordError(ctx context.Context, log *zap.Logger, s *Summary, messageID, stage string, err error) {
	s.Errors++
	metrics.IncrementMessage("error")
	log.Warn("message failed", zap.String("message_id", messageID), zap.String("stage", stage), zap.Error(err))

	s.ErrorLog = append(s.ErrorLog, MessageError{MessageID: messageID, Stage: stage, Error: err.Error()})
	if len(s.ErrorLog) > maxErrorLog {
		s.ErrorLog = s.ErrorLog[len(s.ErrorLog)-maxErrorLog:]
	}
	r.journal(log, func(j Journal) error { return j.RecordError(ctx, s.RunID, messageID, stage, err) })
	if r.Observer != nil {
		r.Observer.MessageError(s.RunID, messageID, err)
	}
}

func (r *Runner) journal(log *zap.Logger, fn func(Journal) error) {
	if r.Journal == nil {
		return
	}
	if err := fn(r.Journal); err != nil {
		log.Warn("journal write failed", zap.Error(err))
	}
}

func (r *Runner) step(runID, step, detail string) {
	if r.Observer != nil {
		r.Observer.Step(runID, step, detail)
	}
}
