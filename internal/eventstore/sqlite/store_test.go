package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/inbox-triage/internal/analysis"
	"github.com/Martian-dev/inbox-triage/internal/model"
	triagesync "github.com/Martian-dev/inbox-triage/internal/sync"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "triage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAddsColumnsToOlderJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.db")
	old, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE processed_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		msg_ts INTEGER NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		rule TEXT NOT NULL DEFAULT '',
		labels_json TEXT NOT NULL DEFAULT '[]',
		actions_json TEXT NOT NULL DEFAULT '[]',
		processed_at INTEGER NOT NULL
	)`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, summary("run-1", false)))
	msg := model.Message{ID: "m1", Timestamp: 1}
	c := model.Classification{Category: model.CategoryNoFit, Todos: []string{"todo: reply"}}
	require.NoError(t, s.RecordProcessed(ctx, "run-1", msg, c, nil))

	var todos string
	require.NoError(t, s.DB.QueryRow(`SELECT todos_json FROM processed_messages`).Scan(&todos))
	assert.JSONEq(t, `["todo: reply"]`, todos)

	// Reopening an up-to-date journal is a no-op.
	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func summary(runID string, dryRun bool) triagesync.Summary {
	return triagesync.Summary{
		RunID:     runID,
		Mode:      triagesync.ModeIncremental,
		Query:     "after:1 -in:drafts -from:me",
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
}

func TestRunJournalRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sum := summary("run-1", false)
	require.NoError(t, s.BeginRun(ctx, sum))

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)

	latest := int64(1700000000000)
	sum.Processed = 4
	sum.Errors = 1
	sum.RunCount = 7
	sum.LatestTimestamp = &latest
	sum.Cancelled = true
	sum.FinishedAt = time.Now().UTC()
	require.NoError(t, s.FinishRun(ctx, sum))

	runs, err = s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	r := runs[0]
	assert.Equal(t, StatusCancelled, r.Status)
	assert.Equal(t, "incremental", r.Mode)
	assert.Equal(t, 4, r.Processed)
	assert.Equal(t, 1, r.Errors)
	assert.Equal(t, 7, r.RunCount)
	require.NotNil(t, r.LatestTimestamp)
	assert.Equal(t, latest, *r.LatestTimestamp)
	assert.NotNil(t, r.FinishedAt)
}

func TestFailedRunStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sum := summary("run-f", false)
	require.NoError(t, s.BeginRun(ctx, sum))
	sum.Error = "list messages: unauthorized"
	sum.FinishedAt = time.Now().UTC()
	require.NoError(t, s.FinishRun(ctx, sum))

	runs, err := s.RecentRuns(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, runs[0].Status)
}

func TestRecordProcessedQueuesClassifiedEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, summary("run-1", false)))

	msg := model.Message{ID: "m1", Subject: "Weekly digest", Sender: "news@x.example", Timestamp: 42}
	c := model.Classification{
		Category: model.CategoryNewsletter,
		Labels:   []string{"Newsletter"},
		Rule:     "newsletter",
		Summary:  []string{"This week in Go"},
		Todos:    []string{"Please confirm your subscription"},
		Notes:    []string{"Detected potential action items"},
	}
	actions := []model.Action{{Kind: model.ActionAddLabel, MessageID: "m1", LabelName: "Newsletter"}}
	require.NoError(t, s.RecordProcessed(ctx, "run-1", msg, c, actions))

	out, err := s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "triage.message.classified", out[0].Subject)
	assert.Equal(t, EventMessageClassified, out[0].EventType)

	var ev ClassifiedEvent
	require.NoError(t, json.Unmarshal(out[0].Payload, &ev))
	assert.Equal(t, out[0].MsgID, ev.EventID)
	assert.Equal(t, "m1", ev.MessageID)
	assert.Equal(t, model.CategoryNewsletter, ev.Category)
	assert.Equal(t, []string{"Newsletter"}, ev.Labels)
	require.Len(t, ev.Actions, 1)
	assert.Equal(t, c.Summary, ev.Summary)
	assert.Equal(t, c.Todos, ev.Todos)
	assert.Equal(t, c.Notes, ev.Notes)

	var todos string
	require.NoError(t, s.DB.QueryRow(`SELECT todos_json FROM processed_messages WHERE message_id = 'm1'`).Scan(&todos))
	assert.JSONEq(t, `["Please confirm your subscription"]`, todos)
}

func TestDryRunDoesNotQueueEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, summary("dry", true)))

	msg := model.Message{ID: "m1", Timestamp: 1}
	require.NoError(t, s.RecordProcessed(ctx, "dry", msg, model.Classification{Category: model.CategoryNoFit}, nil))

	out, err := s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, out)

	var n int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(1) FROM processed_messages WHERE run_id = 'dry'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOutboxPublishAndRetry(t *testing.T) {
	s := openTestStore(t)
	s.SubjectPrefix = "mail"
	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, summary("run-1", false)))

	for _, id := range []string{"a", "b"} {
		msg := model.Message{ID: id, Timestamp: 1}
		require.NoError(t, s.RecordProcessed(ctx, "run-1", msg, model.Classification{Category: model.CategoryNoFit}, nil))
	}

	out, err := s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "mail.message.classified", out[0].Subject)

	require.NoError(t, s.MarkPublished(ctx, out[0].ID))
	require.NoError(t, s.MarkOutboxRetry(ctx, out[1].ID, time.Hour))

	out, err = s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, out, "published and backed-off rows are not dequeued")

	var retries int
	require.NoError(t, s.DB.QueryRow(`SELECT retries FROM outbox WHERE id = ?`, 2).Scan(&retries))
	assert.Equal(t, 1, retries)
}

func TestAnalysisLedger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	done, err := s.AnalysisRecorded(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, done)

	company := "Acme"
	f := analysis.Fields{Company: &company, Status: analysis.StatusInterview, Confidence: 0.9}
	require.NoError(t, s.RecordAnalysis(ctx, "m1", f, "/tmp/acme.json"))
	require.NoError(t, s.RecordAnalysis(ctx, "m1", f, "/tmp/acme.json"))

	done, err = s.AnalysisRecorded(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, done)

	out, err := s.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, out, 1, "second record of the same message is ignored")
	assert.Equal(t, "triage.application.analyzed", out[0].Subject)

	var ev AnalyzedEvent
	require.NoError(t, json.Unmarshal(out[0].Payload, &ev))
	assert.Equal(t, "Acme", ev.Fields.CompanyName())
	assert.Equal(t, analysis.StatusInterview, ev.Fields.Status)
}

func TestRunErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordError(ctx, "run-1", "m1", "process_each", errors.New("boom")))
	require.NoError(t, s.RecordError(ctx, "run-1", "m2", "normalize_all", errors.New("bad payload")))
	require.NoError(t, s.RecordError(ctx, "run-2", "m3", "process_each", errors.New("other run")))

	errs, err := s.RunErrors(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "m1", errs[0].MessageID)
	assert.Equal(t, "bad payload", errs[1].Error)
}

func TestRecentRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"r1", "r2", "r3"} {
		sum := summary(id, false)
		sum.StartedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.BeginRun(ctx, sum))
	}

	runs, err := s.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].RunID)
	assert.Equal(t, "r2", runs[1].RunID)
}
