package status

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/inbox-triage/internal/model"
	triagesync "github.com/Martian-dev/inbox-triage/internal/sync"
)

func TestLifecycle(t *testing.T) {
	s := NewStore()
	assert.Equal(t, StateIdle, s.Snapshot().State)

	s.Started()
	s.Step("run-1", triagesync.StepProcess, "3 eligible")
	s.Processed("run-1", model.Message{ID: "a"}, model.Classification{Category: model.CategoryNewsletter})
	s.MessageError("run-1", "b", errors.New("fetch failed"))

	snap := s.Snapshot()
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, triagesync.StepProcess, snap.Step)
	assert.Equal(t, 1, snap.Metrics["processed"])
	assert.Equal(t, 1, snap.Metrics["newsletter"])
	require.Len(t, snap.RecentErrors, 1)
	assert.Equal(t, "b", snap.RecentErrors[0].MessageID)

	s.Finished(&triagesync.Summary{RunID: "run-1", Processed: 1, Errors: 1}, nil)
	snap = s.Snapshot()
	assert.Equal(t, StateDone, snap.State)
	require.NotNil(t, snap.Summary)
	assert.Equal(t, 1, snap.Metrics["processed"])
	assert.Equal(t, 1, snap.Metrics["errors"])
}

func TestFatalErrorState(t *testing.T) {
	s := NewStore()
	s.Started()
	s.Finished(nil, errors.New("connect mailbox: token expired"))

	snap := s.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, triagesync.StepError, snap.Step)
	assert.Contains(t, snap.Detail, "token expired")
}

func TestCancelledRunIsDone(t *testing.T) {
	s := NewStore()
	s.Finished(&triagesync.Summary{Cancelled: true}, context.Canceled)
	snap := s.Snapshot()
	assert.Equal(t, StateDone, snap.State)
	assert.Equal(t, "Run cancelled", snap.Detail)
}

func TestRecentWindowsAreBounded(t *testing.T) {
	s := NewStore()
	for i := 0; i < RecentLimit+10; i++ {
		id := fmt.Sprintf("m%d", i)
		s.ObserveAction(model.Action{Kind: model.ActionAddLabel, MessageID: id, LabelName: "NoFit"}, false, nil)
		s.MessageError("run", id, errors.New("x"))
	}

	snap := s.Snapshot()
	require.Len(t, snap.RecentActions, RecentLimit)
	require.Len(t, snap.RecentErrors, RecentLimit)
	assert.Equal(t, "m10", snap.RecentActions[0].MessageID)
	assert.Equal(t, fmt.Sprintf("m%d", RecentLimit+9), snap.RecentErrors[RecentLimit-1].MessageID)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.ObserveAction(model.Action{Kind: model.ActionArchive, MessageID: "a"}, true, nil)

	snap := s.Snapshot()
	snap.Metrics["processed"] = 99
	snap.RecentActions[0].MessageID = "changed"

	again := s.Snapshot()
	assert.Zero(t, again.Metrics["processed"])
	assert.Equal(t, "a", again.RecentActions[0].MessageID)
	assert.True(t, again.RecentActions[0].DryRun)
}
