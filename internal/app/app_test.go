package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Martian-dev/inbox-triage/internal/analysis"
	"github.com/Martian-dev/inbox-triage/internal/config"
	"github.com/Martian-dev/inbox-triage/internal/mailbox"
	"github.com/Martian-dev/inbox-triage/internal/mailbox/mailboxtest"
	"github.com/Martian-dev/inbox-triage/internal/rules"
	"github.com/Martian-dev/inbox-triage/internal/status"
	triagesync "github.com/Martian-dev/inbox-triage/internal/sync"
)

type stubAnalyzer struct {
	calls int
}

func (s *stubAnalyzer) Analyze(context.Context, string, string, string) (analysis.Fields, error) {
	s.calls++
	company := "Acme"
	return analysis.Fields{
		Company:    &company,
		Status:     analysis.StatusInterview,
		Confidence: 0.9,
	}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Paths.State = filepath.Join(dir, "state", "state.json")
	cfg.Paths.Data = filepath.Join(dir, "data")
	cfg.Paths.Interviews = filepath.Join(dir, "interviews")
	return cfg
}

func message(id string, ts int64, from, subject string) *mailbox.RawMessage {
	return &mailbox.RawMessage{
		ID:           id,
		InternalDate: ts,
		Headers: []mailbox.Header{
			{Name: "From", Value: from},
			{Name: "Subject", Value: subject},
		},
		Body: mailbox.Part{MimeType: "text/plain", Data: []byte("We would like to schedule an interview for the engineer position.")},
	}
}

func TestRunOnceEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	mb := mailboxtest.New("me@example.com")
	mb.Add(message("job", 100, "Acme Recruiting <jobs@acme.example>", "Interview invitation: Backend Engineer"))
	mb.Add(message("news", 200, "digest@news.example", "Weekly newsletter"))

	an := &stubAnalyzer{}
	a, err := New(cfg, zap.NewNop(),
		WithConnector(func(context.Context) (mailbox.Port, error) { return mb, nil }),
		WithAnalyzer(an),
	)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	s, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Processed)
	assert.Equal(t, 0, s.Errors)

	assert.Equal(t, []string{"job"}, mb.Applied(rules.LabelApplications+"/Interview"))
	assert.Equal(t, []string{"news"}, mb.Applied(rules.LabelNewsletter))
	assert.Equal(t, 1, an.calls)

	entries, err := os.ReadDir(cfg.Paths.Interviews)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	snap := a.Status.Snapshot()
	assert.Equal(t, status.StateDone, snap.State)
	assert.NotEmpty(t, snap.RecentActions)

	runs, err := a.Journal.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Processed)

	out, err := a.Journal.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, out, 3, "two classified events and one analyzed event")

	// A replay sees nothing new and does not analyze again.
	s, err = a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.MessageIDsSeen)
	assert.Equal(t, 1, an.calls)
}

func TestDryRunLeavesMailboxUntouched(t *testing.T) {
	cfg := testConfig(t)
	cfg.Executor.DryRun = true
	mb := mailboxtest.New("me@example.com")
	mb.Add(message("job", 100, "Acme Recruiting <jobs@acme.example>", "Interview invitation: Backend Engineer"))

	an := &stubAnalyzer{}
	a, err := New(cfg, zap.NewNop(),
		WithConnector(func(context.Context) (mailbox.Port, error) { return mb, nil }),
		WithAnalyzer(an),
	)
	require.NoError(t, err)
	defer a.Close()

	s, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, s.DryRun)
	assert.Equal(t, 1, s.Processed)
	assert.Empty(t, mb.Mutations())
	assert.Zero(t, an.calls)
}

func TestAnalysisDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analysis.Enabled = false
	mb := mailboxtest.New("me@example.com")
	mb.Add(message("job", 100, "Acme Recruiting <jobs@acme.example>", "Interview invitation: Backend Engineer"))

	a, err := New(cfg, zap.NewNop(),
		WithConnector(func(context.Context) (mailbox.Port, error) { return mb, nil }),
	)
	require.NoError(t, err)
	defer a.Close()

	s, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, 0, s.ActionErrors)
}

func TestManagerDrivesApp(t *testing.T) {
	cfg := testConfig(t)
	mb := mailboxtest.New("me@example.com")
	a, err := New(cfg, zap.NewNop(),
		WithConnector(func(context.Context) (mailbox.Port, error) { return mb, nil }),
		WithAnalyzer(&stubAnalyzer{}),
	)
	require.NoError(t, err)
	defer a.Close()

	m := triagesync.NewManager(context.Background(), a.RunOnce, nil)
	s, err := m.RunAndWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, triagesync.ModeBootstrap, s.Mode)
}
