package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/inbox-triage/internal/auth"
	"github.com/Martian-dev/inbox-triage/internal/eventstore/sqlite"
	"github.com/Martian-dev/inbox-triage/internal/status"
	triagesync "github.com/Martian-dev/inbox-triage/internal/sync"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTrigger struct {
	err    error
	result triagesync.Result
	calls  int
}

func (f *fakeTrigger) Trigger() (<-chan triagesync.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan triagesync.Result, 1)
	ch <- f.result
	close(ch)
	return ch, nil
}

type fakeJournal struct {
	runs  []sqlite.RunRecord
	limit int
}

func (f *fakeJournal) RecentRuns(_ context.Context, limit int) ([]sqlite.RunRecord, error) {
	f.limit = limit
	return f.runs, nil
}

type fakeVerifier struct{}

func (fakeVerifier) UserFromRequest(r *http.Request) (*auth.User, error) {
	if r.Header.Get("Authorization") != "Bearer good" {
		return nil, errors.New("bad token")
	}
	return &auth.User{ID: "u1"}, nil
}

func do(t *testing.T, r http.Handler, method, target string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestStartRunAsyncAndWait(t *testing.T) {
	trig := &fakeTrigger{result: triagesync.Result{Summary: &triagesync.Summary{RunID: "r1", Processed: 2}}}
	r := NewRouter(Deps{Runs: trig, Status: status.NewStore()})

	w, body := do(t, r, http.MethodPost, "/api/run")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "started", body["status"])

	w, body = do(t, r, http.MethodPost, "/api/run?wait=true")
	assert.Equal(t, http.StatusOK, w.Code)
	summary := body["summary"].(map[string]any)
	assert.Equal(t, "r1", summary["run_id"])
	assert.Equal(t, float64(2), summary["processed"])
	assert.Equal(t, 2, trig.calls)
}

func TestStartRunConflict(t *testing.T) {
	r := NewRouter(Deps{Runs: &fakeTrigger{err: triagesync.ErrRunInProgress}, Status: status.NewStore()})

	w, body := do(t, r, http.MethodPost, "/api/run")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, body["ok"])
}

func TestStartRunWaitFailure(t *testing.T) {
	trig := &fakeTrigger{result: triagesync.Result{Err: errors.New("connect mailbox: token expired")}}
	r := NewRouter(Deps{Runs: trig, Status: status.NewStore()})

	w, body := do(t, r, http.MethodPost, "/api/run?wait=1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, body["error"], "token expired")
}

func TestRunStatus(t *testing.T) {
	st := status.NewStore()
	st.Step("r1", triagesync.StepProcess, "5 eligible")
	r := NewRouter(Deps{Runs: &fakeTrigger{}, Status: st})

	w, body := do(t, r, http.MethodGet, "/api/run/status")
	assert.Equal(t, http.StatusOK, w.Code)
	s := body["status"].(map[string]any)
	assert.Equal(t, "running", s["state"])
	assert.Equal(t, triagesync.StepProcess, s["step"])
}

func TestListRuns(t *testing.T) {
	j := &fakeJournal{runs: []sqlite.RunRecord{{RunID: "r2", Status: sqlite.StatusOK}}}
	r := NewRouter(Deps{Runs: &fakeTrigger{}, Status: status.NewStore(), Journal: j})

	w, body := do(t, r, http.MethodGet, "/api/runs?limit=5")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, j.limit)
	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "r2", runs[0].(map[string]any)["run_id"])

	w, _ = do(t, r, http.MethodGet, "/api/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRunsWithoutJournal(t *testing.T) {
	r := NewRouter(Deps{Runs: &fakeTrigger{}, Status: status.NewStore()})
	w, body := do(t, r, http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["runs"])
}

func TestAuthGuardsAPIOnly(t *testing.T) {
	r := NewRouter(Deps{Runs: &fakeTrigger{}, Status: status.NewStore(), Verifier: fakeVerifier{}})

	w, _ := do(t, r, http.MethodGet, "/api/run/status")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/run/status", "Authorization", "Bearer good")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := NewRouter(Deps{Runs: &fakeTrigger{}, Status: status.NewStore()})
	do(t, r, http.MethodGet, "/healthz")

	w, _ := do(t, r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}
