package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Martian-dev/inbox-triage/internal/eventstore/sqlite"
	"github.com/Martian-dev/inbox-triage/internal/status"
	triagesync "github.com/Martian-dev/inbox-triage/internal/sync"
)

// Trigger starts a background run. *sync.Manager satisfies it.
type Trigger interface {
	Trigger() (<-chan triagesync.Result, error)
}

// StatusSource reports the live run status.
type StatusSource interface {
	Snapshot() status.Snapshot
}

// RunLister reads the run journal.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]sqlite.RunRecord, error)
}

// Deps are the collaborators behind the routes. Runs and Verifier are
// optional.
type Deps struct {
	Runs     Trigger
	Status   StatusSource
	Journal  RunLister
	Verifier Verifier
	Log      *zap.Logger
}

// NewRouter builds the service API.
func NewRouter(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{deps: d, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), LoggingMiddleware(log), MetricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	if d.Verifier != nil {
		api.Use(AuthMiddleware(d.Verifier, log))
	}
	{
		api.POST("/run", h.startRun)
		api.GET("/run/status", h.runStatus)
		api.GET("/runs", h.listRuns)
	}

	return r
}

type handler struct {
	deps Deps
	log  *zap.Logger
}

// startRun triggers a run. With ?wait=true the response carries the
// summary; otherwise it returns 202 immediately.
func (h *handler) startRun(c *gin.Context) {
	done, err := h.deps.Runs.Trigger()
	if errors.Is(err, triagesync.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "a run is already in progress"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); !wait {
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "status": "started"})
		return
	}

	select {
	case res := <-done:
		if res.Err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": res.Err.Error(), "summary": res.Summary})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "summary": res.Summary})
	case <-c.Request.Context().Done():
		// The run keeps going in the background.
		h.log.Info("client left before run finished")
	}
}

func (h *handler) runStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": h.deps.Status.Snapshot()})
}

func (h *handler) listRuns(c *gin.Context) {
	if h.deps.Journal == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "runs": []sqlite.RunRecord{}})
		return
	}

	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	runs, err := h.deps.Journal.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "runs": runs})
}
