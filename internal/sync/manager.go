package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Result is delivered once a triggered run ends.
type Result struct {
	Summary *Summary
	Err     error
}

// RunFunc performs one run. *Runner.RunOnce satisfies it.
type RunFunc func(ctx context.Context) (*Summary, error)

// Manager runs the pipeline on a background goroutine, at most one run at
// a time.
type Manager struct {
	run  RunFunc
	base context.Context
	log  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	last    *Result
	wg      sync.WaitGroup
}

// NewManager creates a manager. Runs are derived from base so they outlive
// the request that triggered them but stop when base is cancelled.
func NewManager(base context.Context, run RunFunc, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{run: run, base: base, log: log}
}

// Trigger starts a run in the background. The returned channel receives the
// result and is then closed. ErrRunInProgress is returned if a run is active.
func (m *Manager) Trigger() (<-chan Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil, ErrRunInProgress
	}

	runCtx, cancel := context.WithCancel(m.base)
	m.running = true
	m.cancel = cancel

	done := make(chan Result, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		m.log.Info("run start")
		summary, err := m.run(runCtx)
		res := Result{Summary: summary, Err: err}
		if err != nil {
			m.log.Error("run error", zap.Error(err))
		}

		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.last = &res
		m.mu.Unlock()

		done <- res
		close(done)
		m.log.Info("run stop")
	}()

	return done, nil
}

// RunAndWait triggers a run and blocks until it ends or ctx is done. The run
// itself keeps going if ctx ends first.
func (m *Manager) RunAndWait(ctx context.Context) (*Summary, error) {
	done, err := m.Trigger()
	if err != nil {
		return nil, err
	}
	select {
	case res := <-done:
		return res.Summary, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsRunning reports whether a run is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Last returns the result of the most recent finished run, if any.
func (m *Manager) Last() (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Result{}, false
	}
	return *m.last, true
}

// Stop cancels the active run, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.log.Info("stopping active run")
		m.cancel()
	}
}

// Wait blocks until no run goroutine is active.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Schedule triggers a run every interval until ctx is done. Ticks that land
// while a run is active are skipped.
func (m *Manager) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := m.Trigger(); err != nil {
				if errors.Is(err, ErrRunInProgress) {
					m.log.Debug("scheduled run skipped, previous run still active")
					continue
				}
				m.log.Error("scheduled run failed to start", zap.Error(err))
			}
		}
	}
}
