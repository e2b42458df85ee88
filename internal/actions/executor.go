// Package actions applies planned actions against a mailbox.
package actions

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Martian-dev/inbox-triage/internal/mailbox"
	"github.com/Martian-dev/inbox-triage/internal/metrics"
	"github.com/Martian-dev/inbox-triage/internal/model"
)

// Handler applies one action kind.
type Handler interface {
	Handle(ctx context.Context, port mailbox.Port, msg model.Message, action model.Action) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, port mailbox.Port, msg model.Message, action model.Action) error

func (f HandlerFunc) Handle(ctx context.Context, port mailbox.Port, msg model.Message, action model.Action) error {
	return f(ctx, port, msg, action)
}

// Result counts the outcome of one Execute call.
type Result struct {
	Applied int
	Skipped int
	Failed  int
}

// Observer is notified after every attempted action. err is nil on success.
type Observer func(action model.Action, dryRun bool, err error)

// Executor dispatches actions to handlers by kind.
type Executor struct {
	handlers    map[model.ActionKind]Handler
	log         *zap.Logger
	dryRun      bool
	stopOnError bool
	observer    Observer
}

// Option configures an Executor.
type Option func(*Executor)

// WithDryRun logs actions instead of applying them.
func WithDryRun(v bool) Option { return func(e *Executor) { e.dryRun = v } }

// WithStopOnError makes Execute return on the first failing action.
func WithStopOnError(v bool) Option { return func(e *Executor) { e.stopOnError = v } }

// WithHandler registers or replaces the handler for kind.
func WithHandler(kind model.ActionKind, h Handler) Option {
	return func(e *Executor) { e.handlers[kind] = h }
}

// WithObserver sets a callback invoked after every action.
func WithObserver(o Observer) Option { return func(e *Executor) { e.observer = o } }

// NewExecutor returns an executor with the label, archive and print
// handlers registered.
func NewExecutor(log *zap.Logger, opts ...Option) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Executor{
		log: log,
		handlers: map[model.ActionKind]Handler{
			model.ActionAddLabel:    HandlerFunc(addLabel),
			model.ActionRemoveLabel: HandlerFunc(removeLabel),
			model.ActionArchive:     HandlerFunc(archive),
			model.ActionPrint:       printHandler{log: log},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DryRun reports whether mutations are suppressed.
func (e *Executor) DryRun() bool { return e.dryRun }

// Execute runs actions in order. Failures are logged and counted; the
// returned error is non-nil only in stop-on-error mode or when ctx ends.
func (e *Executor) Execute(ctx context.Context, port mailbox.Port, msg model.Message, actions []model.Action) (Result, error) {
	var res Result
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		fields := []zap.Field{
			zap.String("kind", string(a.Kind)),
			zap.String("message_id", a.MessageID),
			zap.String("label", a.LabelName),
			zap.String("reason", a.Reason),
		}

		h, ok := e.handlers[a.Kind]
		if !ok {
			e.log.Warn("no handler registered for action", fields...)
			res.Skipped++
			continue
		}

		if e.dryRun {
			e.log.Info("dry-run: would apply action", fields...)
			res.Skipped++
			e.notify(a, nil)
			continue
		}

		if err := e.run(ctx, h, port, msg, a); err != nil {
			res.Failed++
			e.log.Error("action failed", append(fields, zap.Error(err))...)
			e.notify(a, err)
			if e.stopOnError {
				return res, fmt.Errorf("action %s on %s: %w", a.Kind, a.MessageID, err)
			}
			continue
		}
		res.Applied++
		e.log.Debug("action applied", fields...)
		e.notify(a, nil)
	}
	return res, nil
}

// run isolates handler panics as action failures.
func (e *Executor) run(ctx context.Context, h Handler, port mailbox.Port, msg model.Message, a model.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, port, msg, a)
}

func (e *Executor) notify(a model.Action, err error) {
	outcome := "applied"
	switch {
	case err != nil:
		outcome = "failed"
	case e.dryRun:
		outcome = "dry_run"
	}
	metrics.IncrementAction(string(a.Kind), outcome)

	if e.observer != nil {
		e.observer(a, e.dryRun, err)
	}
}

var errNoLabel = errors.New("action requires a label name")

func addLabel(ctx context.Context, port mailbox.Port, _ model.Message, a model.Action) error {
	if a.LabelName == "" {
		return errNoLabel
	}
	id, err := port.EnsureLabel(ctx, a.LabelName)
	if err != nil {
		return fmt.Errorf("ensure label %q: %w", a.LabelName, err)
	}
	return port.ApplyLabel(ctx, a.MessageID, id)
}

func removeLabel(ctx context.Context, port mailbox.Port, _ model.Message, a model.Action) error {
	if a.LabelName == "" {
		return errNoLabel
	}
	id, err := port.EnsureLabel(ctx, a.LabelName)
	if err != nil {
		return fmt.Errorf("ensure label %q: %w", a.LabelName, err)
	}
	return port.RemoveLabel(ctx, a.MessageID, id)
}

func archive(ctx context.Context, port mailbox.Port, _ model.Message, a model.Action) error {
	return port.Archive(ctx, a.MessageID)
}

type printHandler struct {
	log *zap.Logger
}

func (p printHandler) Handle(_ context.Context, _ mailbox.Port, msg model.Message, a model.Action) error {
	p.log.Info("print",
		zap.String("message_id", a.MessageID),
		zap.String("subject", msg.Subject),
		zap.String("reason", a.Reason))
	return nil
}
