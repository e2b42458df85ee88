package analysis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Martian-dev/inbox-triage/internal/mailbox"
	"github.com/Martian-dev/inbox-triage/internal/model"
)

// Ledger remembers which messages were analyzed so reprocessing a batch
// does not call the extractor twice.
type Ledger interface {
	AnalysisRecorded(ctx context.Context, messageID string) (bool, error)
	RecordAnalysis(ctx context.Context, messageID string, f Fields, recordPath string) error
}

// Handler runs extraction for analyze_application actions.
type Handler struct {
	Analyzer Analyzer
	Store    *InterviewStore
	Ledger   Ledger // optional
	Log      *zap.Logger
	Timeout  time.Duration
	Now      func() time.Time
}

// Handle implements actions.Handler.
func (h *Handler) Handle(ctx context.Context, _ mailbox.Port, msg model.Message, action model.Action) error {
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("message_id", msg.ID))

	if h.Ledger != nil {
		done, err := h.Ledger.AnalysisRecorded(ctx, msg.ID)
		if err != nil {
			return fmt.Errorf("check analysis ledger: %w", err)
		}
		if done {
			log.Debug("analysis already recorded, skipping")
			return nil
		}
	}

	callCtx := ctx
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	body := msg.BodyText
	if body == "" {
		body = msg.Snippet
	}
	fields, err := h.Analyzer.Analyze(callCtx, msg.Subject, msg.Sender, body)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", msg.ID, err)
	}

	var path string
	if fields.Status == StatusInterview {
		now := time.Now
		if h.Now != nil {
			now = h.Now
		}
		path, err = h.Store.Save(InterviewRecord{
			Fields: fields,
			Source: Source{
				MessageID:  msg.ID,
				Subject:    msg.Subject,
				Sender:     msg.Sender,
				Timestamp:  msg.Timestamp,
				AnalyzedAt: now().UTC(),
			},
		})
		if err != nil {
			return fmt.Errorf("save interview record: %w", err)
		}
		log.Info("interview record saved", zap.String("company", fields.CompanyName()), zap.String("path", path))
	} else {
		log.Info("application analyzed",
			zap.String("company", fields.CompanyName()),
			zap.String("status", string(fields.Status)),
			zap.Bool("action_required", fields.ActionRequired))
	}

	if h.Ledger != nil {
		if err := h.Ledger.RecordAnalysis(ctx, msg.ID, fields, path); err != nil {
			return fmt.Errorf("record analysis: %w", err)
		}
	}
	return nil
}
