// Package app wires configuration into a runnable triage service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Martian-dev/inbox-triage/internal/actions"
	"github.com/Martian-dev/inbox-triage/internal/analysis"
	"github.com/Martian-dev/inbox-triage/internal/auth"
	"github.com/Martian-dev/inbox-triage/internal/config"
	"github.com/Martian-dev/inbox-triage/internal/credential"
	"github.com/Martian-dev/inbox-triage/internal/cursor"
	"github.com/Martian-dev/inbox-triage/internal/eventstore/sqlite"
	"github.com/Martian-dev/inbox-triage/internal/httpapi"
	"github.com/Martian-dev/inbox-triage/internal/mailbox"
	"github.com/Martian-dev/inbox-triage/internal/model"
	natsjs "github.com/Martian-dev/inbox-triage/internal/nats"
	"github.com/Martian-dev/inbox-triage/internal/providers/gmail"
	"github.com/Martian-dev/inbox-triage/internal/rules"
	"github.com/Martian-dev/inbox-triage/internal/status"
	triagesync "github.com/Martian-dev/inbox-triage/internal/sync"
)

// App holds the long-lived collaborators of the service.
type App struct {
	cfg *config.Config
	log *zap.Logger

	Journal *sqlite.Store
	Status  *status.Store
	Runner  *triagesync.Runner
}

// Option customizes New.
type Option func(*options)

type options struct {
	connect  triagesync.Connector
	analyzer analysis.Analyzer
	secrets  *credential.Store
}

// WithConnector replaces the Gmail connector.
func WithConnector(c triagesync.Connector) Option { return func(o *options) { o.connect = c } }

// WithAnalyzer replaces the LLM field extractor.
func WithAnalyzer(a analysis.Analyzer) Option { return func(o *options) { o.analyzer = a } }

// WithCredentials sets the secret store used to resolve API keys.
func WithCredentials(s *credential.Store) Option { return func(o *options) { o.secrets = s } }

// New builds the pipeline from cfg. Close releases the journal.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	journal, err := sqlite.Open(cfg.Paths.Journal())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	journal.SubjectPrefix = cfg.NATS.SubjectPrefix

	a := &App{cfg: cfg, log: log, Journal: journal, Status: status.NewStore()}

	exOpts := []actions.Option{
		actions.WithDryRun(cfg.Executor.DryRun),
		actions.WithStopOnError(cfg.Executor.StopOnError),
		actions.WithObserver(a.Status.ObserveAction),
	}
	exOpts = append(exOpts, actions.WithHandler(model.ActionAnalyzeApplication, a.analysisHandler(o)))

	connect := o.connect
	if connect == nil {
		connect = a.gmailConnector()
	}

	a.Runner = &triagesync.Runner{
		Connect: connect,
		Cursor:  cursor.NewStore(cfg.Paths.State),
		Classifier: rules.NewDefaultEngine(rules.Options{
			FallbackLabel:      cfg.Rules.FallbackLabel,
			ArchiveNewsletters: cfg.Rules.ArchiveNewsletters,
		}),
		Executor:      actions.NewExecutor(log.Named("executor"), exOpts...),
		Journal:       journal,
		Observer:      a.Status,
		Log:           log.Named("sync"),
		BootstrapDays: cfg.Gmail.BootstrapDays,
		MaxResults:    cfg.Gmail.MaxResults,
	}
	return a, nil
}

// Close releases resources held by the app.
func (a *App) Close() error {
	return a.Journal.Close()
}

// analysisHandler falls back to a logging no-op when no extractor is
// available, so job mail is still labeled.
func (a *App) analysisHandler(o options) actions.Handler {
	log := a.log.Named("analysis")
	cfg := a.cfg.Analysis

	analyzer := o.analyzer
	if analyzer == nil && cfg.Enabled {
		key, err := o.secrets.Resolve(cfg.APIKey, credential.KeyAnalysisAPIKey)
		if err != nil {
			log.Warn("could not read analysis key from keyring", zap.Error(err))
		}
		if key != "" {
			analyzer = analysis.NewClient(analysis.ClientConfig{
				APIKey:    key,
				Endpoint:  cfg.Endpoint,
				Model:     cfg.Model,
				MaxTokens: cfg.MaxTokens,
				Timeout:   cfg.Timeout,
			})
		} else {
			log.Warn("no analysis API key configured, application analysis disabled")
		}
	}

	if analyzer == nil {
		return actions.HandlerFunc(func(_ context.Context, _ mailbox.Port, msg model.Message, _ model.Action) error {
			log.Debug("application analysis disabled", zap.String("message_id", msg.ID))
			return nil
		})
	}

	return &analysis.Handler{
		Analyzer: analyzer,
		Store:    analysis.NewInterviewStore(a.cfg.Paths.Interviews),
		Ledger:   a.Journal,
		Log:      log,
		Timeout:  cfg.Timeout,
	}
}

// gmailConnector opens a fresh adapter, and so a fresh label cache, per run.
func (a *App) gmailConnector() triagesync.Connector {
	cfg := a.cfg.Gmail
	return func(ctx context.Context) (mailbox.Port, error) {
		source, err := a.tokenSource(ctx)
		if err != nil {
			return nil, err
		}
		adapter, err := gmail.New(ctx, source, cfg.User)
		if err != nil {
			return nil, err
		}
		adapter.SetCallTimeout(cfg.CallTimeout)
		return adapter, nil
	}
}

// tokenSource prefers the token broker and falls back to the local
// credentials and token files.
func (a *App) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	cfg := a.cfg.Gmail
	if cfg.BrokerURL != "" {
		if cfg.BrokerBearer == "" {
			return nil, errors.New("gmail.broker_bearer is required with gmail.broker_url")
		}
		return auth.NewTokenBroker(cfg.BrokerURL).TokenSource(ctx, cfg.BrokerBearer, auth.ProviderGoogle), nil
	}
	return auth.FileTokenSource(ctx, cfg.Credentials, cfg.Token, gmail.Scopes...)
}

// RunOnce performs one run and mirrors it into the status store.
func (a *App) RunOnce(ctx context.Context) (*triagesync.Summary, error) {
	a.Status.Started()
	s, err := a.Runner.RunOnce(ctx)
	a.Status.Finished(s, err)
	return s, err
}

// Serve runs the HTTP API, the optional scheduler and the optional event
// dispatcher until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	log := a.log
	manager := triagesync.NewManager(ctx, a.RunOnce, log.Named("manager"))

	deps := httpapi.Deps{
		Runs:    manager,
		Status:  a.Status,
		Journal: a.Journal,
		Log:     log.Named("http"),
	}
	if url := a.cfg.Server.JWKSURL; url != "" {
		verifier, err := auth.NewJWTVerifier(ctx, url, log.Named("auth"))
		if err != nil {
			return fmt.Errorf("init JWT verifier: %w", err)
		}
		deps.Verifier = verifier
	}

	if url := a.cfg.NATS.URL; url != "" {
		pub, err := natsjs.NewPublisher(url)
		if err != nil {
			return err
		}
		defer pub.Close()

		stream := natsjs.DefaultStreamConfig(a.cfg.NATS.SubjectPrefix)
		if a.cfg.NATS.Stream != "" {
			stream.Name = a.cfg.NATS.Stream
		}
		if err := pub.EnsureStream(ctx, stream); err != nil {
			return err
		}
		go natsjs.NewDispatcher(a.Journal, pub, log.Named("outbox")).Run(ctx)
	}

	if every := a.cfg.Server.ScheduleInterval; every > 0 {
		log.Info("scheduled runs enabled", zap.Duration("interval", every))
		go manager.Schedule(ctx, every)
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		manager.Stop()
		manager.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	manager.Stop()
	manager.Wait()
	return err
}

// DefaultCredentialsDir is where the file keyring backend stores secrets.
func DefaultCredentialsDir(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.Secrets, "keyring")
}
