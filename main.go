package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Martian-dev/inbox-triage/internal/app"
	"github.com/Martian-dev/inbox-triage/internal/config"
	"github.com/Martian-dev/inbox-triage/internal/credential"
	"github.com/Martian-dev/inbox-triage/internal/logger"
)

const usage = `usage: inbox-triage <command> [flags]

commands:
  run               perform one sync run and print its summary
  serve             run the HTTP API, scheduler and event dispatcher
  set-analysis-key  read the analysis API key from stdin into the keyring
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "run":
		err = runCmd(ctx, args)
	case "serve":
		err = serveCmd(ctx, args)
	case "set-analysis-key":
		err = setKeyCmd(args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup parses flags, loads configuration and builds the app.
func setup(name string, args []string) (*app.App, *zap.Logger, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	path, _ := fs.GetString("config")

	cfg, err := config.Load(path, fs)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, nil, err
	}

	var opts []app.Option
	secrets, err := credential.Open(app.DefaultCredentialsDir(cfg))
	if err != nil {
		log.Warn("keyring unavailable, using configured secrets only", zap.Error(err))
	} else {
		opts = append(opts, app.WithCredentials(secrets))
	}

	a, err := app.New(cfg, log, opts...)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return a, log, nil
}

func runCmd(ctx context.Context, args []string) error {
	a, log, err := setup("run", args)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()

	summary, runErr := a.RunOnce(ctx)
	if summary != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	}
	if errors.Is(runErr, context.Canceled) {
		log.Info("run interrupted, cursor saved")
	}
	return runErr
}

func serveCmd(ctx context.Context, args []string) error {
	a, log, err := setup("serve", args)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()

	return a.Serve(ctx)
}

func setKeyCmd(args []string) error {
	fs := pflag.NewFlagSet("set-analysis-key", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, _ := fs.GetString("config")
	cfg, err := config.Load(path, fs)
	if err != nil {
		return err
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading key from stdin: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return errors.New("empty key")
	}

	secrets, err := credential.Open(app.DefaultCredentialsDir(cfg))
	if err != nil {
		return err
	}
	return secrets.Set(credential.KeyAnalysisAPIKey, key)
}
