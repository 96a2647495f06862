package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"fintrack/internal/backend"
	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/remote"
	"fintrack/internal/services"
	"fintrack/internal/session"
)

const usage = `usage: fintrack <command> [flags]

Session:
  login     --uid UID
  register  --uid UID --email EMAIL [--name NAME] [--currency EUR]
  logout
  whoami

Transactions:
  add       --amount 12.50 [--type EXPENSE] [--category ID] [--method CASH] [--date 2025-06-15] [--notes TEXT]
  edit ID   [same flags as add]
  rm ID
  ls        [--from DATE] [--to DATE] [--category ID] [--type TYPE] [--limit N]

Budgets:
  budget add  --amount 300 [--period MONTHLY] [--category ID] [--start DATE]
  budget edit ID [same flags as budget add]
  budget rm ID
  budget ls

Categories:
  category add --name NAME [--color #RRGGBB] [--icon ICON] [--keywords a,b]
  category edit ID [same flags as category add]
  category rm ID
  category ls

Sync:
  pull | push | sync
  summary   [--month 2025-06]
`

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentCLI, os.Stderr)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	repo := cli.InitSQLite(logger.Logger, cfg.SQLiteDBPath)

	remoteClient := remote.NewClient(cfg.APIBaseURL, remote.NewHTTPClient(cfg.HTTPTimeout), cfg.HTTPTimeout)
	sessions := session.NewManager(remoteClient, session.NewFileStore(cfg.SessionFile))

	queueConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid queue configuration", log.FieldError, err)
		os.Exit(1)
	}
	ctx := log.WithLogger(context.Background(), logger)
	queue, err := backend.NewFactory(logger.Logger).CreateQueue(ctx, queueConfig, services.NewRemoteLeg(remoteClient))
	if err != nil {
		logger.Error("Failed to create remote queue", log.FieldError, err, "backend", cfg.QueueBackend)
		os.Exit(1)
	}

	engine := services.NewSyncEngine(repo, remoteClient, queue.Queue)

	a := &app{
		engine:   engine,
		sessions: sessions,
		remote:   remoteClient,
		out:      os.Stdout,
		grace:    cfg.RemoteGrace,
		now:      time.Now,
	}
	code := a.run(ctx, os.Args[1:])

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RemoteGrace+time.Second)
	if err := queue.Cleanup(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("Remote queue cleanup failed", log.FieldError, err)
	}
	cancel()
	st := engine.CategoryCache().Stats()
	logger.Debug("Category cache usage",
		log.FieldComponent, log.ComponentCache,
		"size", st.Size,
		"hits", st.Hits,
		"misses", st.Misses)
	if err := repo.Close(); err != nil {
		logger.Warn("Failed to close local store", log.FieldError, err)
	}
	os.Exit(code)
}

// app holds what the subcommands need. It only talks to the engine, the
// session manager and, for whoami, the remote profile endpoint.
type app struct {
	engine   *services.SyncEngine
	sessions *session.Manager
	remote   *remote.Client
	out      io.Writer
	grace    time.Duration
	now      func() time.Time
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"login":    runLogin,
	"register": runRegister,
	"logout":   runLogout,
	"whoami":   runWhoami,
	"add":      runAdd,
	"edit":     runEdit,
	"rm":       runRemove,
	"ls":       runList,
	"budget":   runBudget,
	"category": runCategory,
	"pull":     runPull,
	"push":     runPush,
	"sync":     runSync,
	"summary":  runSummary,
}

func (a *app) run(ctx context.Context, args []string) int {
	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		fmt.Fprint(a.out, usage)
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		return 2
	}
	if err := cmd(ctx, a, args[1:]); err != nil {
		slog.Debug("Command failed", log.FieldOperation, name, log.FieldError, err)
		fmt.Fprintf(os.Stderr, "fintrack %s: %v\n", name, err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}
