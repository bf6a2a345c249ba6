// Command linkctl runs maintenance against the Postgres store outside the
// HTTP server, for cron jobs and deploy hooks.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signlink/internal/audit"
	auditpostgres "signlink/internal/audit/store/postgres"
	contractstore "signlink/internal/contracts/store"
	dashboardservice "signlink/internal/dashboard/service"
	linkservice "signlink/internal/links/service"
	linkstore "signlink/internal/links/store"
	"signlink/internal/maintenance"
	"signlink/internal/platform/config"
	"signlink/internal/platform/logger"
	"signlink/internal/platform/postgres"
)

const usage = "usage: linkctl cleanup [--dry-run] [--keep-audit-days=N] [--grace-days=N] [--quiet] | linkctl status | linkctl migrate-schema"

var errUsage = errors.New(usage)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	cfg := config.Load()
	log := logger.New()

	switch args[0] {
	case "cleanup":
		return runCleanup(ctx, cfg, log, args[1:], out)
	case "status":
		return runStatus(ctx, cfg, log, out)
	case "migrate-schema":
		return withDB(ctx, cfg, func(db *sql.DB) error {
			return postgres.Migrate(db, log)
		})
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

type cleanupFlags struct {
	dryRun        bool
	keepAuditDays int
	graceDays     int
	quiet         bool
}

func parseCleanupFlags(args []string, defaults maintenance.Options) (maintenance.Options, bool, error) {
	var f cleanupFlags
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&f.dryRun, "dry-run", false, "count rows without deleting")
	fs.IntVar(&f.keepAuditDays, "keep-audit-days", int(defaults.AuditRetention/(24*time.Hour)), "audit retention in days")
	fs.IntVar(&f.graceDays, "grace-days", int(defaults.LinkGrace/(24*time.Hour)), "days an expired link is kept")
	fs.BoolVar(&f.quiet, "quiet", false, "print nothing on success")
	if err := fs.Parse(args); err != nil {
		return maintenance.Options{}, false, fmt.Errorf("%v: %w", err, errUsage)
	}
	if f.keepAuditDays < 1 || f.graceDays < 0 {
		return maintenance.Options{}, false, fmt.Errorf("retention days out of range: %w", errUsage)
	}
	return maintenance.Options{
		LinkGrace:      time.Duration(f.graceDays) * 24 * time.Hour,
		AuditRetention: time.Duration(f.keepAuditDays) * 24 * time.Hour,
		DryRun:         f.dryRun,
	}, f.quiet, nil
}

func runCleanup(ctx context.Context, cfg config.Server, log *slog.Logger, args []string, out io.Writer) error {
	defaults := maintenance.Options{LinkGrace: cfg.Links.RetentionGrace, AuditRetention: cfg.Links.AuditRetention}
	opts, quiet, err := parseCleanupFlags(args, defaults)
	if err != nil {
		return err
	}
	return withDB(ctx, cfg, func(db *sql.DB) error {
		auditStore := auditpostgres.New(db)
		registry := linkservice.New(linkstore.NewPostgres(db))
		svc := maintenance.New(registry, contractstore.NewPostgres(db), auditStore,
			audit.NewRecorder(auditStore, log, nil), defaults, log, nil)

		res, err := svc.Cleanup(ctx, opts)
		if err != nil {
			return err
		}
		if quiet {
			return nil
		}
		return writeJSON(out, res)
	})
}

type statusReport struct {
	SchemaVersion uint                       `json:"schemaVersion"`
	SchemaDirty   bool                       `json:"schemaDirty"`
	Overview      *dashboardservice.Overview `json:"overview"`
}

func runStatus(ctx context.Context, cfg config.Server, _ *slog.Logger, out io.Writer) error {
	return withDB(ctx, cfg, func(db *sql.DB) error {
		version, dirty, err := postgres.SchemaVersion(db)
		if err != nil {
			return err
		}
		svc := dashboardservice.New(
			linkservice.New(linkstore.NewPostgres(db)),
			contractstore.NewPostgres(db),
			auditpostgres.New(db),
		)
		overview, err := svc.Overview(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, statusReport{SchemaVersion: version, SchemaDirty: dirty, Overview: overview})
	})
}

func withDB(ctx context.Context, cfg config.Server, fn func(db *sql.DB) error) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
