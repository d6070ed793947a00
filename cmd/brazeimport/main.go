package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"brazekit/internal/config"
	"brazekit/internal/importer"
	"brazekit/internal/journal"
	"brazekit/internal/ledger"
	"brazekit/internal/logging"
	"brazekit/internal/metrics"
	"brazekit/internal/transform"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "brazeimport <export.json>",
		Short:         "Replay a historical order export into Braze as purchases and order_completed events",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.Context(), cmd, args, stdout, stderr)
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				if hint := errors.FlattenHints(err); hint != "" {
					fmt.Fprintln(stderr, hint)
				}
			}
			return err
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	config.RegisterImportFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, args []string, stdout, stderr io.Writer) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	v, err := config.New(cmd.Flags())
	if err != nil {
		return err
	}
	cfg := config.Load(v)

	logger, err := logging.New(cfg.LogLevel, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := importer.Options{
		Path:           importer.SelectPath(args),
		APIKey:         cfg.APIKey,
		Endpoint:       cfg.Endpoint,
		ExternalID:     cfg.ExternalID,
		DryRun:         cfg.DryRun,
		RequestTimeout: cfg.RequestTimeout,
		// One reference instant per run keeps the transform deterministic.
		Clock:  transform.Clock{Reference: time.Now().UTC(), Strict: cfg.StrictTimestamps},
		Logger: logger,
		RunID:  uuid.NewString(),
		Out:    stdout,
	}
	if err := importer.CheckInputs(opts); err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	opts.Metrics = reg
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: reg.Router(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	if cfg.MetricsTextfile != "" {
		defer func() {
			if werr := reg.WriteTextfile(cfg.MetricsTextfile); werr != nil {
				logger.Warn("write metrics textfile", zap.String("path", cfg.MetricsTextfile), zap.Error(werr))
			}
		}()
	}

	st, err := ledger.Open(cfg.Ledger, cfg.LedgerDir, cfg.RedisAddr)
	if err != nil {
		return errors.Wrap(err, "open ledger")
	}
	if st != nil {
		defer st.Close()
		opts.Ledger = st
	}

	jw, closeJournal, err := journal.Open(cfg.Journal, journal.Options{
		Dir:            cfg.JournalDir,
		KafkaBootstrap: cfg.KafkaBootstrap,
		Topic:          cfg.JournalTopic,
		SQLitePath:     cfg.SQLitePath,
	})
	if err != nil {
		return errors.Wrap(err, "open journal")
	}
	defer func() {
		if cerr := closeJournal(); cerr != nil {
			logger.Warn("close journal", zap.Error(cerr))
		}
	}()
	opts.Journal = jw

	logger.Debug("starting import",
		zap.String("run", opts.RunID),
		zap.String("path", opts.Path),
		zap.String("ledger", cfg.Ledger),
		zap.Strings("journal", cfg.Journal),
		zap.Bool("dry_run", cfg.DryRun))

	res, err := importer.Run(ctx, opts)
	if err != nil {
		logger.Error("import failed",
			zap.String("run", opts.RunID),
			zap.Int("purchases_sent", res.SentPurchases),
			zap.Int("events_sent", res.SentEvents),
			zap.Error(err))
		return err
	}
	return nil
}
