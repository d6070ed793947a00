package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"brazekit/internal/config"
	"brazekit/internal/journal"
	"brazekit/internal/ledger"
	"brazekit/internal/logging"
	"brazekit/internal/manifest"
	"brazekit/internal/metrics"
	"brazekit/internal/restore"
	"brazekit/internal/snapshot"
)

const (
	flagSource        = "source"
	flagSnapshotDir   = "snapshot-dir"
	flagManifest      = "manifest"
	flagManifestTopic = "manifest-topic"
	flagSnapshotID    = "snapshot-id"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env holds what every subcommand opens from the shared flags.
type env struct {
	v      *viper.Viper
	logger *zap.Logger
	store  ledger.Store
	reg    *metrics.Registry
}

func setup(cmd *cobra.Command, stderr io.Writer) (*env, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	v, err := config.New(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(v.GetString(config.FlagLogLevel), stderr)
	if err != nil {
		return nil, err
	}
	kind := v.GetString(config.FlagLedger)
	if kind == "" || kind == "none" {
		return nil, errors.WithHint(errors.New("no ledger backend selected"), "pass --ledger=memory|pebble|badger|redis")
	}
	st, err := ledger.Open(kind, v.GetString(config.FlagLedgerDir), v.GetString(config.FlagRedisAddr))
	if err != nil {
		return nil, errors.Wrap(err, "open ledger")
	}
	return &env{v: v, logger: logger, store: st, reg: metrics.NewRegistry()}, nil
}

func (e *env) close() {
	_ = e.store.Close()
	_ = e.logger.Sync()
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Snapshot, restore and inspect the brazeimport record ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	fs := root.PersistentFlags()
	config.RegisterLedgerFlags(fs)
	config.RegisterJournalFlags(fs)
	fs.String(flagSource, "file", "journal source for snapshot offsets and replay: file|kafka|sqlite")
	fs.String(flagSnapshotDir, "./snapshots", "snapshot and file-manifest directory")
	fs.String(flagManifest, "file", "manifest store: file|kafka (snapshot accepts a comma-separated list)")
	fs.String(flagManifestTopic, "brazekit.manifests", "compacted kafka topic for the manifest")
	fs.String(config.FlagLogLevel, "info", "debug|info|warn|error")
	fs.String(config.FlagMetricsTextfile, "", "write restore metrics in text format to this file")

	root.AddCommand(newSnapshotCmd(stdout, stderr), newRestoreCmd(stdout, stderr), newShowCmd(stdout, stderr))
	return root
}

func newSnapshotCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Dump the ledger and publish a manifest pointing at the current journal offset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, stderr)
			if err != nil {
				return err
			}
			defer e.close()
			ctx := cmd.Context()

			src, closeSrc, err := openSource(e.v)
			if err != nil {
				return err
			}
			defer closeSrc()
			offset, err := journal.Length(ctx, src)
			if err != nil {
				return errors.Wrap(err, "measure journal")
			}

			sid := e.v.GetString(flagSnapshotID)
			if sid == "" {
				sid = uuid.NewString()
			}
			snap := snapshot.NewFilesystemSnapshotter(e.v.GetString(flagSnapshotDir))
			n, err := snap.WriteSnapshot(ctx, sid, e.store)
			if err != nil {
				return err
			}

			pub, closePub, err := openPublisher(e.v)
			if err != nil {
				return err
			}
			defer closePub()
			if err := pub.PublishLatest(ctx, sid, offset); err != nil {
				return errors.Wrap(err, "publish manifest")
			}
			e.logger.Info("snapshot written", zap.String("snapshot", sid), zap.String("path", snap.Path(sid)))
			fmt.Fprintf(stdout, "snapshot %s: %d keys, journal offset %d\n", sid, n, offset)
			return nil
		},
	}
	cmd.Flags().String(flagSnapshotID, "", "snapshot id (default: a new UUID)")
	return cmd
}

func newRestoreCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Load the latest snapshot into the ledger and replay the journal after it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, stderr)
			if err != nil {
				return err
			}
			defer e.close()
			ctx := cmd.Context()

			reader, err := openManifestReader(e.v)
			if err != nil {
				return err
			}
			src, closeSrc, err := openSource(e.v)
			if err != nil {
				return err
			}
			defer closeSrc()

			t0 := time.Now()
			r := restore.NewRestorer(e.store, reader, e.v.GetString(flagSnapshotDir))
			r.Metrics = e.reg
			r.Logger = e.logger
			res, err := r.RestoreAndReplay(ctx, src)
			if err != nil {
				return err
			}
			fields := []zap.Field{zap.Int("applied", res.Applied), zap.Int("skipped", res.Skipped), zap.Duration("took", time.Since(t0))}
			if e.v.GetString(flagSource) == "kafka" {
				fields = append(fields, zap.Int64("journal_head", headOffset(ctx, e.v.GetString(config.FlagKafkaBootstrap), e.v.GetString(config.FlagJournalTopic))))
			}
			e.logger.Info("restore finished", fields...)
			if path := e.v.GetString(config.FlagMetricsTextfile); path != "" {
				if err := e.reg.WriteTextfile(path); err != nil {
					e.logger.Warn("write metrics textfile", zap.Error(err))
				}
			}
			fmt.Fprintf(stdout, "restored %d keys from snapshot; replay applied=%d skipped=%d\n", res.Restored, res.Applied, res.Skipped)
			return nil
		},
	}
}

func newShowCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List ledger keys in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, stderr)
			if err != nil {
				return err
			}
			defer e.close()

			all := map[string]ledger.Entry{}
			if err := e.store.Range(cmd.Context(), func(k string, en ledger.Entry) error {
				all[k] = en
				return nil
			}); err != nil {
				return err
			}
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				en := all[k]
				fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", k, en.Kind, en.RunID, time.Unix(en.SentAt, 0).UTC().Format(time.RFC3339))
			}
			fmt.Fprintf(stdout, "%d keys\n", len(keys))
			return nil
		},
	}
}

func openSource(v *viper.Viper) (journal.Scanner, func(), error) {
	switch src := v.GetString(flagSource); src {
	case "file":
		return journal.NewFileReader(filepath.Join(v.GetString(config.FlagJournalDir), journal.FileName)), func() {}, nil
	case "kafka":
		return journal.NewKafkaReader(v.GetString(config.FlagKafkaBootstrap), v.GetString(config.FlagJournalTopic)), func() {}, nil
	case "sqlite":
		sj, err := journal.OpenSQLite(v.GetString(config.FlagSQLitePath))
		if err != nil {
			return nil, nil, err
		}
		return sj, func() { _ = sj.Close() }, nil
	default:
		return nil, nil, errors.Newf("unknown journal source %q (want file|kafka|sqlite)", src)
	}
}

func openPublisher(v *viper.Viper) (manifest.Publisher, func(), error) {
	var (
		pubs    []manifest.Publisher
		closers []func()
	)
	for _, m := range config.SplitList(v.GetString(flagManifest)) {
		switch m {
		case "file":
			pubs = append(pubs, manifest.NewFilesystemManifest(v.GetString(flagSnapshotDir)))
		case "kafka":
			km := manifest.NewKafkaManifest(v.GetString(config.FlagKafkaBootstrap), v.GetString(flagManifestTopic), manifest.DefaultKey)
			pubs = append(pubs, km)
			closers = append(closers, func() { _ = km.Close() })
		default:
			return nil, nil, errors.Newf("unknown manifest store %q (want file|kafka)", m)
		}
	}
	if len(pubs) == 0 {
		return nil, nil, errors.New("no manifest store selected")
	}
	return manifest.MultiPublisher(pubs...), func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func openManifestReader(v *viper.Viper) (manifest.Reader, error) {
	stores := config.SplitList(v.GetString(flagManifest))
	if len(stores) == 0 {
		return nil, errors.New("no manifest store selected")
	}
	switch stores[0] {
	case "file":
		return manifest.NewFilesystemManifest(v.GetString(flagSnapshotDir)), nil
	case "kafka":
		return manifest.NewKafkaReader(v.GetString(config.FlagKafkaBootstrap), v.GetString(flagManifestTopic), manifest.DefaultKey), nil
	default:
		return nil, errors.Newf("unknown manifest store %q (want file|kafka)", stores[0])
	}
}

// headOffset returns the last offset of partition 0 for a topic, or -1.
func headOffset(ctx context.Context, bootstrap, topic string) int64 {
	brokers := journal.SplitBrokers(bootstrap)
	if len(brokers) == 0 {
		return -1
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := kafka.DialLeader(ctx, "tcp", brokers[0], topic, 0)
	if err != nil {
		return -1
	}
	defer conn.Close()
	off, err := conn.ReadLastOffset()
	if err != nil {
		return -1
	}
	return off - 1
}
