package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sandeepkandula/bucketmirror/config"
	"github.com/sandeepkandula/bucketmirror/sync"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "bucketmirror",
		Short: "Sync objects from a remote object store to your filesystem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, path)
			if err != nil {
				return err
			}
			level, _ := cfg.Level()

			// from here on failures are not usage errors and are logged
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			logger := newLogger(level)
			slog.SetDefault(logger)
			return run(cmd.Context(), cfg, logger)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringP("config", "c", "", "path to config file, CLI options override options from the file")
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("cannot open object store", "backend", cfg.Backend, "error", err)
		return err
	}
	defer closeStore()

	logger.Info("mirroring bucket", "backend", cfg.Backend, "bucket", cfg.Bucket, "mount", cfg.Mount, "once", cfg.Once, "dry_run", cfg.DryRun)
	err = sync.Sync(ctx, sync.Options{
		Mount:  cfg.Mount,
		Store:  store,
		Once:   cfg.Once,
		DryRun: cfg.DryRun,
		Logger: logger,
	})
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted, stopping")
		return nil
	}
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (sync.ObjectStore, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case config.BackendNATS:
		store, closeConn, err := sync.DialNATS(ctx, cfg.Host, cfg.Token, cfg.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return store, closeConn, nil

	case config.BackendS3:
		store, err := sync.DialS3(ctx, sync.S3Config{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		}, cfg.PollInterval)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil

	case config.BackendMinio:
		store, err := sync.DialMinio(sync.MinioConfig{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Insecure:  cfg.Insecure,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown backend %q", config.ErrConfiguration, cfg.Backend)
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	}))
}
