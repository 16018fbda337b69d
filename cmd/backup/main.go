package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chesley-web/siteops/internal/backup"
	"github.com/chesley-web/siteops/internal/cache"
	"github.com/chesley-web/siteops/internal/config"
	"github.com/chesley-web/siteops/internal/database"
	"github.com/chesley-web/siteops/internal/notify"
	"github.com/chesley-web/siteops/internal/procexec"
	"github.com/chesley-web/siteops/internal/storage"
	"github.com/chesley-web/siteops/pkg/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "backup",
		Usage: "Back up the website database, files and secrets",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "test-mode",
				Usage: "Run against the development setup (SQLite copy, local storage)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Log what would be done without changing anything",
			},
			&cli.BoolFlag{
				Name:  "db-only",
				Usage: "Only back up the database",
			},
			&cli.BoolFlag{
				Name:  "files-only",
				Usage: "Only back up website files",
			},
			&cli.BoolFlag{
				Name:  "env-only",
				Usage: "Only back up the encrypted secrets file",
			},
			&cli.BoolFlag{
				Name:  "verify-only",
				Usage: "Check storage, database and directory access without backing up",
			},
			&cli.BoolFlag{
				Name:  "local-only",
				Usage: "Store backups in the local backup directory instead of S3",
			},
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Env file to load (default .env.dev in test mode, /opt/website/.env.prod otherwise)",
				EnvVars: []string{"BACKUP_ENV_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"BACKUP_LOG_LEVEL"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	mode := backup.Mode{
		Test:       c.Bool("test-mode"),
		DryRun:     c.Bool("dry-run"),
		DBOnly:     c.Bool("db-only"),
		FilesOnly:  c.Bool("files-only"),
		EnvOnly:    c.Bool("env-only"),
		VerifyOnly: c.Bool("verify-only"),
		LocalOnly:  c.Bool("local-only"),
	}
	if err := mode.Validate(); err != nil {
		return err
	}

	cfg, err := config.LoadBackup(config.BackupOptions{
		EnvFile:   c.String("env-file"),
		TestMode:  mode.Test,
		LocalOnly: mode.LocalOnly,
		EnvOnly:   mode.EnvOnly,
	})
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// A dry run must not write anything, log files included.
	logOpts := logger.Options{Level: c.String("log-level"), Dir: cfg.LogDir, FilePrefix: "backup"}
	if mode.DryRun {
		logOpts.Level = "debug"
		logOpts.Dir = ""
	}
	lg, err := logger.New(logOpts)
	if err != nil {
		return err
	}
	defer lg.Close()
	log := lg.Logger

	envName := "production"
	if cfg.Development {
		envName = "test"
	}
	log.Info().Str("env", envName).Str("env_file", cfg.EnvFile).Str("mode", mode.String()).Msg("Starting backup process")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, layout, err := newStore(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Backup script failed")
		return cli.Exit("", 1)
	}

	ledger, err := newLedger(ctx, cfg, mode)
	if err != nil {
		log.Error().Err(err).Msg("Backup script failed")
		return cli.Exit("", 1)
	}
	defer ledger.Close()

	deps := backup.Deps{
		Store:    store,
		Layout:   layout,
		Runner:   procexec.NewExecRunner(),
		Notifier: notify.New(cfg.Mail, log),
		Ledger:   ledger,
		Log:      log,
	}
	if !mode.Test {
		probe, err := database.NewProbe(cfg.Database)
		if err != nil {
			log.Error().Err(err).Msg("Backup script failed")
			return cli.Exit("", 1)
		}
		deps.DB = probe
	}

	orch, err := backup.NewOrchestrator(cfg, mode, deps)
	if err != nil {
		return err
	}

	var ok bool
	if mode.VerifyOnly {
		ok = orch.Verify(ctx)
	} else {
		ok = orch.Run(ctx)
	}
	if !ok {
		return cli.Exit("", 1)
	}
	return nil
}

func newStore(cfg *config.BackupConfig) (storage.ObjectStorage, storage.Layout, error) {
	if !cfg.UseS3 {
		return storage.NewLocalStorage(cfg.LocalBackupDir), storage.LocalLayout{}, nil
	}
	client, err := storage.NewS3Client(storage.S3Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		UseSSL:    cfg.S3.UseSSL,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, storage.RemoteLayout{Prefix: cfg.S3Prefix}, nil
}

// newLedger skips Redis for runs that never take the lock.
func newLedger(ctx context.Context, cfg *config.BackupConfig, mode backup.Mode) (cache.RunLedger, error) {
	if mode.DryRun || mode.VerifyOnly {
		return cache.NopLedger{}, nil
	}
	return cache.NewRunLedger(ctx, cfg.Lock)
}
