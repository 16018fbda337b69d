package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chesley-web/siteops/internal/config"
	"github.com/chesley-web/siteops/internal/imageopt"
	"github.com/chesley-web/siteops/pkg/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "optimize-images",
		Usage: "Resize and recompress images to JPEG and WebP, archiving the originals",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Env file providing INPUT_DIR, OUTPUT_DIR, ORIGINAL_DIR and LOG_DIR",
				Value:   ".env.dev",
				EnvVars: []string{"IMAGE_ENV_FILE"},
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of images processed concurrently (default from IMAGE_WORKERS)",
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
	cfg, err := config.LoadImages(c.String("env-file"))
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if w := c.Int("workers"); w > 0 {
		cfg.Workers = w
	}

	lg, err := logger.New(logger.Options{Level: cfg.LogLevel, Dir: cfg.LogDir, FilePrefix: "image_optimization"})
	if err != nil {
		return err
	}
	defer lg.Close()
	log := lg.Logger

	opts := []imageopt.Option{}
	if cfg.CategoryFile != "" {
		classifier, err := imageopt.LoadClassifier(cfg.CategoryFile)
		if err != nil {
			log.Error().Err(err).Msg("Invalid image category file")
			return cli.Exit("", 1)
		}
		opts = append(opts, imageopt.WithClassifier(classifier))
	}

	log.Info().
		Str("input_dir", cfg.InputDir).
		Str("output_dir", cfg.OutputDir).
		Str("original_dir", cfg.OriginalDir).
		Str("log_file", lg.FilePath).
		Msg("Starting image optimization process")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := imageopt.New(cfg, log, opts...).ProcessDir(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Image optimization failed")
		return cli.Exit("", 1)
	}

	log.Info().
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("skipped", len(summary.Skipped)).
		Msg("Image optimization process completed")
	if len(summary.FailedFiles) > 0 {
		log.Warn().Str("files", strings.Join(summary.FailedFiles, ", ")).Msg("Failed files")
	}
	return nil
}
