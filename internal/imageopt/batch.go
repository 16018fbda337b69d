package imageopt

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Summary aggregates one ProcessDir call. Skipped files failed validation and
// are not counted as successful or failed.
type Summary struct {
	Successful  int
	Failed      int
	FailedFiles []string
	Skipped     []string
	Tasks       []*Task
}

// ValidateImage reports whether path has a decodable image header.
func ValidateImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, _, err := image.DecodeConfig(f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return nil
}

// ProcessDir optimizes every valid image in the input directory on a bounded
// pool of workers. Once dispatched, a task runs to completion; ctx only stops
// new tasks from starting.
func (o *Optimizer) ProcessDir(ctx context.Context) (Summary, error) {
	var summary Summary

	for _, dir := range []string{o.outputDir, o.originalDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return summary, fmt.Errorf("failed creating %s: %w", dir, err)
		}
	}

	tasks, skipped, err := o.collect()
	if err != nil {
		return summary, err
	}
	summary.Skipped = skipped
	summary.Tasks = tasks
	o.log.Info().Int("images", len(tasks)).Int("skipped", len(skipped)).Int("workers", o.workers).Msg("Found image files to process")

	g := new(errgroup.Group)
	g.SetLimit(o.workers)
	for _, task := range tasks {
		if ctx.Err() != nil {
			task.Status = TaskFailed
			task.Err = ctx.Err()
			continue
		}
		g.Go(func() error {
			task.Status = TaskProcessing
			if err := o.process(task); err != nil {
				task.Status = TaskFailed
				task.Err = err
				o.log.Error().Err(err).Str("file", filepath.Base(task.Input)).Msg("Error optimizing image")
				return nil
			}
			task.Status = TaskCompleted
			return nil
		})
	}
	_ = g.Wait()

	for _, task := range tasks {
		if task.Status == TaskCompleted {
			summary.Successful++
			continue
		}
		summary.Failed++
		summary.FailedFiles = append(summary.FailedFiles, filepath.Base(task.Input))
	}
	return summary, nil
}

// collect lists regular files in the input directory, validates them and
// assigns each valid one a unique output stem.
func (o *Optimizer) collect() ([]*Task, []string, error) {
	entries, err := os.ReadDir(o.inputDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed listing %s: %w", o.inputDir, err)
	}

	var (
		tasks   []*Task
		skipped []string
		stems   = map[string]bool{}
	)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(o.inputDir, entry.Name())
		if err := ValidateImage(path); err != nil {
			o.log.Info().Err(err).Str("file", entry.Name()).Msg("File is not a valid image, skipping")
			skipped = append(skipped, entry.Name())
			continue
		}

		ext := filepath.Ext(entry.Name())
		stem := strings.TrimSuffix(entry.Name(), ext)
		if stems[stem] {
			stem = stem + "_" + strings.TrimPrefix(strings.ToLower(ext), ".")
		}
		stems[stem] = true

		tasks = append(tasks, &Task{
			Input:    path,
			Stem:     stem,
			Category: o.classifier.Classify(entry.Name()),
			Status:   TaskQueued,
		})
	}
	return tasks, skipped, nil
}
