package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chesley-web/siteops/internal/cache"
	"github.com/chesley-web/siteops/internal/config"
	"github.com/chesley-web/siteops/internal/notify"
	"github.com/chesley-web/siteops/internal/procexec"
	"github.com/chesley-web/siteops/internal/storage"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// DBChecker verifies database connectivity and reports the database size.
type DBChecker interface {
	Check(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
}

// Deps are the collaborators of an Orchestrator. Store, Layout and Runner
// are required; the rest fall back to no-op or logging implementations.
type Deps struct {
	Store    storage.ObjectStorage
	Layout   storage.Layout
	Runner   procexec.Runner
	Notifier notify.Notifier
	Ledger   cache.RunLedger
	DB       DBChecker
	Log      zerolog.Logger
	Now      func() time.Time
}

// Orchestrator runs one backup. It is not safe for concurrent use.
type Orchestrator struct {
	cfg  *config.BackupConfig
	mode Mode
	deps Deps
	log  zerolog.Logger
}

func NewOrchestrator(cfg *config.BackupConfig, mode Mode, deps Deps) (*Orchestrator, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Layout == nil || deps.Runner == nil {
		return nil, errors.New("backup orchestrator needs a store, a layout and a runner")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(deps.Log)
	}
	if deps.Ledger == nil {
		deps.Ledger = cache.NopLedger{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, mode: mode, deps: deps, log: deps.Log}, nil
}

type runReport struct {
	usage       *Usage
	retention   *RetentionResult
	artifacts   []Artifact
	storedKeys  []string
	storedBytes int64
}

// currentUsage estimates target usage after this run. ok is false when the
// usage check did not succeed.
func (r *runReport) currentUsage() (int64, bool) {
	if r.usage == nil {
		return 0, false
	}
	total := r.usage.TotalBytes + r.storedBytes
	if r.retention != nil {
		total -= r.retention.DeletedBytes
	}
	return total, true
}

// Run performs the backup and reports whether it succeeded. Failures are
// logged and notified; the work directory is removed either way.
func (o *Orchestrator) Run(ctx context.Context) bool {
	job := newJob(o.deps.Now(), o.mode)
	o.log = o.deps.Log.With().
		Str("run_id", job.RunID).
		Str("timestamp", job.Timestamp).
		Str("mode", job.Mode.String()).
		Logger()

	if o.mode.DryRun {
		o.plan(job)
		return true
	}

	if err := o.deps.Ledger.Acquire(ctx, job.RunID); err != nil {
		return o.fail(ctx, stepErr("run lock", KindStorage, err))
	}
	defer func() {
		if err := o.deps.Ledger.Release(context.Background(), job.RunID); err != nil {
			o.log.Warn().Err(err).Msg("Failed to release backup lock")
		}
	}()

	o.log.Info().Str("target", o.deps.Store.Describe()).Msg("Starting backup")
	report, err := o.execute(ctx, job)
	o.cleanup(job)
	o.record(ctx, job, report, err)

	if err != nil {
		return o.fail(ctx, err)
	}

	o.log.Info().
		Int("artifacts", len(report.storedKeys)).
		Str("stored", humanize.IBytes(uint64(report.storedBytes))).
		Msg("Backup completed")
	o.notify(ctx, SubjectSuccess, successBody(job, o.deps.Store.Describe(), report))
	return true
}

func (o *Orchestrator) execute(ctx context.Context, job *Job) (*runReport, error) {
	report := &runReport{}

	o.checkUsageAndRetention(ctx, report)

	if err := o.prepareWorkDir(job); err != nil {
		return report, err
	}

	if o.mode.wantFiles() {
		a, err := o.archiveFiles(ctx, job)
		if err != nil {
			return report, err
		}
		report.artifacts = append(report.artifacts, a)
	}

	if o.mode.wantDatabase() {
		a, err := o.dumpDatabase(ctx, job)
		if err != nil {
			return report, err
		}
		report.artifacts = append(report.artifacts, a)
	}

	if o.mode.wantSecrets(o.cfg.EncryptionPassword) {
		as, err := o.encryptSecrets(job)
		if err != nil {
			return report, err
		}
		report.artifacts = append(report.artifacts, as...)
	}

	if err := o.store(ctx, job, report); err != nil {
		return report, err
	}
	return report, nil
}

// checkUsageAndRetention never fails the run. Retention is skipped when the
// usage check could not list the target.
func (o *Orchestrator) checkUsageAndRetention(ctx context.Context, report *runReport) {
	usage, err := CheckUsage(ctx, o.deps.Store, o.cfg.MaxSizeBytes())
	if err != nil {
		o.log.Error().Err(err).Msg("Failed to check storage usage")
		return
	}
	report.usage = &usage
	o.log.Info().Str("usage", usage.String()).Int("objects", usage.Objects).Msg("Storage usage checked")

	if usage.Exceeded() {
		msg := fmt.Sprintf("Storage usage at %s (%s) is above the limit of %s",
			o.deps.Store.Describe(),
			humanize.IBytes(uint64(usage.TotalBytes)),
			humanize.IBytes(uint64(usage.LimitBytes)))
		o.log.Warn().Str("usage", usage.String()).Msg(msg)
		o.notify(ctx, SubjectStorageWarning, msg)
	}

	res, err := ApplyRetention(ctx, o.deps.Store, o.deps.Layout.RetentionPrefix(), o.cfg.RetentionDays, o.deps.Now(), o.log)
	if err != nil {
		o.log.Error().Err(err).Int("deleted", len(res.Deleted)).Msg("Retention cleanup failed")
	}
	report.retention = &res
	o.log.Info().
		Int("deleted", len(res.Deleted)).
		Int("retained", res.Retained).
		Str("retained_size", humanize.IBytes(uint64(res.RetainedBytes))).
		Msg("Current backup size")
}

// prepareWorkDir creates a fresh per-run directory under the configured work dir.
func (o *Orchestrator) prepareWorkDir(job *Job) error {
	if err := os.MkdirAll(o.cfg.WorkDir, 0o750); err != nil {
		return stepErr("work directory", KindIO, err)
	}
	dir, err := os.MkdirTemp(o.cfg.WorkDir, "run_"+job.Timestamp+"_")
	if err != nil {
		return stepErr("work directory", KindIO, err)
	}
	job.WorkDir = dir
	o.log.Debug().Str("work_dir", dir).Msg("Created work directory")
	return nil
}

func (o *Orchestrator) store(ctx context.Context, job *Job, report *runReport) error {
	const step = "store"

	o.log.Info().Str("target", o.deps.Store.Describe()).Int("artifacts", len(report.artifacts)).Msg("Storing backup artifacts")
	for _, a := range report.artifacts {
		info, err := os.Stat(a.Path)
		if err != nil {
			return stepErr(step, KindIO, err)
		}
		key := o.deps.Layout.Key(a.Kind, job.Timestamp, filepath.Base(a.Path))
		if err := o.deps.Store.UploadFile(ctx, key, a.Path); err != nil {
			return stepErr(step, KindStorage, err)
		}
		report.storedKeys = append(report.storedKeys, key)
		report.storedBytes += info.Size()
		o.log.Info().Str("key", key).Str("size", humanize.IBytes(uint64(info.Size()))).Msg("Stored artifact")

		if a.Ephemeral {
			if err := os.Remove(a.Path); err != nil {
				o.log.Warn().Err(err).Str("path", a.Path).Msg("Failed to remove local copy")
			}
		}
	}
	return nil
}

// cleanup removes the run directory, then the parent work dir if it is empty.
func (o *Orchestrator) cleanup(job *Job) {
	if job.WorkDir == "" {
		return
	}
	if err := os.RemoveAll(job.WorkDir); err != nil {
		o.log.Warn().Err(err).Str("work_dir", job.WorkDir).Msg("Failed to remove work directory")
		return
	}
	_ = os.Remove(o.cfg.WorkDir)
	o.log.Debug().Str("work_dir", job.WorkDir).Msg("Removed work directory")
}

func (o *Orchestrator) record(ctx context.Context, job *Job, report *runReport, runErr error) {
	rec := cache.RunRecord{
		RunID:       job.RunID,
		Timestamp:   job.Timestamp,
		Success:     runErr == nil,
		StoredBytes: report.storedBytes,
		FinishedAt:  o.deps.Now(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := o.deps.Ledger.Record(ctx, rec); err != nil {
		o.log.Warn().Err(err).Msg("Failed to record run outcome")
	}
}

func (o *Orchestrator) fail(ctx context.Context, err error) bool {
	msg := "Backup process failed: " + err.Error()
	ev := o.log.Error().Err(err)
	if kind, ok := KindOf(err); ok {
		ev = ev.Str("kind", string(kind))
	}
	ev.Msg("Backup failed")
	o.notify(ctx, SubjectFailed, msg)
	return false
}

func (o *Orchestrator) notify(ctx context.Context, subject, body string) {
	if err := o.deps.Notifier.Notify(ctx, subject, body); err != nil {
		o.log.Error().Err(err).Str("subject", subject).Msg("Failed to send notification")
		return
	}
	o.log.Info().Str("subject", subject).Msg("Notification sent")
}
