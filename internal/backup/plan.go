package backup

import (
	"path/filepath"

	"github.com/chesley-web/siteops/internal/envcrypt"
	"github.com/chesley-web/siteops/internal/storage"
	"github.com/dustin/go-humanize"
)

// plan logs what a run would do. It has no side effects besides logging.
func (o *Orchestrator) plan(job *Job) {
	ts := job.Timestamp
	workDir := filepath.Join(o.cfg.WorkDir, "run_"+ts)
	o.log.Info().Str("target", o.deps.Store.Describe()).Msg("Dry run, no changes will be made")
	o.log.Info().Str("limit", humanize.IBytes(uint64(o.cfg.MaxSizeBytes()))).Msg("Would check storage usage")
	o.log.Info().
		Str("prefix", o.deps.Layout.RetentionPrefix()).
		Int("retention_days", o.cfg.RetentionDays).
		Msg("Would delete backups older than the retention period")
	o.log.Info().Str("work_dir", workDir).Msg("Would create work directory")

	planStore := func(kind storage.ArtifactKind, name string) {
		o.log.Info().Str("key", o.deps.Layout.Key(kind, ts, name)).Msg("Would store artifact")
	}

	if o.mode.wantFiles() {
		out := filepath.Join(workDir, filesArchiveName(ts))
		cmd := tarCommand("<exclude-list>", out, o.cfg.SourceDir)
		o.log.Info().Str("command", cmd.String()).Int("exclude_patterns", len(o.cfg.Exclude)).Msg("Would create website backup")
		planStore(storage.KindWebsite, filesArchiveName(ts))
	}

	if o.mode.wantDatabase() {
		if o.mode.Test {
			o.log.Info().Str("database", o.cfg.Database.DBName).Msg("Would copy test database")
			planStore(storage.KindWebsite, sqliteCopyName(ts))
		} else {
			cmd := pgDumpCommand(o.cfg.Database)
			o.log.Info().Str("command", cmd.String()+" | gzip").Msg("Would create database backup")
			planStore(storage.KindWebsite, dumpName(ts))
		}
	}

	if o.mode.wantSecrets(o.cfg.EncryptionPassword) {
		encName := filepath.Base(o.cfg.SecretsFile) + ".enc"
		o.log.Info().
			Str("file", o.cfg.SecretsFile).
			Int("kdf_iterations", envcrypt.Iterations).
			Msg("Would encrypt secrets file")
		planStore(storage.KindEnv, encName)
		planStore(storage.KindEnv, envcrypt.SaltFileName)
	}

	o.log.Info().Str("work_dir", workDir).Msg("Would remove work directory")
	o.log.Info().Str("subject", SubjectSuccess).Msg("Would send notification")
}
