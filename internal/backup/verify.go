package backup

import (
	"context"
	"errors"
	"os"

	"github.com/dustin/go-humanize"
)

// Verify checks that a backup could run without performing one. All checks
// run; any failure makes the result false.
func (o *Orchestrator) Verify(ctx context.Context) bool {
	ok := true
	check := func(name string, err error) {
		if err != nil {
			ok = false
			o.log.Error().Err(err).Str("check", name).Msg("Backup configuration verification failed")
			return
		}
		o.log.Info().Str("check", name).Msg("Verified")
	}

	if o.cfg.UseS3 {
		check("object storage", o.deps.Store.Ping(ctx))
	}
	if !o.mode.Test {
		if o.deps.DB == nil {
			check("database", errors.New("no database probe configured"))
		} else {
			err := o.deps.DB.Check(ctx)
			check("database", err)
			if err == nil {
				o.logDatabaseSize(ctx)
			}
		}
	}
	check("work directory", probeWritable(o.cfg.WorkDir))
	if !o.cfg.UseS3 {
		check("local backup directory", probeWritable(o.cfg.LocalBackupDir))
	}
	return ok
}

// logDatabaseSize is informational; a failing size query does not fail Verify.
func (o *Orchestrator) logDatabaseSize(ctx context.Context) {
	size, err := o.deps.DB.Size(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("Could not read database size")
		return
	}
	o.log.Info().Str("size", humanize.IBytes(uint64(size))).Msg("Database size")
}

func probeWritable(dir string) error {
	if dir == "" {
		return errors.New("directory not configured")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".write_probe_*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}
