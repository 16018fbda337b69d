package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chesley-web/siteops/internal/config"
	"github.com/chesley-web/siteops/internal/procexec"
	"github.com/chesley-web/siteops/internal/storage"
	"github.com/klauspost/compress/gzip"
)

func dumpName(ts string) string {
	return fmt.Sprintf("db_backup_%s.sql.gz", ts)
}

func sqliteCopyName(ts string) string {
	return fmt.Sprintf("db_backup_%s.sqlite3", ts)
}

// pgDumpCommand passes the password through the child environment only.
func pgDumpCommand(db config.DatabaseConfig) procexec.Command {
	args := []string{"-h", db.Host}
	if db.Port != "" {
		args = append(args, "-p", db.Port)
	}
	if db.User != "" {
		args = append(args, "-U", db.User)
	}
	args = append(args, "--clean", "--no-owner", "--no-acl", db.DBName)

	cmd := procexec.Command{Name: "pg_dump", Args: args}
	if db.Password != "" {
		cmd.Env = []string{"PGPASSWORD=" + db.Password}
	}
	return cmd
}

type byteCounter struct {
	n int64
}

func (c *byteCounter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

func (o *Orchestrator) dumpDatabase(ctx context.Context, job *Job) (Artifact, error) {
	if o.mode.Test {
		return o.copySQLite(job)
	}

	const step = "database dump"
	out := filepath.Join(job.WorkDir, dumpName(job.Timestamp))
	o.log.Info().Str("database", o.cfg.Database.DBName).Str("dump", out).Msg("Starting database backup")

	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return Artifact{}, stepErr(step, KindIO, err)
	}

	counter := &byteCounter{}
	gz := gzip.NewWriter(f)
	cmd := pgDumpCommand(o.cfg.Database)
	cmd.Stdout = io.MultiWriter(gz, counter)

	_, runErr := o.deps.Runner.Run(ctx, cmd)
	closeErr := errors.Join(gz.Close(), f.Close())
	if runErr != nil {
		_ = os.Remove(out)
		return Artifact{}, stepErr(step, KindSubprocess, runErr)
	}
	if closeErr != nil {
		_ = os.Remove(out)
		return Artifact{}, stepErr(step, KindIO, closeErr)
	}
	if counter.n == 0 {
		_ = os.Remove(out)
		return Artifact{}, stepErr(step, KindValidation, errors.New("pg_dump produced no output"))
	}

	o.log.Debug().Int64("raw_bytes", counter.n).Msg("Database dump streamed")
	return Artifact{Path: out, Kind: storage.KindWebsite}, nil
}

// copySQLite backs up the development database file. A missing file fails the step.
func (o *Orchestrator) copySQLite(job *Job) (Artifact, error) {
	const step = "database copy"

	src := o.cfg.Database.DBName
	if !filepath.IsAbs(src) {
		src = filepath.Join(o.cfg.SourceDir, src)
	}
	if _, err := os.Stat(src); err != nil {
		return Artifact{}, stepErr(step, KindIO, fmt.Errorf("test database not found: %w", err))
	}

	out := filepath.Join(job.WorkDir, sqliteCopyName(job.Timestamp))
	o.log.Info().Str("database", src).Str("copy", out).Msg("Copying test database")
	if err := storage.CopyFile(src, out); err != nil {
		return Artifact{}, stepErr(step, KindIO, err)
	}
	return Artifact{Path: out, Kind: storage.KindWebsite}, nil
}
