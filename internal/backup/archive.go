package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chesley-web/siteops/internal/procexec"
	"github.com/chesley-web/siteops/internal/storage"
)

func filesArchiveName(ts string) string {
	return fmt.Sprintf("website_files_%s.tar.gz", ts)
}

// writeExcludeFile stores patterns one per line in a temp file outside the
// work dir so it is never uploaded. The caller removes it.
func writeExcludeFile(patterns []string) (string, error) {
	f, err := os.CreateTemp("", "backup_exclude_*.txt")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(strings.Join(patterns, "\n") + "\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func tarCommand(excludeFile, out, sourceDir string) procexec.Command {
	src := filepath.Clean(sourceDir)
	return procexec.Command{
		Name: "tar",
		Args: []string{
			"--exclude-from=" + excludeFile,
			"-czf", out,
			"-C", filepath.Dir(src),
			filepath.Base(src),
		},
	}
}

func (o *Orchestrator) archiveFiles(ctx context.Context, job *Job) (Artifact, error) {
	const step = "files archive"

	if _, err := os.Stat(o.cfg.SourceDir); err != nil {
		return Artifact{}, stepErr(step, KindIO, fmt.Errorf("source directory: %w", err))
	}

	excludeFile, err := writeExcludeFile(o.cfg.Exclude)
	if err != nil {
		return Artifact{}, stepErr(step, KindIO, fmt.Errorf("writing exclude list: %w", err))
	}
	defer os.Remove(excludeFile)

	out := filepath.Join(job.WorkDir, filesArchiveName(job.Timestamp))
	cmd := tarCommand(excludeFile, out, o.cfg.SourceDir)
	o.log.Info().Str("source", o.cfg.SourceDir).Str("archive", out).Msg("Starting website files backup")

	if _, err := o.deps.Runner.Run(ctx, cmd); err != nil {
		_ = os.Remove(out)
		return Artifact{}, stepErr(step, KindSubprocess, err)
	}
	return Artifact{Path: out, Kind: storage.KindWebsite}, nil
}
