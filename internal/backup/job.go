package backup

import (
	"errors"
	"strings"
	"time"

	"github.com/chesley-web/siteops/internal/storage"
	"github.com/google/uuid"
)

// TimestampLayout names backup runs, artifacts and storage folders.
const TimestampLayout = "20060102_150405"

// Mode holds the command-line switches of one run.
type Mode struct {
	Test       bool
	DryRun     bool
	DBOnly     bool
	FilesOnly  bool
	EnvOnly    bool
	VerifyOnly bool
	LocalOnly  bool
}

var (
	ErrConflictingModes = errors.New("--db-only, --files-only and --env-only are mutually exclusive")
	// ErrVerifyDryRun rejects a dry run of verification, which writes probe files.
	ErrVerifyDryRun = errors.New("--verify-only cannot be combined with --dry-run")
)

func (m Mode) Validate() error {
	n := 0
	for _, set := range []bool{m.DBOnly, m.FilesOnly, m.EnvOnly} {
		if set {
			n++
		}
	}
	if n > 1 {
		return ErrConflictingModes
	}
	if m.VerifyOnly && m.DryRun {
		return ErrVerifyDryRun
	}
	return nil
}

func (m Mode) full() bool {
	return !m.DBOnly && !m.FilesOnly && !m.EnvOnly
}

func (m Mode) wantFiles() bool {
	return !m.DBOnly && !m.EnvOnly
}

func (m Mode) wantDatabase() bool {
	return !m.FilesOnly && !m.EnvOnly
}

// wantSecrets is true in env-only mode, or for a full run when a password is configured.
func (m Mode) wantSecrets(password string) bool {
	return m.EnvOnly || (m.full() && password != "")
}

func (m Mode) String() string {
	var parts []string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{m.Test, "test"},
		{m.DryRun, "dry-run"},
		{m.DBOnly, "db-only"},
		{m.FilesOnly, "files-only"},
		{m.EnvOnly, "env-only"},
		{m.VerifyOnly, "verify-only"},
		{m.LocalOnly, "local-only"},
	} {
		if f.set {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "full"
	}
	return strings.Join(parts, ",")
}

// Job is one backup invocation.
type Job struct {
	RunID     string
	Timestamp string
	Mode      Mode
	// WorkDir is created by the run and removed when it ends.
	WorkDir string
}

func newJob(now time.Time, mode Mode) *Job {
	return &Job{
		RunID:     uuid.NewString(),
		Timestamp: now.Format(TimestampLayout),
		Mode:      mode,
	}
}

// Artifact is a local file produced by a step and consumed by the store step.
type Artifact struct {
	Path string
	Kind storage.ArtifactKind
	// Ephemeral artifacts are removed from disk as soon as they are stored.
	Ephemeral bool
}
