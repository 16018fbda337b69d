// Package logger builds the zerolog loggers used by the command-line tools.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where a logger writes and at which level.
type Options struct {
	// Level is a zerolog level name; invalid values fall back to info.
	Level string
	// Dir receives the log file. Empty means console only.
	Dir string
	// FilePrefix names the file: <prefix>_<timestamp>.log.
	FilePrefix string
	// Console is the human-readable writer, stdout when nil.
	Console io.Writer
	// Now stamps the log file name; time.Now when nil.
	Now func() time.Time
}

// Logger bundles the configured zerolog logger with its file sink.
type Logger struct {
	zerolog.Logger
	// FilePath is empty when logging to console only.
	FilePath string
	file     *lumberjack.Logger
}

// New creates a logger writing to the console and, when Dir is set, to a per-run file.
func New(opts Options) (*Logger, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var writers []io.Writer
	writers = append(writers, zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: "2006-01-02 15:04:05",
	})

	l := &Logger{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", opts.Dir, err)
		}
		prefix := opts.FilePrefix
		if prefix == "" {
			prefix = "siteops"
		}
		l.FilePath = filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", prefix, now().Format("20060102_150405")))
		l.file = &lumberjack.Logger{
			Filename:   l.FilePath,
			MaxSize:    50,
			MaxBackups: 3,
		}
		writers = append(writers, l.file)
	}

	level := ParseLevel(opts.Level)
	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()

	return l, nil
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel converts a level name, defaulting to info when it is unknown.
func ParseLevel(levelStr string) zerolog.Level {
	if levelStr == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Nop returns a logger that discards everything, for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
