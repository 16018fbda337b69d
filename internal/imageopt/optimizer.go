package imageopt

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chesley-web/siteops/internal/config"
	"github.com/chesley-web/siteops/internal/storage"
	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// ErrInvalidImage marks an input that does not decode as an image.
var ErrInvalidImage = errors.New("not a valid image")

type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is the work on one input file. Each task is owned by a single worker.
type Task struct {
	Input    string
	Stem     string
	Category Category
	Status   TaskStatus
	Outputs  []string
	Moved    string
	Err      error
}

type Optimizer struct {
	inputDir     string
	outputDir    string
	originalDir  string
	maxDimension int
	workers      int
	limits       Limits
	formats      []Format
	classifier   *Classifier
	now          func() time.Time
	log          zerolog.Logger
}

type Option func(*Optimizer)

// WithFormats replaces the JPEG and WebP outputs.
func WithFormats(formats ...Format) Option {
	return func(o *Optimizer) { o.formats = formats }
}

func WithClassifier(c *Classifier) Option {
	return func(o *Optimizer) { o.classifier = c }
}

// WithClock sets the time used to rename archived originals on collision.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

func New(cfg *config.ImageConfig, log zerolog.Logger, opts ...Option) *Optimizer {
	o := &Optimizer{
		inputDir:     cfg.InputDir,
		outputDir:    cfg.OutputDir,
		originalDir:  cfg.OriginalDir,
		maxDimension: cfg.MaxDimension,
		workers:      cfg.Workers,
		limits: Limits{
			Step:        cfg.QualityStep,
			MinQuality:  cfg.MinQuality,
			MaxAttempts: cfg.MaxAttempts,
		},
		formats:    DefaultFormats(cfg.JPEGQuality, cfg.WebPQuality),
		classifier: DefaultClassifier(),
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	return o
}

// process converts one validated image and moves the original aside. Outputs
// written before a failure are removed so a failed task leaves no partial set.
func (o *Optimizer) process(task *Task) error {
	log := o.log.With().Str("file", filepath.Base(task.Input)).Str("category", task.Category.Name).Logger()
	log.Info().Msg("Processing file")

	img, err := imaging.Open(task.Input, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	img = flattenAlpha(img)

	b := img.Bounds()
	if b.Dx() > o.maxDimension || b.Dy() > o.maxDimension {
		img = imaging.Fit(img, o.maxDimension, o.maxDimension, imaging.Lanczos)
		log.Debug().
			Int("width", b.Dx()).Int("height", b.Dy()).
			Int("new_width", img.Bounds().Dx()).Int("new_height", img.Bounds().Dy()).
			Msg("Resized")
	}

	for _, f := range o.formats {
		enc, err := EncodeToBudget(f.Encoder, img, f.InitialQuality, task.Category.Budget, o.limits)
		if err != nil {
			o.removeOutputs(task)
			return fmt.Errorf("%s encode failed: %w", f.Name, err)
		}
		out := filepath.Join(o.outputDir, task.Stem+f.Ext)
		if err := os.WriteFile(out, enc.Data, 0o644); err != nil {
			o.removeOutputs(task)
			return err
		}
		task.Outputs = append(task.Outputs, out)

		ev := log.Debug()
		if int64(len(enc.Data)) > task.Category.Budget {
			ev = log.Warn()
		}
		ev.Str("format", f.Name).
			Int("quality", enc.Quality).
			Int("reductions", enc.Reductions).
			Str("size", humanize.IBytes(uint64(len(enc.Data)))).
			Str("budget", humanize.IBytes(uint64(task.Category.Budget))).
			Msg("Encoded")
	}

	dst, renamed := archivePath(o.originalDir, filepath.Base(task.Input), o.now())
	if renamed {
		log.Warn().Str("archived_as", filepath.Base(dst)).Msg("Original already archived, keeping both")
	}
	if err := moveFile(task.Input, dst); err != nil {
		o.removeOutputs(task)
		return fmt.Errorf("moving original failed: %w", err)
	}
	task.Moved = dst
	log.Info().Msg("Successfully optimized")
	return nil
}

func (o *Optimizer) removeOutputs(task *Task) {
	for _, out := range task.Outputs {
		_ = os.Remove(out)
	}
	task.Outputs = nil
}

// flattenAlpha drops transparency, keeping colour values and setting alpha to opaque.
func flattenAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// archivePath picks the destination for an original in dir. An existing file
// of the same name is never replaced: the new one gets a timestamp suffix,
// then a counter if that is taken too.
func archivePath(dir, name string, now time.Time) (string, bool) {
	dst := filepath.Join(dir, name)
	if _, err := os.Lstat(dst); os.IsNotExist(err) {
		return dst, false
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext) + "_" + now.Format("20060102_150405")
	dst = filepath.Join(dir, base+ext)
	for i := 1; ; i++ {
		if _, err := os.Lstat(dst); os.IsNotExist(err) {
			return dst, true
		}
		dst = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
}

// moveFile renames src to dst, copying across filesystems when rename cannot.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := storage.CopyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
