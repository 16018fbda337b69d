package imageopt

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/chesley-web/siteops/internal/config"
	"github.com/chesley-web/siteops/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirs struct {
	cfg *config.ImageConfig
}

func newDirs(t *testing.T) dirs {
	t.Helper()
	root := t.TempDir()
	cfg := &config.ImageConfig{
		InputDir:     filepath.Join(root, "in"),
		OutputDir:    filepath.Join(root, "out"),
		OriginalDir:  filepath.Join(root, "originals"),
		LogDir:       filepath.Join(root, "logs"),
		MaxDimension: 1200,
		JPEGQuality:  85,
		WebPQuality:  80,
		QualityStep:  5,
		MinQuality:   20,
		MaxAttempts:  5,
		Workers:      4,
	}
	require.NoError(t, os.MkdirAll(cfg.InputDir, 0o755))
	return dirs{cfg: cfg}
}

func writePNG(t *testing.T, path string, w, h int, alpha uint8) {
	t.Helper()
	img := gradient(w, h)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = alpha
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// fakeWebP avoids the real encoder to keep batch tests fast.
func fakeWebP() Format {
	return Format{
		Name:           "webp",
		Ext:            ".webp",
		InitialQuality: 80,
		Encoder: EncoderFunc(func(w io.Writer, _ image.Image, quality int) error {
			_, err := fmt.Fprintf(w, "RIFF-fake-%d", quality)
			return err
		}),
	}
}

func (d dirs) optimizer(opts ...Option) *Optimizer {
	opts = append([]Option{WithFormats(
		Format{Name: "jpeg", Ext: ".jpg", InitialQuality: d.cfg.JPEGQuality, Encoder: JPEGEncoder()},
		fakeWebP(),
	)}, opts...)
	return New(d.cfg, logger.Nop(), opts...)
}

func names(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func TestProcessDir_ConvertsAndMovesOriginals(t *testing.T) {
	d := newDirs(t)
	writePNG(t, filepath.Join(d.cfg.InputDir, "photo.png"), 64, 48, 0xff)
	writePNG(t, filepath.Join(d.cfg.InputDir, "hero-wide.png"), 1600, 800, 0xff)
	writePNG(t, filepath.Join(d.cfg.InputDir, "icon.png"), 32, 32, 0x00)
	require.NoError(t, os.WriteFile(filepath.Join(d.cfg.InputDir, "notes.txt"), []byte("not an image"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(d.cfg.InputDir, "nested"), 0o755))

	summary, err := d.optimizer().ProcessDir(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Successful)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, summary.FailedFiles)
	assert.Equal(t, []string{"notes.txt"}, summary.Skipped)

	assert.Equal(t, []string{"nested", "notes.txt"}, names(t, d.cfg.InputDir))
	assert.Equal(t, []string{"hero-wide.png", "icon.png", "photo.png"}, names(t, d.cfg.OriginalDir))
	assert.Equal(t, []string{
		"hero-wide.jpg", "hero-wide.webp",
		"icon.jpg", "icon.webp",
		"photo.jpg", "photo.webp",
	}, names(t, d.cfg.OutputDir))

	f, err := os.Open(filepath.Join(d.cfg.OutputDir, "hero-wide.jpg"))
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1200, cfg.Width)
	assert.Equal(t, 600, cfg.Height)

	for _, task := range summary.Tasks {
		assert.Equal(t, TaskCompleted, task.Status)
		assert.Len(t, task.Outputs, 2)
	}
}

func TestProcessDir_InvalidImageUntouched(t *testing.T) {
	d := newDirs(t)
	bogus := filepath.Join(d.cfg.InputDir, "fake.jpg")
	require.NoError(t, os.WriteFile(bogus, []byte("definitely not a jpeg"), 0o644))

	summary, err := d.optimizer().ProcessDir(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Successful)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, []string{"fake.jpg"}, summary.Skipped)
	assert.FileExists(t, bogus)
	assert.Empty(t, names(t, d.cfg.OutputDir))
	assert.Empty(t, names(t, d.cfg.OriginalDir))
}

func TestProcessDir_CorruptBodyFailsOnlyThatTask(t *testing.T) {
	d := newDirs(t)
	writePNG(t, filepath.Join(d.cfg.InputDir, "good.png"), 40, 40, 0xff)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(40, 40)))
	broken := filepath.Join(d.cfg.InputDir, "broken.png")
	// Signature and IHDR only: the header decodes, the pixels do not.
	require.NoError(t, os.WriteFile(broken, buf.Bytes()[:33], 0o644))

	summary, err := d.optimizer().ProcessDir(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"broken.png"}, summary.FailedFiles)
	assert.Empty(t, summary.Skipped)
	assert.FileExists(t, broken)
	assert.Equal(t, []string{"good.jpg", "good.webp"}, names(t, d.cfg.OutputDir))
	assert.Equal(t, []string{"good.png"}, names(t, d.cfg.OriginalDir))
}

func TestProcessDir_NImagesNMoves(t *testing.T) {
	d := newDirs(t)
	d.cfg.Workers = 3
	const n = 12
	for i := 0; i < n; i++ {
		writePNG(t, filepath.Join(d.cfg.InputDir, fmt.Sprintf("img_%02d.png", i)), 20+i, 20, 0xff)
	}

	summary, err := d.optimizer().ProcessDir(context.Background())
	require.NoError(t, err)

	assert.Equal(t, n, summary.Successful+summary.Failed)
	assert.Equal(t, n, summary.Successful)
	assert.Len(t, names(t, d.cfg.OriginalDir), n)
	assert.Empty(t, names(t, d.cfg.InputDir))
	assert.Len(t, names(t, d.cfg.OutputDir), 2*n)
}

func TestProcessDir_DuplicateStemsGetDistinctOutputs(t *testing.T) {
	d := newDirs(t)
	writePNG(t, filepath.Join(d.cfg.InputDir, "logo.png"), 16, 16, 0xff)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(16, 16)))
	// Same stem, different extension.
	require.NoError(t, os.WriteFile(filepath.Join(d.cfg.InputDir, "logo.PNG2"), buf.Bytes(), 0o644))

	summary, err := d.optimizer().ProcessDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Successful)
	// Inputs are handled in name order, so the upper-case extension claims the plain stem.
	assert.Equal(t, []string{"logo.jpg", "logo.webp", "logo_png.jpg", "logo_png.webp"}, names(t, d.cfg.OutputDir))
}

func TestProcessDir_MissingInputDir(t *testing.T) {
	d := newDirs(t)
	d.cfg.InputDir = filepath.Join(d.cfg.InputDir, "nope")
	_, err := d.optimizer().ProcessDir(context.Background())
	assert.Error(t, err)
}

func TestProcessDir_CancelledBeforeDispatch(t *testing.T) {
	d := newDirs(t)
	src := filepath.Join(d.cfg.InputDir, "photo.png")
	writePNG(t, src, 16, 16, 0xff)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := d.optimizer().ProcessDir(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.FileExists(t, src)
}

func TestProcessDir_KeepsPreviouslyArchivedOriginal(t *testing.T) {
	d := newDirs(t)
	require.NoError(t, os.MkdirAll(d.cfg.OriginalDir, 0o755))
	earlier := filepath.Join(d.cfg.OriginalDir, "photo.png")
	require.NoError(t, os.WriteFile(earlier, []byte("earlier run"), 0o644))
	writePNG(t, filepath.Join(d.cfg.InputDir, "photo.png"), 16, 16, 0xff)

	at := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	summary, err := d.optimizer(WithClock(func() time.Time { return at })).ProcessDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)

	data, err := os.ReadFile(earlier)
	require.NoError(t, err)
	assert.Equal(t, "earlier run", string(data))
	assert.Equal(t, []string{"photo.png", "photo_20260301_020000.png"}, names(t, d.cfg.OriginalDir))
	assert.Equal(t, filepath.Join(d.cfg.OriginalDir, "photo_20260301_020000.png"), summary.Tasks[0].Moved)
}

func TestArchivePath(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	dst, renamed := archivePath(dir, "a.jpg", at)
	assert.False(t, renamed)
	assert.Equal(t, filepath.Join(dir, "a.jpg"), dst)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), nil, 0o644))
	dst, renamed = archivePath(dir, "a.jpg", at)
	assert.True(t, renamed)
	assert.Equal(t, filepath.Join(dir, "a_20260301_020000.jpg"), dst)

	require.NoError(t, os.WriteFile(dst, nil, 0o644))
	dst, _ = archivePath(dir, "a.jpg", at)
	assert.Equal(t, filepath.Join(dir, "a_20260301_020000_1.jpg"), dst)
}

func TestFlattenAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0})
	img.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 128})

	out, ok := flattenAlpha(img).(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 0xff}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 0xff}, out.NRGBAAt(1, 0))
	assert.True(t, out.Opaque())

	opaque := gradient(4, 4)
	assert.Same(t, opaque, flattenAlpha(opaque))
}

func TestValidateImage(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "a.png")
	writePNG(t, good, 4, 4, 0xff)
	assert.NoError(t, ValidateImage(good))

	bad := filepath.Join(dir, "b.png")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))
	assert.ErrorIs(t, ValidateImage(bad), ErrInvalidImage)
}
