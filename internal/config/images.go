package config

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ImageConfig struct {
	InputDir     string
	OutputDir    string
	OriginalDir  string
	LogDir       string
	CategoryFile string

	MaxDimension int
	JPEGQuality  int
	WebPQuality  int
	QualityStep  int
	MinQuality   int
	MaxAttempts  int
	Workers      int
	LogLevel     string
}

// DefaultWorkers mirrors a thread pool sized for I/O-heavy work.
func DefaultWorkers() int {
	n := runtime.NumCPU() + 4
	if n > 32 {
		n = 32
	}
	return n
}

// LoadImages reads the optimizer settings from envFile and the environment.
func LoadImages(envFile string) (*ImageConfig, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	v.SetDefault("IMAGE_MAX_DIMENSION", 1200)
	v.SetDefault("IMAGE_JPEG_QUALITY", 85)
	v.SetDefault("IMAGE_WEBP_QUALITY", 80)
	v.SetDefault("IMAGE_QUALITY_STEP", 5)
	v.SetDefault("IMAGE_MIN_QUALITY", 20)
	v.SetDefault("IMAGE_MAX_ATTEMPTS", 5)
	v.SetDefault("IMAGE_WORKERS", DefaultWorkers())
	v.SetDefault("IMAGE_LOG_LEVEL", "debug")
	v.AutomaticEnv()

	cfg := &ImageConfig{
		InputDir:     v.GetString("INPUT_DIR"),
		OutputDir:    v.GetString("OUTPUT_DIR"),
		OriginalDir:  v.GetString("ORIGINAL_DIR"),
		LogDir:       v.GetString("LOG_DIR"),
		CategoryFile: v.GetString("IMAGE_CATEGORY_FILE"),
		MaxDimension: v.GetInt("IMAGE_MAX_DIMENSION"),
		JPEGQuality:  v.GetInt("IMAGE_JPEG_QUALITY"),
		WebPQuality:  v.GetInt("IMAGE_WEBP_QUALITY"),
		QualityStep:  v.GetInt("IMAGE_QUALITY_STEP"),
		MinQuality:   v.GetInt("IMAGE_MIN_QUALITY"),
		MaxAttempts:  v.GetInt("IMAGE_MAX_ATTEMPTS"),
		Workers:      v.GetInt("IMAGE_WORKERS"),
		LogLevel:     v.GetString("IMAGE_LOG_LEVEL"),
	}

	var missing []string
	for name, val := range map[string]string{
		"INPUT_DIR":    cfg.InputDir,
		"OUTPUT_DIR":   cfg.OutputDir,
		"ORIGINAL_DIR": cfg.OriginalDir,
		"LOG_DIR":      cfg.LogDir,
	} {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	if cfg.QualityStep <= 0 {
		return nil, fmt.Errorf("IMAGE_QUALITY_STEP must be positive, got %d", cfg.QualityStep)
	}
	if cfg.MaxDimension <= 0 {
		return nil, fmt.Errorf("IMAGE_MAX_DIMENSION must be positive, got %d", cfg.MaxDimension)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg, nil
}
