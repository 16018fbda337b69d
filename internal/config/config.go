package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissing marks a required configuration value that is not set.
var ErrMissing = errors.New("missing required configuration")

// DefaultExcludePatterns are handed to tar when archiving the site tree.
var DefaultExcludePatterns = []string{
	"*.pyc",
	"__pycache__",
	"*.pyo",
	"*.pyd",
	".Python",
	"*.log",
	"*.pid",
	".env*",
	"*.env",
	"local_settings.py",
	"*.sqlite3",
	".git/",
	".gitignore",
	"docker-compose*.yml",
	"Dockerfile*",
	".docker/",
	"media/cache/",
	"static/admin/",
	"node_modules/",
}

type BackupConfig struct {
	Development bool
	EnvFile     string

	SourceDir      string
	WorkDir        string
	LocalBackupDir string
	LogDir         string
	S3Prefix       string
	UseS3          bool

	RetentionDays int
	MaxSizeGB     float64
	Exclude       []string

	// SecretsFile is encrypted in env mode; defaults to EnvFile.
	SecretsFile        string
	EncryptionPassword string

	Database DatabaseConfig
	S3       S3Config
	Mail     MailConfig
	Lock     LockConfig
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

type LockConfig struct {
	Enabled       bool
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	TTLMinutes    int
}

// BackupOptions are the command-line switches that influence configuration.
type BackupOptions struct {
	EnvFile   string
	TestMode  bool
	LocalOnly bool
	EnvOnly   bool
}

// DefaultBackupEnvFile returns the env file read when none is given.
func DefaultBackupEnvFile(testMode bool) string {
	if testMode {
		return ".env.dev"
	}
	return "/opt/website/.env.prod"
}

// IsDevelopment reports whether the backup runs against the development setup.
func IsDevelopment(testMode bool) bool {
	return testMode || strings.Contains(os.Getenv("DJANGO_SETTINGS_MODULE"), "development")
}

// LoadBackup reads the env file (if present) and the process environment into a BackupConfig.
func LoadBackup(opts BackupOptions) (*BackupConfig, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultBackupEnvFile(opts.TestMode)
	}
	// A missing env file is fine, the environment may already be populated.
	_ = godotenv.Load(envFile)

	dev := IsDevelopment(opts.TestMode)
	home, _ := os.UserHomeDir()

	v := viper.New()
	v.SetDefault("BACKUP_RETENTION_DAYS", 30)
	v.SetDefault("BACKUP_MAX_SIZE_GB", 4.5)
	v.SetDefault("DB_DRIVER", "pgx")
	v.SetDefault("PROD_DB_HOST", "localhost")
	v.SetDefault("PROD_DB_PORT", "5432")
	v.SetDefault("PROD_DB_SSLMODE", "disable")
	v.SetDefault("BACKUP_S3_ENDPOINT", "s3.amazonaws.com")
	v.SetDefault("BACKUP_S3_REGION", "us-east-1")
	v.SetDefault("BACKUP_S3_USE_SSL", true)
	v.SetDefault("EMAIL_PORT", 587)
	v.SetDefault("LOCK_ENABLED", false)
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOCK_TTL_MINUTES", 120)
	if dev {
		cwd, _ := os.Getwd()
		v.SetDefault("BACKUP_SOURCE_DIR", cwd)
		v.SetDefault("BACKUP_WORK_DIR", "/tmp/backup_test")
		v.SetDefault("BACKUP_LOCAL_DIR", filepath.Join(home, "backups", "website"))
		v.SetDefault("BACKUP_LOG_DIR", filepath.Join(home, "logs", "website_backup"))
		v.SetDefault("BACKUP_S3_PREFIX", "test")
		v.SetDefault("PROD_DB_NAME", "db.sqlite3")
	} else {
		v.SetDefault("BACKUP_SOURCE_DIR", "/opt/website")
		v.SetDefault("BACKUP_WORK_DIR", "/tmp/website_backup")
		v.SetDefault("BACKUP_LOCAL_DIR", "/opt/website/backups")
		v.SetDefault("BACKUP_LOG_DIR", "/var/log/website/backup")
		v.SetDefault("BACKUP_S3_PREFIX", "prod")
	}
	v.AutomaticEnv()

	cfg := &BackupConfig{
		Development:        dev,
		EnvFile:            envFile,
		SourceDir:          v.GetString("BACKUP_SOURCE_DIR"),
		WorkDir:            v.GetString("BACKUP_WORK_DIR"),
		LocalBackupDir:     v.GetString("BACKUP_LOCAL_DIR"),
		LogDir:             v.GetString("BACKUP_LOG_DIR"),
		S3Prefix:           v.GetString("BACKUP_S3_PREFIX"),
		UseS3:              !dev && !opts.LocalOnly,
		RetentionDays:      v.GetInt("BACKUP_RETENTION_DAYS"),
		MaxSizeGB:          v.GetFloat64("BACKUP_MAX_SIZE_GB"),
		Exclude:            append(append([]string{}, DefaultExcludePatterns...), splitList(v.GetString("BACKUP_EXCLUDE"))...),
		SecretsFile:        v.GetString("BACKUP_SECRETS_FILE"),
		EncryptionPassword: v.GetString("BACKUP_ENCRYPTION_PASSWORD"),
		Database: DatabaseConfig{
			Driver:   v.GetString("DB_DRIVER"),
			Host:     v.GetString("PROD_DB_HOST"),
			Port:     v.GetString("PROD_DB_PORT"),
			User:     v.GetString("PROD_DB_USER"),
			Password: v.GetString("PROD_DB_PASSWORD"),
			DBName:   v.GetString("PROD_DB_NAME"),
			SSLMode:  v.GetString("PROD_DB_SSLMODE"),
		},
		S3: S3Config{
			Endpoint:  v.GetString("BACKUP_S3_ENDPOINT"),
			Region:    v.GetString("BACKUP_S3_REGION"),
			Bucket:    v.GetString("PROD_BACKUP_S3_BUCKET"),
			AccessKey: v.GetString("AWS_ACCESS_KEY_ID"),
			SecretKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
			UseSSL:    v.GetBool("BACKUP_S3_USE_SSL"),
		},
		Mail: MailConfig{
			Host:     v.GetString("EMAIL_HOST"),
			Port:     v.GetInt("EMAIL_PORT"),
			User:     v.GetString("EMAIL_HOST_USER"),
			Password: v.GetString("EMAIL_HOST_PASSWORD"),
			From:     v.GetString("DEFAULT_FROM_EMAIL"),
			To:       v.GetString("BACKUP_NOTIFICATION_EMAIL"),
		},
		Lock: LockConfig{
			Enabled:       v.GetBool("LOCK_ENABLED"),
			RedisURL:      v.GetString("REDIS_URL"),
			RedisHost:     v.GetString("REDIS_HOST"),
			RedisPort:     v.GetString("REDIS_PORT"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			TTLMinutes:    v.GetInt("LOCK_TTL_MINUTES"),
		},
	}
	if cfg.SecretsFile == "" {
		cfg.SecretsFile = envFile
	}

	if err := cfg.validate(opts); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *BackupConfig) validate(opts BackupOptions) error {
	var missing []string
	if c.Database.DBName == "" {
		missing = append(missing, "PROD_DB_NAME")
	}
	if c.UseS3 && c.S3.Bucket == "" {
		missing = append(missing, "PROD_BACKUP_S3_BUCKET")
	}
	if opts.EnvOnly && c.EncryptionPassword == "" {
		missing = append(missing, "BACKUP_ENCRYPTION_PASSWORD")
	}
	if c.Mail.To != "" && c.Mail.From == "" {
		missing = append(missing, "DEFAULT_FROM_EMAIL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("BACKUP_RETENTION_DAYS must not be negative, got %d", c.RetentionDays)
	}
	return nil
}

// MaxSizeBytes converts the GB threshold to bytes.
func (c *BackupConfig) MaxSizeBytes() int64 {
	return int64(c.MaxSizeGB * (1 << 30))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
