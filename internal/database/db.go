package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/chesley-web/siteops/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Probe answers connectivity questions about the production database. It
// never holds a connection between calls.
type Probe struct {
	driver string
	dsn    string
}

// NewProbe supports the "pgx" and "postgres" drivers.
func NewProbe(cfg config.DatabaseConfig) (*Probe, error) {
	switch cfg.Driver {
	case "pgx", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	return &Probe{driver: cfg.Driver, dsn: DSN(cfg)}, nil
}

// DSN builds a URL-style connection string understood by both drivers.
func DSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, cfg.Port),
		Path:   "/" + cfg.DBName,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	q.Set("connect_timeout", "10")
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Probe) connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.Open(p.driver, p.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Check runs SELECT 1 against the database.
func (p *Probe) Check(ctx context.Context) error {
	db, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	var one int
	if err := db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("unexpected SELECT 1 result %d", one)
	}
	return nil
}

// Size returns the on-disk size of the current database in bytes.
func (p *Probe) Size(ctx context.Context) (int64, error) {
	db, err := p.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var size int64
	if err := db.GetContext(ctx, &size, "SELECT pg_database_size(current_database())"); err != nil {
		return 0, fmt.Errorf("database size query failed: %w", err)
	}
	return size, nil
}
