package database

import (
	"context"
	"net/url"
	"testing"

	"github.com/chesley-web/siteops/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db.internal",
		Port:     "5433",
		User:     "backup",
		Password: "p@ss word",
		DBName:   "website",
		SSLMode:  "require",
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5433", u.Host)
	assert.Equal(t, "/website", u.Path)
	assert.Equal(t, "backup", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
}

func TestDSN_NoCredentials(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "localhost", Port: "5432", DBName: "website"})
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Nil(t, u.User)
	assert.Empty(t, u.Query().Get("sslmode"))
}

func TestNewProbe_Drivers(t *testing.T) {
	for _, driver := range []string{"pgx", "postgres"} {
		_, err := NewProbe(config.DatabaseConfig{Driver: driver, Host: "localhost", Port: "5432", DBName: "x"})
		assert.NoError(t, err, driver)
	}
	_, err := NewProbe(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestProbe_CheckUnreachable(t *testing.T) {
	probe, err := NewProbe(config.DatabaseConfig{Driver: "pgx", Host: "127.0.0.1", Port: "1", DBName: "x", SSLMode: "disable"})
	require.NoError(t, err)

	err = probe.Check(context.Background())
	assert.Error(t, err)

	_, err = probe.Size(context.Background())
	assert.Error(t, err)
}
