package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WATCH_DIR", "/srv/feeds")
	t.Setenv("PROCESSED_DIR", "")
	t.Setenv("WORK_DIR", "")

	cfg := Load()
	assert.Equal(t, "/srv/feeds", cfg.WatchDir)
	assert.Equal(t, "/srv/feeds/processed", cfg.ProcessedDir)
	assert.Equal(t, "/srv/feeds/.work", cfg.WorkDir)
	assert.Equal(t, 4, cfg.SyncConcurrency)
	assert.Equal(t, 10*time.Second, cfg.UpsertTimeout)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, int64(512<<20), cfg.MaxExtractBytes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYNC_CONCURRENCY", "8")
	t.Setenv("UPSERT_TIMEOUT", "3s")
	t.Setenv("MAX_RETRIES", "not-a-number")
	t.Setenv("DEBOUNCE", "bogus")
	t.Setenv("MAX_EXTRACT_BYTES", "1048576")

	cfg := Load()
	assert.Equal(t, 8, cfg.SyncConcurrency)
	assert.Equal(t, 3*time.Second, cfg.UpsertTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Debounce)
	assert.Equal(t, int64(1<<20), cfg.MaxExtractBytes)
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost: "db", PostgresPort: "5433", PostgresUser: "u",
		PostgresPassword: "p", PostgresDB: "props", PostgresSSLMode: "require",
	}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=props sslmode=require", cfg.DSN())
}
