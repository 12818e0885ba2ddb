package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	ListenAddr    string
	WebhookSecret string
	WebhookURL    string
	MaxBodyBytes  int64

	WatchDir     string
	ProcessedDir string
	WorkDir      string
	Debounce     time.Duration

	MappingTablesPath string
	SyncConcurrency   int
	UpsertTimeout     time.Duration
	ExtractTimeout    time.Duration
	MaxExtractBytes   int64
	MaxRetries        int

	RedisURL string
	LockTTL  time.Duration

	S3Bucket string
	S3Region string
	S3Prefix string

	CSVOutputPath string
	LogLevel      string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	watchDir := getEnv("WATCH_DIR", "/home/hektor_ftp/xml_uploads")

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "feeds"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "feeds"),
		PostgresDB:       getEnv("POSTGRES_DB", "properties"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),
		MaxBodyBytes:  int64(getEnvInt("MAX_BODY_BYTES", 64<<20)),

		WatchDir:     watchDir,
		ProcessedDir: getEnv("PROCESSED_DIR", filepath.Join(watchDir, "processed")),
		WorkDir:      getEnv("WORK_DIR", filepath.Join(watchDir, ".work")),
		Debounce:     getEnvDuration("DEBOUNCE", 2*time.Second),

		MappingTablesPath: getEnv("MAPPING_TABLES_PATH", ""),
		SyncConcurrency:   getEnvInt("SYNC_CONCURRENCY", 4),
		UpsertTimeout:     getEnvDuration("UPSERT_TIMEOUT", 10*time.Second),
		ExtractTimeout:    getEnvDuration("EXTRACT_TIMEOUT", 2*time.Minute),
		MaxExtractBytes:   int64(getEnvInt("MAX_EXTRACT_BYTES", 512<<20)),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),

		RedisURL: getEnv("REDIS_URL", ""),
		LockTTL:  getEnvDuration("LOCK_TTL", 30*time.Second),

		S3Bucket: getEnv("S3_BUCKET", ""),
		S3Region: getEnv("S3_REGION", "eu-west-3"),
		S3Prefix: getEnv("S3_PREFIX", "feeds/processed"),

		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		log.Printf("[config] Invalid integer for %s=%q, using %d", key, val, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		log.Printf("[config] Invalid duration for %s=%q, using %v", key, val, fallback)
		return fallback
	}
	return d
}
