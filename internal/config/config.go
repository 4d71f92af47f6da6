/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Archive backend selection. Empty disables snapshot exports.
type ArchiveBackend string

const (
	ArchiveNone ArchiveBackend = ""
	ArchiveFS   ArchiveBackend = "fs"
	ArchiveS3   ArchiveBackend = "s3"
)

// Config covers process level configuration read from environment
// variables. Instance definitions live in the instances file, not here.
type Config struct {
	Environment   string
	InstancesFile string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	LogLevel      string
	LogFormat     string // json or console

	TickInterval   time.Duration // scheduler tick resolution
	RunRetention   time.Duration // how long run history is kept
	HealthInterval time.Duration // instance probe cadence

	// Snapshot archive export
	ArchiveBackend ArchiveBackend
	ArchiveDir     string // fs backend root

	// S3 archive configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // for S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the
// result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnv("SKULD_ENV", "development"),
		InstancesFile: getEnv("SKULD_INSTANCES_FILE", "./instances.yaml"),
		HTTPBind:      getEnv("SKULD_HTTP_BIND", "0.0.0.0"),
		HTTPPort:      getEnvInt("SKULD_HTTP_PORT", 8080),
		DBBackend:     DatabaseBackend(getEnv("SKULD_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:         getEnv("SKULD_DB_DSN", ""),
		LogLevel:      getEnv("SKULD_LOG_LEVEL", "info"),
		LogFormat:     getEnv("SKULD_LOG_FORMAT", "json"),

		TickInterval:   time.Duration(getEnvInt("SKULD_TICK_INTERVAL_SECONDS", 1)) * time.Second,
		RunRetention:   time.Duration(getEnvInt("SKULD_RUN_RETENTION_DAYS", 30)) * 24 * time.Hour,
		HealthInterval: time.Duration(getEnvInt("SKULD_HEALTH_INTERVAL_SECONDS", 60)) * time.Second,

		ArchiveBackend: ArchiveBackend(getEnv("SKULD_ARCHIVE_BACKEND", "")),
		ArchiveDir:     getEnv("SKULD_ARCHIVE_DIR", "./archive"),

		S3AccessKeyID:     getEnvAny([]string{"SKULD_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"SKULD_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"SKULD_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"SKULD_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"SKULD_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBool("SKULD_S3_USE_PATH_STYLE", false),

		TracingEnabled:    getEnvBool("SKULD_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("SKULD_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("SKULD_TRACING_SAMPLE_RATE", 1.0),
	}

	switch cfg.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		if cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("SKULD_DB_DSN must be provided for the %s backend", cfg.DBBackend)
		}
		cfg.DBDSN = "./skuldsync.db"
	}

	if cfg.InstancesFile == "" {
		return nil, fmt.Errorf("SKULD_INSTANCES_FILE must be provided")
	}

	switch cfg.ArchiveBackend {
	case ArchiveNone, ArchiveFS:
	case ArchiveS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("SKULD_S3_BUCKET must be provided for the s3 archive backend")
		}
	default:
		return nil, fmt.Errorf("unsupported archive backend %q", cfg.ArchiveBackend)
	}

	if cfg.TickInterval < time.Second {
		cfg.TickInterval = time.Second
	}

	return cfg, nil
}

// HTTPAddr renders the ops listener address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
