package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL       string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	S3UseSSL          bool
	S3Region          string
	ReportsBucket     string
	OutputDir         string
	ExtractorPath     string
	ExtractorDetect   []string
	ExtractorArgs     []string
	EnginesFile       string
	VersionStoreDir   string
	WorkerConcurrency int
	EngineTimeout     time.Duration
	DetectTimeout     time.Duration
	ExtractTimeout    time.Duration
	IncludeLibrary    bool
	HTTPAddr          string
}

func getBool(key, def string) bool {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func defaultVersionStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".unfreeze", "versions")
	}
	return filepath.Join(home, ".unfreeze", "versions")
}

func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:          getBool("S3_USE_SSL", "false"),
		S3Region:          os.Getenv("S3_REGION"),
		ReportsBucket:     os.Getenv("REPORTS_BUCKET"),
		OutputDir:         os.Getenv("OUTPUT_DIR"),
		ExtractorPath:     os.Getenv("EXTRACTOR_PATH"),
		ExtractorDetect:   strings.Fields(os.Getenv("EXTRACTOR_DETECT_ARGS")),
		ExtractorArgs:     strings.Fields(os.Getenv("EXTRACTOR_ARGS")),
		EnginesFile:       os.Getenv("ENGINES_FILE"),
		VersionStoreDir:   os.Getenv("VERSION_STORE_DIR"),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 4),
		EngineTimeout:     getDuration("ENGINE_TIMEOUT", 2*time.Minute),
		DetectTimeout:     getDuration("DETECT_TIMEOUT", time.Minute),
		ExtractTimeout:    getDuration("EXTRACT_TIMEOUT", 10*time.Minute),
		IncludeLibrary:    getBool("INCLUDE_LIBRARY", "false"),
		HTTPAddr:          os.Getenv("HTTP_ADDR"),
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "recovered"
	}
	if cfg.ExtractorPath == "" {
		cfg.ExtractorPath = "pyinstxtractor-ng"
	}
	if cfg.VersionStoreDir == "" {
		cfg.VersionStoreDir = defaultVersionStoreDir()
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that only make sense together.
func (c Config) Validate() error {
	if c.S3Endpoint != "" && c.ReportsBucket == "" {
		return errors.New("REPORTS_BUCKET is required when S3_ENDPOINT is set")
	}
	return nil
}

// S3Enabled reports whether reports should be published to object storage.
func (c Config) S3Enabled() bool { return c.S3Endpoint != "" }

// DBEnabled reports whether reports should be written to Postgres.
func (c Config) DBEnabled() bool { return c.DatabaseURL != "" }
