// Package config centralizes how ChalkDrop reads environment variables and
// exposes them as strongly typed values. Policy knobs (allow-lists, size
// ceilings, keyword lists) are loaded once here and passed into components as
// immutable values; nothing reads ambient globals after startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the runtime configuration for the API and worker binaries.
type Config struct {
	Address       string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JWTSecret     string
	Workers       int
	SignedURLTTL  time.Duration

	S3     S3Config
	Scan   ScanPolicy
	Limits UploadLimits
	Video  VideoConfig
}

// S3Config holds MinIO/S3 connection settings.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// UploadLimits are the per-type size ceilings. Video gets a higher ceiling
// because the bytes are offloaded to the external host rather than served
// from local storage.
type UploadLimits struct {
	MaxFileSize  int64
	MaxVideoSize int64
}

// ScanPolicy configures the three scan passes.
type ScanPolicy struct {
	ClamAVAddr string
	AVTimeout  time.Duration
	// SuspicionSizeThreshold marks files large enough that an inconclusive
	// antivirus scan is itself treated as suspicious.
	SuspicionSizeThreshold int64
	Keywords               []string
}

// VideoConfig holds external video host settings.
type VideoConfig struct {
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
	MaxWait      time.Duration
}

const (
	defaultAddress       = ":8080"
	defaultMaxFileSize   = 25 << 20  // 25 MiB
	defaultMaxVideoSize  = 100 << 20 // 100 MiB
	defaultSignedTTL     = 5 * time.Minute
	defaultWorkerCount   = 4
	defaultAVTimeout     = 30 * time.Second
	defaultSuspicionSize = 5 << 20
	defaultPollInterval  = 5 * time.Second
	defaultMaxWait       = 10 * time.Minute
	defaultKeywords      = "virus,malware,trojan,keylogger,ransomware,exploit,rootkit,backdoor"
)

// Load reads configuration from the environment, with optional .env support.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Address:       readEnv("CHALKDROP_ADDRESS", defaultAddress),
		DatabaseURL:   readEnv("DATABASE_URL", "postgres://localhost:5432/chalkdrop?sslmode=disable"),
		RedisAddr:     readEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: readEnv("REDIS_PASSWORD", ""),
		RedisDB:       parseInt("REDIS_DB", 0),
		JWTSecret:     readEnv("JWT_SECRET", "change-me-in-production"),
		Workers:       parseInt("CHALKDROP_WORKERS", defaultWorkerCount),
		SignedURLTTL:  parseDuration("CHALKDROP_SIGNED_TTL", defaultSignedTTL),
		S3: S3Config{
			Endpoint:  readEnv("S3_ENDPOINT", "localhost:9000"),
			AccessKey: readEnv("S3_ACCESS_KEY", "minioadmin"),
			SecretKey: readEnv("S3_SECRET_KEY", "minioadmin"),
			UseSSL:    parseBool("S3_USE_SSL", false),
			Region:    readEnv("S3_REGION", "us-east-1"),
			Bucket:    readEnv("S3_BUCKET", "chalkdrop-resources"),
		},
		Scan: ScanPolicy{
			ClamAVAddr:             readEnv("CLAMAV_ADDR", "localhost:3310"),
			AVTimeout:              parseDuration("CLAMAV_TIMEOUT", defaultAVTimeout),
			SuspicionSizeThreshold: parseInt64("SCAN_SUSPICION_BYTES", defaultSuspicionSize),
			Keywords:               parseList("SCAN_KEYWORDS", defaultKeywords),
		},
		Limits: UploadLimits{
			MaxFileSize:  parseInt64("MAX_FILE_BYTES", defaultMaxFileSize),
			MaxVideoSize: parseInt64("MAX_VIDEO_BYTES", defaultMaxVideoSize),
		},
		Video: VideoConfig{
			Endpoint:     readEnv("VIDEO_HOST_ENDPOINT", "http://localhost:8090"),
			APIKey:       readEnv("VIDEO_HOST_API_KEY", ""),
			PollInterval: parseDuration("VIDEO_POLL_INTERVAL", defaultPollInterval),
			MaxWait:      parseDuration("VIDEO_MAX_WAIT", defaultMaxWait),
		},
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.Limits.MaxFileSize <= 0 {
		cfg.Limits.MaxFileSize = defaultMaxFileSize
	}
	if cfg.Limits.MaxVideoSize < cfg.Limits.MaxFileSize {
		cfg.Limits.MaxVideoSize = cfg.Limits.MaxFileSize
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	return cfg, nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	out := strings.Split(val, ",")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
