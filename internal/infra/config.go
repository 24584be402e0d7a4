package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment
// variables. It is constructed once at process start and passed by reference
// into the components that need it; core logic performs no ambient lookups.
type Config struct {
	AppEnv string
	Port   string
	APIKey string

	// Upstream Flow/Labs endpoints and call budget.
	FlowLabsBaseURL string
	FlowAPIBaseURL  string
	FlowAuthToken   string
	FlowTimeout     time.Duration
	FlowMaxRetries  int

	// Per-kind generation budgets and poll cadence.
	ChatTimeout       time.Duration
	ImageTimeout      time.Duration
	VideoTimeout      time.Duration
	ImagePollInterval time.Duration
	VideoPollInterval time.Duration
	MaxPollAttempts   int

	// Outbound proxy for upstream calls and media downloads.
	ProxyEnabled bool
	ProxyURL     string

	// Artifact cache / durable storage.
	CacheEnabled   bool
	CacheTimeout   time.Duration
	CacheBaseURL   string
	StorageBackend string
	TmpDir         string
	CacheDir       string
	S3BucketName   string
	S3RegionName   string
	S3EndpointURL  string
	S3AccessKey    string
	S3SecretKey    string
	S3PublicDomain string

	// Optional Postgres job store. Empty selects the in-memory store.
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
	HeartbeatInterval time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Port:   getEnv("PORT", "8080"),
		APIKey: os.Getenv("API_KEY"),

		FlowLabsBaseURL: getEnv("FLOW_LABS_BASE_URL", "https://labs.google/fx/api"),
		FlowAPIBaseURL:  getEnv("FLOW_API_BASE_URL", "https://aisandbox-pa.googleapis.com/v1"),
		FlowAuthToken:   os.Getenv("FLOW_AUTH_TOKEN"),
		FlowTimeout:     getEnvSeconds("FLOW_TIMEOUT", 120),
		FlowMaxRetries:  getEnvInt("FLOW_MAX_RETRIES", 3),

		ChatTimeout:       getEnvSeconds("GENERATION_CHAT_TIMEOUT", 120),
		ImageTimeout:      getEnvSeconds("GENERATION_IMAGE_TIMEOUT", 300),
		VideoTimeout:      getEnvSeconds("GENERATION_VIDEO_TIMEOUT", 1500),
		ImagePollInterval: getEnvSeconds("IMAGE_POLL_INTERVAL", 2),
		VideoPollInterval: getEnvSeconds("VIDEO_POLL_INTERVAL", 5),
		MaxPollAttempts:   getEnvInt("FLOW_MAX_POLL_ATTEMPTS", 200),

		ProxyEnabled: getEnvBool("PROXY_ENABLED", false),
		ProxyURL:     os.Getenv("PROXY_URL"),

		CacheEnabled:   getEnvBool("CACHE_ENABLED", false),
		CacheTimeout:   getEnvSeconds("CACHE_TIMEOUT", 7200),
		CacheBaseURL:   getEnv("CACHE_BASE_URL", "http://localhost:8080"),
		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		TmpDir:         getEnv("TMP_DIR", "./tmp"),
		CacheDir:       getEnv("CACHE_DIR", "./cache"),
		S3BucketName:   os.Getenv("S3_BUCKET_NAME"),
		S3RegionName:   os.Getenv("S3_REGION_NAME"),
		S3EndpointURL:  os.Getenv("S3_ENDPOINT_URL"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3PublicDomain: os.Getenv("S3_PUBLIC_DOMAIN"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 1),

		HTTPReadTimeout:   getEnvSeconds("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout:  getEnvSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 0),
		HTTPIdleTimeout:   getEnvSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 60),
		HeartbeatInterval: getEnvSeconds("HEARTBEAT_INTERVAL_SECONDS", 15),
	}

	switch cfg.StorageBackend {
	case "local":
	case "s3":
		if cfg.S3BucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME is required when STORAGE_BACKEND=s3")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	if cfg.ProxyEnabled && cfg.ProxyURL == "" {
		return nil, fmt.Errorf("PROXY_URL is required when PROXY_ENABLED=true")
	}

	return cfg, nil
}

// TimeoutForKind returns the wall-clock budget for a job kind.
func (c *Config) TimeoutForKind(kind string) time.Duration {
	switch kind {
	case "image":
		return c.ImageTimeout
	case "video":
		return c.VideoTimeout
	default:
		return c.ChatTimeout
	}
}

// PollIntervalForKind returns the poll cadence for a job kind. Image jobs
// poll faster than video jobs.
func (c *Config) PollIntervalForKind(kind string) time.Duration {
	if kind == "video" {
		return c.VideoPollInterval
	}
	return c.ImagePollInterval
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Second * time.Duration(getEnvInt(key, fallback))
}
