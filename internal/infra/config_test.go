package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.FlowTimeout != 120*time.Second {
		t.Fatalf("FlowTimeout = %v, want 120s", cfg.FlowTimeout)
	}
	if cfg.VideoTimeout != 1500*time.Second {
		t.Fatalf("VideoTimeout = %v, want 1500s", cfg.VideoTimeout)
	}
	if cfg.MaxPollAttempts != 200 {
		t.Fatalf("MaxPollAttempts = %d, want 200", cfg.MaxPollAttempts)
	}
	if cfg.StorageBackend != "local" {
		t.Fatalf("StorageBackend = %q, want local", cfg.StorageBackend)
	}
	if cfg.CacheEnabled {
		t.Fatal("CacheEnabled = true, want false by default")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("GENERATION_IMAGE_TIMEOUT", "30")
	t.Setenv("CACHE_ENABLED", "true")
	t.Setenv("FLOW_MAX_RETRIES", "5")
	t.Setenv("DB_MAX_CONNS", "25")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != "9000" {
		t.Fatalf("Port = %q, want 9000", cfg.Port)
	}
	if cfg.ImageTimeout != 30*time.Second {
		t.Fatalf("ImageTimeout = %v, want 30s", cfg.ImageTimeout)
	}
	if !cfg.CacheEnabled {
		t.Fatal("CacheEnabled = false, want true")
	}
	if cfg.FlowMaxRetries != 5 {
		t.Fatalf("FlowMaxRetries = %d, want 5", cfg.FlowMaxRetries)
	}
	if cfg.DBMaxConns != 25 {
		t.Fatalf("DBMaxConns = %d, want 25", cfg.DBMaxConns)
	}
}

func TestLoadConfigS3RequiresBucket(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "s3")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() error = nil, want error without S3_BUCKET_NAME")
	}

	t.Setenv("S3_BUCKET_NAME", "artifacts")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.S3BucketName != "artifacts" {
		t.Fatalf("S3BucketName = %q, want artifacts", cfg.S3BucketName)
	}
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "ftp")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() error = nil, want error for unknown backend")
	}
}

func TestLoadConfigProxyRequiresURL(t *testing.T) {
	t.Setenv("PROXY_ENABLED", "true")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() error = nil, want error without PROXY_URL")
	}

	t.Setenv("PROXY_URL", "http://proxy.local:8080")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ProxyURL != "http://proxy.local:8080" {
		t.Fatalf("ProxyURL = %q", cfg.ProxyURL)
	}
}

func TestTimeoutForKind(t *testing.T) {
	cfg := &Config{
		ChatTimeout:  2 * time.Minute,
		ImageTimeout: 5 * time.Minute,
		VideoTimeout: 25 * time.Minute,
	}
	cases := []struct {
		kind string
		want time.Duration
	}{
		{"chat", 2 * time.Minute},
		{"image", 5 * time.Minute},
		{"video", 25 * time.Minute},
		{"unknown", 2 * time.Minute},
	}
	for _, tc := range cases {
		if got := cfg.TimeoutForKind(tc.kind); got != tc.want {
			t.Fatalf("TimeoutForKind(%q) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestPollIntervalForKind(t *testing.T) {
	cfg := &Config{ImagePollInterval: 2 * time.Second, VideoPollInterval: 5 * time.Second}
	if got := cfg.PollIntervalForKind("video"); got != 5*time.Second {
		t.Fatalf("PollIntervalForKind(video) = %v, want 5s", got)
	}
	if got := cfg.PollIntervalForKind("image"); got != 2*time.Second {
		t.Fatalf("PollIntervalForKind(image) = %v, want 2s", got)
	}
}
