package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/roboto-ai/topicdata/internal/cache"
)

// chdirEmpty moves the test into a directory without a topicdata.toml.
func chdirEmpty(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Download.Concurrency != runtime.NumCPU() {
		t.Errorf("Download.Concurrency = %d, want %d", cfg.Download.Concurrency, runtime.NumCPU())
	}
	if cfg.Cache.Retention != cache.DefaultRetention {
		t.Errorf("Cache.Retention = %v, want %v", cfg.Cache.Retention, cache.DefaultRetention)
	}
	if cfg.Cache.JanitorSchedule != "" {
		t.Errorf("Cache.JanitorSchedule = %q, want empty", cfg.Cache.JanitorSchedule)
	}
	if !strings.HasSuffix(cfg.Cache.Dir, "topicdata") {
		t.Errorf("Cache.Dir = %s, should end with 'topicdata'", cfg.Cache.Dir)
	}
	if cfg.Columnar.RewriteTargetBytes != 128*1024*1024 {
		t.Errorf("Columnar.RewriteTargetBytes = %d, want 128MB", cfg.Columnar.RewriteTargetBytes)
	}
	if cfg.Columnar.OutputUnit != "ns" {
		t.Errorf("Columnar.OutputUnit = %s, want ns", cfg.Columnar.OutputUnit)
	}
	if cfg.Download.MaxRetries != 3 {
		t.Errorf("Download.MaxRetries = %d, want 3", cfg.Download.MaxRetries)
	}
	if cfg.Download.RetryDelay != 100*time.Millisecond {
		t.Errorf("Download.RetryDelay = %v, want 100ms", cfg.Download.RetryDelay)
	}
	if !cfg.Storage.S3UseSSL {
		t.Error("Storage.S3UseSSL should default to true")
	}
	if cfg.Metrics.Listen != "" {
		t.Errorf("Metrics.Listen = %q, want empty", cfg.Metrics.Listen)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdirEmpty(t)

	t.Setenv("TOPICDATA_DOWNLOAD_CONCURRENCY", "3")
	t.Setenv("TOPICDATA_CACHE_RETENTION", "48h")
	t.Setenv("TOPICDATA_CACHE_JANITOR_SCHEDULE", "@hourly")
	t.Setenv("TOPICDATA_COLUMNAR_REWRITE_TARGET_SIZE", "64MB")
	t.Setenv("TOPICDATA_COLUMNAR_OUTPUT_UNIT", "ms")
	t.Setenv("TOPICDATA_STORAGE_LOCATION", "s3://bucket/prefix")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Download.Concurrency != 3 {
		t.Errorf("Download.Concurrency = %d, want 3 (from env)", cfg.Download.Concurrency)
	}
	if cfg.Cache.Retention != 48*time.Hour {
		t.Errorf("Cache.Retention = %v, want 48h (from env)", cfg.Cache.Retention)
	}
	if cfg.Cache.JanitorSchedule != "@hourly" {
		t.Errorf("Cache.JanitorSchedule = %q, want @hourly (from env)", cfg.Cache.JanitorSchedule)
	}
	if cfg.Columnar.RewriteTargetBytes != 64*1024*1024 {
		t.Errorf("Columnar.RewriteTargetBytes = %d, want 64MB (from env)", cfg.Columnar.RewriteTargetBytes)
	}
	if cfg.Columnar.OutputUnit != "ms" {
		t.Errorf("Columnar.OutputUnit = %s, want ms (from env)", cfg.Columnar.OutputUnit)
	}
	if cfg.Storage.Location != "s3://bucket/prefix" {
		t.Errorf("Storage.Location = %s, want s3://bucket/prefix (from env)", cfg.Storage.Location)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdirEmpty(t)

	content := `
[cache]
dir = "/var/cache/topics"

[download]
max_retries = 7

[log]
level = "debug"
format = "console"
`
	if err := os.WriteFile(filepath.Join(dir, "topicdata.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cache.Dir != "/var/cache/topics" {
		t.Errorf("Cache.Dir = %s, want /var/cache/topics", cfg.Cache.Dir)
	}
	if cfg.Download.MaxRetries != 7 {
		t.Errorf("Download.MaxRetries = %d, want 7", cfg.Download.MaxRetries)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("Log = %+v, want debug/console", cfg.Log)
	}
	// Untouched sections keep their defaults
	if cfg.Columnar.OutputUnit != "ns" {
		t.Errorf("Columnar.OutputUnit = %s, want ns", cfg.Columnar.OutputUnit)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"output unit", "TOPICDATA_COLUMNAR_OUTPUT_UNIT", "fortnights"},
		{"rewrite size", "TOPICDATA_COLUMNAR_REWRITE_TARGET_SIZE", "1TB"},
		{"zero rewrite size", "TOPICDATA_COLUMNAR_REWRITE_TARGET_SIZE", "0"},
		{"retention", "TOPICDATA_CACHE_RETENTION", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirEmpty(t)
			t.Setenv(tt.env, tt.val)

			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s should fail", tt.env, tt.val)
			}
		})
	}
}

func TestConfig_Mappings(t *testing.T) {
	cfg := &Config{
		Cache:    CacheConfig{Dir: "/tmp/c", Retention: time.Hour, JanitorSchedule: "@daily"},
		Download: DownloadConfig{Concurrency: 2, MaxRetries: 5, RetryDelay: time.Second, RetryMaxDelay: time.Minute},
		Storage: StorageConfig{
			S3Region:         "eu-west-1",
			S3PathStyle:      true,
			AzureAccountName: "acct",
			AzureSASToken:    "sig",
		},
	}

	svc := cfg.ServiceConfig()
	if svc.CacheDir != "/tmp/c" || svc.CacheRetention != time.Hour || svc.DownloadConcurrency != 2 || svc.JanitorSchedule != "@daily" {
		t.Errorf("ServiceConfig() = %+v", svc)
	}

	be := cfg.BackendConfig()
	if be.S3.Region != "eu-west-1" || !be.S3.PathStyle {
		t.Errorf("BackendConfig().S3 = %+v", be.S3)
	}
	if be.S3.Bucket != "" {
		t.Errorf("BackendConfig().S3.Bucket = %q, should come from the location", be.S3.Bucket)
	}
	if be.Azure.AccountName != "acct" || be.Azure.SASToken != "sig" {
		t.Errorf("BackendConfig().Azure = %+v", be.Azure)
	}

	rc := cfg.RetryConfig()
	if rc.MaxRetries != 5 || rc.RetryDelay != time.Second || rc.RetryMaxDelay != time.Minute {
		t.Errorf("RetryConfig() = %+v", rc)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"128MB", 128 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"1.5kb", 1536, false},
		{" 100 KB ", 100 * 1024, false},
		{"42B", 42, false},
		{"4096", 4096, false},
		{"", 0, true},
		{"1TB", 0, true},
		{"-1MB", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
