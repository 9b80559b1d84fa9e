package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roboto-ai/topicdata/internal/cache"
	"github.com/roboto-ai/topicdata/internal/storage"
	"github.com/roboto-ai/topicdata/internal/timeunit"
	"github.com/roboto-ai/topicdata/pkg/topicdata"
)

// Config holds all configuration
type Config struct {
	Cache    CacheConfig
	Download DownloadConfig
	Columnar ColumnarConfig
	Storage  StorageConfig
	Catalog  CatalogConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// CacheConfig holds local download cache configuration
type CacheConfig struct {
	Dir             string
	Retention       time.Duration // Files unaccessed for longer are swept
	JanitorSchedule string        // Cron schedule for the sweep, empty disables it
}

// DownloadConfig holds representation download configuration
type DownloadConfig struct {
	Concurrency   int // Parallel downloads per query (default: NumCPU)
	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// ColumnarConfig holds parquet read/rewrite configuration
type ColumnarConfig struct {
	RewriteTargetBytes int64  // Target row group size when rewriting, e.g. "128MB"
	OutputUnit         string // Log time unit of columnar output (default: ns)
}

// StorageConfig holds storage backend configuration.
// Location is a URL: file:///path, s3://bucket/prefix or azure://container/prefix.
type StorageConfig struct {
	Location string

	// S3
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PathStyle bool

	// Azure Blob Storage
	AzureConnectionString   string
	AzureAccountName        string
	AzureAccountKey         string
	AzureSASToken           string
	AzureEndpoint           string
	AzureUseManagedIdentity bool
}

// CatalogConfig holds topic catalog configuration
type CatalogConfig struct {
	Path string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Listen string // Address serving /metrics while a command runs, empty disables it
}

// Load loads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("TOPICDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("topicdata")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/topicdata/")
	v.AddConfigPath("$HOME/.topicdata/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	rewriteTarget, err := ParseSize(v.GetString("columnar.rewrite_target_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid columnar.rewrite_target_size: %w", err)
	}
	if rewriteTarget <= 0 {
		return nil, fmt.Errorf("invalid columnar.rewrite_target_size: must be positive")
	}

	outputUnit := v.GetString("columnar.output_unit")
	if _, err := timeunit.ParseUnit(outputUnit); err != nil {
		return nil, fmt.Errorf("invalid columnar.output_unit: %w", err)
	}

	retention := v.GetDuration("cache.retention")
	if retention <= 0 {
		return nil, fmt.Errorf("invalid cache.retention: must be positive")
	}

	cfg := &Config{
		Cache: CacheConfig{
			Dir:             v.GetString("cache.dir"),
			Retention:       retention,
			JanitorSchedule: v.GetString("cache.janitor_schedule"),
		},
		Download: DownloadConfig{
			Concurrency:   v.GetInt("download.concurrency"),
			MaxRetries:    v.GetInt("download.max_retries"),
			RetryDelay:    v.GetDuration("download.retry_delay"),
			RetryMaxDelay: v.GetDuration("download.retry_max_delay"),
		},
		Columnar: ColumnarConfig{
			RewriteTargetBytes: rewriteTarget,
			OutputUnit:         outputUnit,
		},
		Storage: StorageConfig{
			Location:    v.GetString("storage.location"),
			S3Region:    v.GetString("storage.s3_region"),
			S3Endpoint:  v.GetString("storage.s3_endpoint"),
			S3AccessKey: v.GetString("storage.s3_access_key"),
			S3SecretKey: v.GetString("storage.s3_secret_key"),
			S3UseSSL:    v.GetBool("storage.s3_use_ssl"),
			S3PathStyle: v.GetBool("storage.s3_path_style"),
			// Azure Blob Storage
			AzureConnectionString:   v.GetString("storage.azure_connection_string"),
			AzureAccountName:        v.GetString("storage.azure_account_name"),
			AzureAccountKey:         v.GetString("storage.azure_account_key"),
			AzureSASToken:           v.GetString("storage.azure_sas_token"),
			AzureEndpoint:           v.GetString("storage.azure_endpoint"),
			AzureUseManagedIdentity: v.GetBool("storage.azure_use_managed_identity"),
		},
		Catalog: CatalogConfig{
			Path: v.GetString("catalog.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Metrics: MetricsConfig{
			Listen: v.GetString("metrics.listen"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Cache defaults
	v.SetDefault("cache.dir", getDefaultCacheDir())
	v.SetDefault("cache.retention", cache.DefaultRetention)
	v.SetDefault("cache.janitor_schedule", "") // Sweep on exit only

	// Download defaults
	v.SetDefault("download.concurrency", runtime.NumCPU())
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.retry_delay", 100*time.Millisecond)
	v.SetDefault("download.retry_max_delay", 5*time.Second)

	// Columnar defaults
	v.SetDefault("columnar.rewrite_target_size", "128MB")
	v.SetDefault("columnar.output_unit", "ns")

	// Storage defaults
	v.SetDefault("storage.location", "./data")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_ssl", true)
	v.SetDefault("storage.s3_path_style", false) // Set true for MinIO

	// Catalog defaults
	v.SetDefault("catalog.path", "./data/topicdata.db")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.listen", "")
}

func getDefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "topicdata")
}

// ServiceConfig maps the cache and download sections onto topicdata.Config.
func (c *Config) ServiceConfig() topicdata.Config {
	return topicdata.Config{
		CacheDir:            c.Cache.Dir,
		CacheRetention:      c.Cache.Retention,
		DownloadConcurrency: c.Download.Concurrency,
		JanitorSchedule:     c.Cache.JanitorSchedule,
	}
}

// BackendConfig maps the storage section onto storage.Config. Bucket,
// container and prefix come from Location.
func (c *Config) BackendConfig() storage.Config {
	return storage.Config{
		S3: storage.S3Config{
			Region:    c.Storage.S3Region,
			Endpoint:  c.Storage.S3Endpoint,
			AccessKey: c.Storage.S3AccessKey,
			SecretKey: c.Storage.S3SecretKey,
			UseSSL:    c.Storage.S3UseSSL,
			PathStyle: c.Storage.S3PathStyle,
		},
		Azure: storage.AzureBlobConfig{
			ConnectionString:   c.Storage.AzureConnectionString,
			AccountName:        c.Storage.AzureAccountName,
			AccountKey:         c.Storage.AzureAccountKey,
			SASToken:           c.Storage.AzureSASToken,
			UseManagedIdentity: c.Storage.AzureUseManagedIdentity,
			Endpoint:           c.Storage.AzureEndpoint,
		},
	}
}

// RetryConfig maps the download section onto storage.RetryConfig.
func (c *Config) RetryConfig() storage.RetryConfig {
	return storage.RetryConfig{
		MaxRetries:    c.Download.MaxRetries,
		RetryDelay:    c.Download.RetryDelay,
		RetryMaxDelay: c.Download.RetryMaxDelay,
	}
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
// Supports: B, KB, MB, GB (case-insensitive).
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type unitInfo struct {
		suffix     string
		multiplier int64
	}
	units := []unitInfo{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, unit := range units {
		if strings.HasSuffix(sizeStr, unit.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))

			var num float64
			var trailing string
			n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
			if n == 0 {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			if trailing != "" {
				// Likely an unrecognized unit like "T" in "1TB"
				return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
			}
			if num < 0 {
				return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
			}
			return int64(num * float64(unit.multiplier)), nil
		}
	}

	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
