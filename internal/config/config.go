package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/pkg/retry"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Retry      RetryConfig      `yaml:"retry"`
	Operations OperationsConfig `yaml:"operations"`
	Upload     UploadConfig     `yaml:"upload"`
	Auth       AuthConfig       `yaml:"auth"`
	Callback   CallbackConfig   `yaml:"callback"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Providers  ProvidersConfig  `yaml:"providers"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// RetryConfig represents transport retry settings
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	Multiplier    float64       `yaml:"multiplier"`
	RetryStatuses []int         `yaml:"retry_statuses"`
}

// OperationsConfig bounds the fan-out of multi-step operations
type OperationsConfig struct {
	OpConcurrency     int           `yaml:"op_concurrency"`
	DeleteConcurrency int           `yaml:"delete_concurrency"`
	ZipLevel          int           `yaml:"zip_level"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// UploadConfig represents chunked upload settings
type UploadConfig struct {
	ContiguousLimit int64 `yaml:"contiguous_limit"`
	ChunkSize       int64 `yaml:"chunk_size"`
	MaxAbortRetries int   `yaml:"max_abort_retries"`
}

// AuthConfig selects credential extensions in lookup order
type AuthConfig struct {
	Extensions []string `yaml:"extensions"`
	JWTSecret  string   `yaml:"jwt_secret"`
}

// CallbackConfig represents the audit callback settings
type CallbackConfig struct {
	Enabled bool          `yaml:"enabled"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// ProvidersConfig holds per-backend process defaults
type ProvidersConfig struct {
	S3Compat    S3CompatConfig    `yaml:"s3compat"`
	GoogleDrive GoogleDriveConfig `yaml:"googledrive"`
}

// S3CompatConfig represents S3-compatible backend defaults
type S3CompatConfig struct {
	Region         string `yaml:"region"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	EncryptUploads bool   `yaml:"encrypt_uploads"`
	TempURLSecs    int    `yaml:"temp_url_secs"`
	MaxUploadSize  int64  `yaml:"max_upload_size"`
}

// GoogleDriveConfig represents Google Drive backend defaults
type GoogleDriveConfig struct {
	BaseURL     string `yaml:"base_url"`
	UploadURL   string `yaml:"upload_url"`
	PageSize    int64  `yaml:"page_size"`
	HashContent bool   `yaml:"hash_content"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "json",
			LogFile:   "",
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BaseDelay:     2 * time.Second,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			RetryStatuses: []int{408, 502, 503, 504},
		},
		Operations: OperationsConfig{
			OpConcurrency:     10,
			DeleteConcurrency: 10,
			ZipLevel:          6,
			RequestTimeout:    5 * time.Minute,
		},
		Upload: UploadConfig{
			ContiguousLimit: 128000000, // 128 MB
			ChunkSize:       64000000,  // 64 MB
			MaxAbortRetries: 2,
		},
		Auth: AuthConfig{
			Extensions: []string{"static"},
		},
		Callback: CallbackConfig{
			Enabled: true,
			Timeout: 30 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Port:      9100,
				Path:      "/metrics",
				Namespace: "waterbutler",
			},
		},
		Providers: ProvidersConfig{
			S3Compat: S3CompatConfig{
				Region:         "us-east-1",
				ForcePathStyle: true,
				TempURLSecs:    100,
				MaxUploadSize:  5 << 40, // 5 TiB
			},
			GoogleDrive: GoogleDriveConfig{
				BaseURL:   "https://www.googleapis.com/drive/v3/",
				UploadURL: "https://www.googleapis.com/upload/drive/v3/",
				PageSize:  1000,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("WATERBUTLER_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("WATERBUTLER_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("WATERBUTLER_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	// Retry settings
	if val := os.Getenv("WATERBUTLER_RETRY_MAX_ATTEMPTS"); val != "" {
		if attempts, err := strconv.Atoi(val); err == nil {
			c.Retry.MaxAttempts = attempts
		}
	}
	if val := os.Getenv("WATERBUTLER_RETRY_BASE_DELAY"); val != "" {
		if delay, err := time.ParseDuration(val); err == nil {
			c.Retry.BaseDelay = delay
		}
	}

	// Operation settings
	if val := os.Getenv("WATERBUTLER_OP_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Operations.OpConcurrency = n
		}
	}
	if val := os.Getenv("WATERBUTLER_DELETE_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Operations.DeleteConcurrency = n
		}
	}

	// Upload settings
	if val := os.Getenv("WATERBUTLER_CONTIGUOUS_UPLOAD_SIZE_LIMIT"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Upload.ContiguousLimit = n
		}
	}
	if val := os.Getenv("WATERBUTLER_CHUNK_SIZE"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Upload.ChunkSize = n
		}
	}
	if val := os.Getenv("WATERBUTLER_CHUNKED_UPLOAD_MAX_ABORT_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Upload.MaxAbortRetries = n
		}
	}

	// Auth and callback
	if val := os.Getenv("WATERBUTLER_AUTH_EXTENSIONS"); val != "" {
		c.Auth.Extensions = strings.Split(val, ",")
	}
	if val := os.Getenv("WATERBUTLER_JWT_SECRET"); val != "" {
		c.Auth.JWTSecret = val
	}
	if val := os.Getenv("WATERBUTLER_CALLBACK_SECRET"); val != "" {
		c.Callback.Secret = val
	}

	// Metrics
	if val := os.Getenv("WATERBUTLER_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("WATERBUTLER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.Metrics.Port = port
		}
	}

	// Providers
	if val := os.Getenv("WATERBUTLER_S3COMPAT_REGION"); val != "" {
		c.Providers.S3Compat.Region = val
	}
	if val := os.Getenv("WATERBUTLER_GOOGLEDRIVE_BASE_URL"); val != "" {
		c.Providers.GoogleDrive.BaseURL = val
	}
	if val := os.Getenv("WATERBUTLER_GOOGLEDRIVE_UPLOAD_URL"); val != "" {
		c.Providers.GoogleDrive.UploadURL = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Operations.OpConcurrency <= 0 {
		return fmt.Errorf("op_concurrency must be greater than 0")
	}

	if c.Operations.DeleteConcurrency <= 0 {
		return fmt.Errorf("delete_concurrency must be greater than 0")
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be greater than 0")
	}

	if c.Upload.ChunkSize <= 0 {
		return fmt.Errorf("upload chunk_size must be greater than 0")
	}

	if c.Upload.ContiguousLimit < c.Upload.ChunkSize {
		return fmt.Errorf("upload contiguous_limit (%d) must not be smaller than chunk_size (%d)",
			c.Upload.ContiguousLimit, c.Upload.ChunkSize)
	}

	if c.Operations.ZipLevel < -1 || c.Operations.ZipLevel > 9 {
		return fmt.Errorf("zip_level must be between -1 and 9")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// Logging returns the logger configuration.
func (c *Configuration) Logging() logging.Config {
	return logging.Config{
		Level:      c.Global.LogLevel,
		Format:     c.Global.LogFormat,
		OutputPath: c.Global.LogFile,
	}
}

// RetryPolicy returns the transport retry configuration.
func (c *Configuration) RetryPolicy() retry.Config {
	policy := retry.DefaultConfig()
	policy.MaxAttempts = c.Retry.MaxAttempts
	policy.InitialDelay = c.Retry.BaseDelay
	policy.MaxDelay = c.Retry.MaxDelay
	policy.Multiplier = c.Retry.Multiplier
	return policy
}
