package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the variable holding the optional YAML config path.
const ConfigPathEnv = "IMAGE_CHECKER_CONFIG_PATH"

type Config struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	ImageBaseDir  string `yaml:"imageBaseDir"`
	MaxImageBytes int64  `yaml:"maxImageBytes"`

	Classifier ClassifierConfig `yaml:"classifier"`

	ProcessingTimeoutMinutes  int `yaml:"processingTimeoutMinutes"`
	QueueSize                 int `yaml:"queueSize"`
	Workers                   int `yaml:"workers"`
	ThrottleRequestsPerMinute int `yaml:"throttleRequestsPerMinute"`

	// RedisAddr is optional. Without it the classifier throttle keeps its
	// window in process and the token buckets are disabled.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	Env       string `yaml:"env"`

	RecordRetentionMinutes int `yaml:"recordRetentionMinutes"`
	CleanupIntervalSeconds int `yaml:"cleanupIntervalSeconds"`

	CallbackHmacSecret         string `yaml:"callbackHmacSecret"`
	CallbackMaxAttempts        int    `yaml:"callbackMaxAttempts"`
	CallbackBaseBackoffSeconds int    `yaml:"callbackBaseBackoffSeconds"`
	CallbackMaxBackoffSeconds  int    `yaml:"callbackMaxBackoffSeconds"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	S3        S3Config        `yaml:"s3"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ClassifierConfig struct {
	Provider              string `yaml:"provider"`
	URL                   string `yaml:"url"`
	Model                 string `yaml:"model"`
	APIKey                string `yaml:"apiKey"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
	MaxRetries            int    `yaml:"maxRetries"`
}

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	Submit   RateLimitBucketConfig `yaml:"submit"`
	Read     RateLimitBucketConfig `yaml:"read"`
	Callback RateLimitBucketConfig `yaml:"callback"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
}

func (s S3Config) Enabled() bool { return strings.TrimSpace(s.Endpoint) != "" }

// ArchiveConfig controls the optional copy of every finished result. Bucket
// takes precedence over Dir.
type ArchiveConfig struct {
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

// LoadConfig reads filePath, applies environment overrides and fills defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// LoadConfigOptional is LoadConfig where a blank or missing path means
// "environment and defaults only".
func LoadConfigOptional(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) == "" {
		return fromEnv(), nil
	}
	cfg, err := LoadConfig(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fromEnv(), nil
	}
	return cfg, err
}

func fromEnv() *Config {
	var c Config
	c.applyEnv()
	c.applyDefaults()
	return &c
}

func (c *Config) applyEnv() {
	envString("HOST", &c.Host)
	envInt("PORT", &c.Port)
	envString("IMAGE_BASE_DIR", &c.ImageBaseDir)
	envInt64("MAX_IMAGE_BYTES", &c.MaxImageBytes)

	envString("CLASSIFIER_PROVIDER", &c.Classifier.Provider)
	envString("LLM_API_URL", &c.Classifier.URL)
	envString("LLM_MODEL_NAME", &c.Classifier.Model)
	envString("GEMINI_API_KEY", &c.Classifier.APIKey)
	envInt("REQUEST_TIMEOUT_SECONDS", &c.Classifier.RequestTimeoutSeconds)
	envInt("CLASSIFIER_MAX_RETRIES", &c.Classifier.MaxRetries)

	envInt("PROCESSING_TIMEOUT_MINUTES", &c.ProcessingTimeoutMinutes)
	envInt("QUEUE_SIZE", &c.QueueSize)
	envInt("WORKERS", &c.Workers)
	envInt("THROTTLE_REQUESTS_PER_MINUTE", &c.ThrottleRequestsPerMinute)

	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("ENV", &c.Env)

	envInt("RECORD_RETENTION_MINUTES", &c.RecordRetentionMinutes)
	envInt("CLEANUP_INTERVAL_SECONDS", &c.CleanupIntervalSeconds)
	envString("CALLBACK_HMAC_SECRET", &c.CallbackHmacSecret)
	envInt("CALLBACK_MAX_ATTEMPTS", &c.CallbackMaxAttempts)

	envString("S3_ENDPOINT", &c.S3.Endpoint)
	envString("S3_ACCESS_KEY", &c.S3.AccessKey)
	envString("S3_SECRET_KEY", &c.S3.SecretKey)
	envString("S3_REGION", &c.S3.Region)
	envBool("S3_USE_SSL", &c.S3.UseSSL)
	envString("ARCHIVE_DIR", &c.Archive.Dir)
	envString("ARCHIVE_BUCKET", &c.Archive.Bucket)

	envBool("OTEL_ENABLED", &c.Tracing.Enabled)
	envString("OTEL_SERVICE_NAME", &c.Tracing.ServiceName)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.OTLPEndpoint)
	envBool("OTEL_EXPORTER_OTLP_INSECURE", &c.Tracing.OTLPInsecure)
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.Tracing.SampleRatio = f
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.ImageBaseDir == "" {
		c.ImageBaseDir = "."
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = 20 << 20
	}
	if c.Classifier.Provider == "" {
		c.Classifier.Provider = "ollama"
	}
	if c.Classifier.URL == "" && c.Classifier.Provider == "ollama" {
		c.Classifier.URL = "http://localhost:11434/api/chat"
	}
	if c.Classifier.Model == "" {
		switch c.Classifier.Provider {
		case "gemini":
			c.Classifier.Model = "gemini-2.5-flash"
		default:
			c.Classifier.Model = "llava:7b"
		}
	}
	if c.Classifier.RequestTimeoutSeconds <= 0 {
		c.Classifier.RequestTimeoutSeconds = 30
	}
	if c.Classifier.MaxRetries <= 0 {
		c.Classifier.MaxRetries = 3
	}
	if c.ProcessingTimeoutMinutes <= 0 {
		c.ProcessingTimeoutMinutes = 5
	}
	if c.QueueSize == 0 {
		c.QueueSize = 100
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	if c.ThrottleRequestsPerMinute == 0 {
		c.ThrottleRequestsPerMinute = 60
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.CleanupIntervalSeconds <= 0 {
		c.CleanupIntervalSeconds = 300
	}
	if c.CallbackMaxAttempts <= 0 {
		c.CallbackMaxAttempts = 5
	}
	if c.CallbackBaseBackoffSeconds <= 0 {
		c.CallbackBaseBackoffSeconds = 2
	}
	if c.CallbackMaxBackoffSeconds <= 0 {
		c.CallbackMaxBackoffSeconds = 60
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "image-checker"
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be within 1..65535")
	}
	if dir, err := LocalDir(c.ImageBaseDir); err != nil {
		errs = append(errs, err.Error())
	} else if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		errs = append(errs, fmt.Sprintf("imageBaseDir %q must be an existing directory", c.ImageBaseDir))
	}

	switch strings.ToLower(c.Classifier.Provider) {
	case "ollama":
		u, err := url.Parse(c.Classifier.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "classifier.url must be a valid http(s) URL")
		}
	case "gemini":
		if strings.TrimSpace(c.Classifier.APIKey) == "" {
			errs = append(errs, "classifier.apiKey is required for the gemini provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("classifier.provider %q is not one of ollama, gemini", c.Classifier.Provider))
	}

	if c.QueueSize < 1 || c.QueueSize > 10000 {
		errs = append(errs, "queueSize must be within 1..10000")
	}
	if c.Workers < 1 {
		errs = append(errs, "workers must be at least 1")
	}
	if c.ThrottleRequestsPerMinute <= 0 {
		errs = append(errs, "throttleRequestsPerMinute must be positive")
	}
	if c.RecordRetentionMinutes < 0 {
		errs = append(errs, "recordRetentionMinutes must not be negative")
	}
	if c.Archive.Bucket != "" && !c.S3.Enabled() {
		errs = append(errs, "archive.bucket requires s3.endpoint")
	}
	if !strings.EqualFold(c.Env, "dev") && c.CallbackHmacSecret == "" {
		errs = append(errs, "callbackHmacSecret is required in non-dev")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LocalDir accepts a plain path or an absolute file:// URI and returns the path.
func LocalDir(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		return filepath.Clean(raw), nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" || (u.Host != "" && u.Host != "localhost") || !filepath.IsAbs(u.Path) {
		return "", fmt.Errorf("imageBaseDir %q must be a local path or an absolute file:// URI", raw)
	}
	return filepath.Clean(u.Path), nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
