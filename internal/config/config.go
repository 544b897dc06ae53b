package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/atlas-slicer/internal/infrastructure/resilience"
	"gopkg.in/yaml.v3"
)

const (
	DownloadModeSave    = "save"
	DownloadModeBrowser = "browser"
)

type Config struct {
	ServiceURL string
	LogLevel   string
	LogFormat  string

	RequestTimeoutSeconds int
	RateLimitRPS          float64
	RateLimitBurst        int

	RetryMaxAttempts          int
	BreakerEnabled            bool
	BreakerMinRequests        int
	BreakerFailureRatio       float64
	BreakerOpenTimeoutSeconds int

	ContractValidation bool

	PreviewDir   string
	DownloadMode string
	DownloadDir  string

	NATSURL     string
	NATSSubject string

	// MetricsAddr is the local HTTP listener for /metrics, /healthz and the
	// workflow snapshot. ControlAPI also mounts the action endpoints there.
	MetricsAddr string
	ControlAPI  bool
}

func Load() Config {
	return fromEnv(defaults())
}

// LoadFile reads a YAML file and lets environment variables override it.
// An empty path is the same as Load.
func LoadFile(path string) (Config, error) {
	base := defaults()
	if strings.TrimSpace(path) == "" {
		return fromEnv(base), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	fc.apply(&base)
	return fromEnv(base), nil
}

func defaults() Config {
	return Config{
		ServiceURL: "http://localhost:8080",
		LogLevel:   "info",
		LogFormat:  "json",

		RequestTimeoutSeconds: 30,
		RateLimitRPS:          0,
		RateLimitBurst:        1,

		RetryMaxAttempts:          1,
		BreakerEnabled:            true,
		BreakerMinRequests:        5,
		BreakerFailureRatio:       0.6,
		BreakerOpenTimeoutSeconds: 30,

		ContractValidation: true,

		PreviewDir:   "",
		DownloadMode: DownloadModeSave,
		DownloadDir:  ".",

		NATSURL:     "",
		NATSSubject: "atlas.workflow.snapshots",

		MetricsAddr: "",
		ControlAPI:  false,
	}
}

func fromEnv(base Config) Config {
	return Config{
		ServiceURL: mustEnv("ATLAS_SERVICE_URL", base.ServiceURL),
		LogLevel:   mustEnv("LOG_LEVEL", base.LogLevel),
		LogFormat:  mustEnv("LOG_FORMAT", base.LogFormat),

		RequestTimeoutSeconds: mustEnvInt("ATLAS_REQUEST_TIMEOUT_SECONDS", base.RequestTimeoutSeconds),
		RateLimitRPS:          mustEnvFloat("ATLAS_RATE_LIMIT_RPS", base.RateLimitRPS),
		RateLimitBurst:        mustEnvInt("ATLAS_RATE_LIMIT_BURST", base.RateLimitBurst),

		RetryMaxAttempts:          mustEnvInt("ATLAS_RETRY_MAX_ATTEMPTS", base.RetryMaxAttempts),
		BreakerEnabled:            mustEnvBool("ATLAS_BREAKER_ENABLED", base.BreakerEnabled),
		BreakerMinRequests:        mustEnvInt("ATLAS_BREAKER_MIN_REQUESTS", base.BreakerMinRequests),
		BreakerFailureRatio:       mustEnvFloat("ATLAS_BREAKER_FAILURE_RATIO", base.BreakerFailureRatio),
		BreakerOpenTimeoutSeconds: mustEnvInt("ATLAS_BREAKER_OPEN_TIMEOUT_SECONDS", base.BreakerOpenTimeoutSeconds),

		ContractValidation: mustEnvBool("ATLAS_CONTRACT_VALIDATION", base.ContractValidation),

		PreviewDir:   mustEnv("PREVIEW_DIR", base.PreviewDir),
		DownloadMode: strings.ToLower(mustEnv("DOWNLOAD_MODE", base.DownloadMode)),
		DownloadDir:  mustEnv("DOWNLOAD_DIR", base.DownloadDir),

		NATSURL:     mustEnv("NATS_URL", base.NATSURL),
		NATSSubject: mustEnv("NATS_SUBJECT", base.NATSSubject),

		MetricsAddr: mustEnv("METRICS_ADDR", base.MetricsAddr),
		ControlAPI:  mustEnvBool("CONTROL_API_ENABLED", base.ControlAPI),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceURL) == "" {
		return fmt.Errorf("service url is required")
	}
	switch c.DownloadMode {
	case DownloadModeSave, DownloadModeBrowser:
	default:
		return fmt.Errorf("unsupported download mode %q", c.DownloadMode)
	}
	return nil
}

func (c Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) Resilience() resilience.Config {
	cfg := resilience.DefaultConfig()
	cfg.RetryMaxAttempts = c.RetryMaxAttempts
	cfg.BreakerEnabled = c.BreakerEnabled
	if c.BreakerMinRequests > 0 {
		cfg.BreakerMinRequests = uint32(c.BreakerMinRequests)
	}
	cfg.BreakerFailureRatio = c.BreakerFailureRatio
	cfg.BreakerOpenTimeout = time.Duration(c.BreakerOpenTimeoutSeconds) * time.Second
	return cfg
}

type fileConfig struct {
	ServiceURL string `yaml:"service_url"`
	Log        struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Request struct {
		TimeoutSeconds *int     `yaml:"timeout_seconds"`
		RateLimitRPS   *float64 `yaml:"rate_limit_rps"`
		RateLimitBurst *int     `yaml:"rate_limit_burst"`
	} `yaml:"request"`
	Resilience struct {
		RetryMaxAttempts          *int     `yaml:"retry_max_attempts"`
		BreakerEnabled            *bool    `yaml:"breaker_enabled"`
		BreakerMinRequests        *int     `yaml:"breaker_min_requests"`
		BreakerFailureRatio       *float64 `yaml:"breaker_failure_ratio"`
		BreakerOpenTimeoutSeconds *int     `yaml:"breaker_open_timeout_seconds"`
	} `yaml:"resilience"`
	ContractValidation *bool  `yaml:"contract_validation"`
	PreviewDir         string `yaml:"preview_dir"`
	Download           struct {
		Mode string `yaml:"mode"`
		Dir  string `yaml:"dir"`
	} `yaml:"download"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
	MetricsAddr string `yaml:"metrics_addr"`
	ControlAPI  *bool  `yaml:"control_api"`
}

func (fc fileConfig) apply(cfg *Config) {
	setString(&cfg.ServiceURL, fc.ServiceURL)
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)
	setValue(&cfg.RequestTimeoutSeconds, fc.Request.TimeoutSeconds)
	setValue(&cfg.RateLimitRPS, fc.Request.RateLimitRPS)
	setValue(&cfg.RateLimitBurst, fc.Request.RateLimitBurst)
	setValue(&cfg.RetryMaxAttempts, fc.Resilience.RetryMaxAttempts)
	setValue(&cfg.BreakerEnabled, fc.Resilience.BreakerEnabled)
	setValue(&cfg.BreakerMinRequests, fc.Resilience.BreakerMinRequests)
	setValue(&cfg.BreakerFailureRatio, fc.Resilience.BreakerFailureRatio)
	setValue(&cfg.BreakerOpenTimeoutSeconds, fc.Resilience.BreakerOpenTimeoutSeconds)
	setValue(&cfg.ContractValidation, fc.ContractValidation)
	setString(&cfg.PreviewDir, fc.PreviewDir)
	setString(&cfg.DownloadMode, fc.Download.Mode)
	setString(&cfg.DownloadDir, fc.Download.Dir)
	setString(&cfg.NATSURL, fc.NATS.URL)
	setString(&cfg.NATSSubject, fc.NATS.Subject)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setValue(&cfg.ControlAPI, fc.ControlAPI)
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setValue[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
