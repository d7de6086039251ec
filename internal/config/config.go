package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Splunk   SplunkConfig   `yaml:"splunk"`
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	History  HistoryConfig  `yaml:"history"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// SplunkConfig covers the search backend connection. Token auth wins
// when both token and username/password are set.
type SplunkConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Scheme             string        `yaml:"scheme"`
	Token              string        `yaml:"token"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	IndexCacheTTL      time.Duration `yaml:"index_cache_ttl"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type PipelineConfig struct {
	DefaultMaxResults int           `yaml:"default_max_results"`
	DefaultLookback   string        `yaml:"default_lookback"`
	DefaultTimeout    time.Duration `yaml:"default_timeout"`
	MaxTimeout        time.Duration `yaml:"max_timeout"`
}

type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file and applies environment
// overrides for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SPLUNK_HOST"); v != "" {
		c.Splunk.Host = v
	}
	if v := os.Getenv("SPLUNK_TOKEN"); v != "" {
		c.Splunk.Token = v
	}
	if v := os.Getenv("SPLUNK_USERNAME"); v != "" {
		c.Splunk.Username = v
	}
	if v := os.Getenv("SPLUNK_PASSWORD"); v != "" {
		c.Splunk.Password = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    150 * time.Second, // > max search timeout + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Splunk: SplunkConfig{
			Host:          "localhost",
			Port:          8089,
			Scheme:        "https",
			PollInterval:  time.Second,
			IndexCacheTTL: 5 * time.Minute,
		},
		LLM: LLMConfig{
			Model:       "gpt-4",
			MaxRetries:  3,
			BackoffBase: 500 * time.Millisecond,
			CallTimeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			DefaultMaxResults: 100,
			DefaultLookback:   "-24h",
			DefaultTimeout:    60 * time.Second,
			MaxTimeout:        120 * time.Second,
		},
		History: HistoryConfig{
			Capacity: 1000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Splunk.Host == "" {
		return fmt.Errorf("splunk.host is required")
	}
	if c.Splunk.Port < 1 || c.Splunk.Port > 65535 {
		return fmt.Errorf("splunk.port must be 1-65535, got %d", c.Splunk.Port)
	}
	if c.Splunk.Scheme != "http" && c.Splunk.Scheme != "https" {
		return fmt.Errorf("splunk.scheme must be http or https, got %q", c.Splunk.Scheme)
	}
	if c.Splunk.Token == "" && (c.Splunk.Username == "" || c.Splunk.Password == "") {
		return fmt.Errorf("either splunk.token or splunk.username and splunk.password must be set")
	}
	if c.Pipeline.DefaultMaxResults < 1 {
		return fmt.Errorf("pipeline.default_max_results must be >= 1")
	}
	if c.Pipeline.DefaultTimeout > c.Pipeline.MaxTimeout {
		return fmt.Errorf("pipeline.default_timeout (%s) must be <= max_timeout (%s)",
			c.Pipeline.DefaultTimeout, c.Pipeline.MaxTimeout)
	}
	if c.History.Capacity < 1 {
		return fmt.Errorf("history.capacity must be >= 1")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.LLM.APIKey == "" {
		log.Warn().Msg("llm.api_key not set; translation, enhancement and suggestions will be unavailable")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
