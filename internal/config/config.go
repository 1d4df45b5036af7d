package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/llm"
)

// Store drivers
const (
	StoreDriverFile     = "file"
	StoreDriverPostgres = "postgres"
)

// Tracing exporters, same values as the tracing adapter accepts
const (
	TracingNone   = "none"
	TracingStdout = "stdout"
	TracingOTLP   = "otlp"
)

// Config holds all configuration for aleeai
type Config struct {
	LLM       LLMConfig       `json:"llm"`
	Optimizer OptimizerConfig `json:"optimizer"`
	Store     StoreConfig     `json:"store"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
	Tracing   TracingConfig   `json:"tracing"`

	mu sync.RWMutex
}

// LLMConfig holds the chat-completions endpoint settings
type LLMConfig struct {
	Endpoint       string   `json:"endpoint"`
	APIKey         string   `json:"api_key"`
	Model          string   `json:"model"`
	MaxTokens      int      `json:"max_tokens"`      // 0 omits max_tokens from requests
	RequestTimeout Duration `json:"request_timeout"` // bounds one stage call including its stream
}

// OptimizerConfig holds pipeline settings
type OptimizerConfig struct {
	Temperature   float64 `json:"temperature"`
	TemplatesPath string  `json:"templates_path"` // empty uses the embedded templates
}

// StoreConfig selects and configures the version store
type StoreConfig struct {
	Driver               string `json:"driver"` // "file" or "postgres"
	Path                 string `json:"path"`
	PostgresURL          string `json:"postgres_url"`
	MaxVersionsPerPrompt int    `json:"max_versions_per_prompt"` // 0 keeps every version
}

// RateLimitConfig throttles outbound stage calls
type RateLimitConfig struct {
	Enabled     bool     `json:"enabled"`
	MaxRequests int      `json:"max_requests"`
	Window      Duration `json:"window"`
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	CORSOrigins []string `json:"cors_origins"` // Allowed CORS origins
}

// LogConfig controls the global logger
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// TracingConfig selects the span exporter
type TracingConfig struct {
	Exporter string `json:"exporter"`
	Endpoint string `json:"endpoint"` // OTLP gRPC collector host:port
}

// Duration is a time.Duration written as a Go duration string ("60s") in JSON.
// Plain numbers are read as seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %w", err)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".aleeai")

	return &Config{
		LLM: LLMConfig{
			Endpoint:       llm.DefaultEndpoint,
			APIKey:         "",
			Model:          llm.DefaultModel,
			MaxTokens:      0,
			RequestTimeout: Duration(5 * time.Minute),
		},
		Optimizer: OptimizerConfig{
			Temperature: 0,
		},
		Store: StoreConfig{
			Driver:               StoreDriverFile,
			Path:                 filepath.Join(dataDir, "prompt_versions.json"),
			MaxVersionsPerPrompt: 50,
		},
		RateLimit: RateLimitConfig{
			Enabled:     false,
			MaxRequests: 100,
			Window:      Duration(60 * time.Second),
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"}, // Default development origin
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: isTerminal(os.Stderr),
		},
		Tracing: TracingConfig{
			Exporter: TracingNone,
		},
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envBool loads a boolean environment variable into the target pointer if set and valid
func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// envDuration accepts Go duration strings or a plain number of seconds
func envDuration(key string, target *Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*target = Duration(d)
		return
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		*target = Duration(time.Duration(seconds) * time.Second)
	}
}

// envStringSlice loads a comma-separated environment variable into a string slice
func envStringSlice(key string, target *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}

// Load reads defaults, the config file, a .env file in the working
// directory and finally ALEEAI_* environment variables, in that order.
func Load() (*Config, error) {
	return load(getConfigPath(), ".env")
}

func load(configPath, dotEnvPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := loadDotEnv(dotEnvPath); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	cfg.LLM.Endpoint = llm.ResolveEndpoint(cfg.LLM.Endpoint)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv sets variables from path that are not already set. A missing
// file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	// LLM
	envString("ALEEAI_LLM_ENDPOINT", &cfg.LLM.Endpoint)
	envString("ALEEAI_LLM_API_KEY", &cfg.LLM.APIKey)
	envString("ALEEAI_LLM_MODEL", &cfg.LLM.Model)
	envInt("ALEEAI_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envDuration("ALEEAI_LLM_REQUEST_TIMEOUT", &cfg.LLM.RequestTimeout)

	// Optimizer
	envFloat("ALEEAI_OPTIMIZER_TEMPERATURE", &cfg.Optimizer.Temperature)
	envString("ALEEAI_TEMPLATES_PATH", &cfg.Optimizer.TemplatesPath)

	// Store
	envString("ALEEAI_STORE_DRIVER", &cfg.Store.Driver)
	envString("ALEEAI_STORE_PATH", &cfg.Store.Path)
	envString("ALEEAI_POSTGRES_URL", &cfg.Store.PostgresURL)
	envInt("ALEEAI_MAX_VERSIONS_PER_PROMPT", &cfg.Store.MaxVersionsPerPrompt)

	// Rate limit
	envBool("ALEEAI_RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	envInt("ALEEAI_RATE_LIMIT_MAX_REQUESTS", &cfg.RateLimit.MaxRequests)
	envDuration("ALEEAI_RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)

	// Server
	envString("ALEEAI_SERVER_HOST", &cfg.Server.Host)
	envInt("ALEEAI_SERVER_PORT", &cfg.Server.Port)
	envStringSlice("ALEEAI_CORS_ORIGINS", &cfg.Server.CORSOrigins)

	// Logging and tracing
	envString("ALEEAI_LOG_LEVEL", &cfg.Log.Level)
	envBool("ALEEAI_LOG_PRETTY", &cfg.Log.Pretty)
	envString("ALEEAI_TRACING_EXPORTER", &cfg.Tracing.Exporter)
	envString("ALEEAI_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values. Missing remote
// call settings are not reported here; they fail the run that needs them.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	errs := validateLLM(c.LLM)

	if c.Optimizer.Temperature < 0 || c.Optimizer.Temperature > 2 {
		errs = append(errs, "optimizer temperature must be between 0 and 2")
	}

	switch c.Store.Driver {
	case StoreDriverFile:
		if c.Store.Path == "" {
			errs = append(errs, "store path is required for the file driver")
		}
	case StoreDriverPostgres:
		if c.Store.PostgresURL == "" {
			errs = append(errs, "PostgreSQL URL is required for the postgres driver")
		} else if !isValidURL(c.Store.PostgresURL) {
			errs = append(errs, "PostgreSQL URL must be a valid URL")
		}
	default:
		errs = append(errs, fmt.Sprintf("store driver must be %q or %q", StoreDriverFile, StoreDriverPostgres))
	}
	if c.Store.MaxVersionsPerPrompt < 0 {
		errs = append(errs, "max versions per prompt must not be negative")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequests < 1 {
			errs = append(errs, "rate limit max requests must be at least 1")
		}
		if c.RateLimit.Window <= 0 {
			errs = append(errs, "rate limit window must be positive")
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log level must be one of debug, info, warn, error")
	}

	switch c.Tracing.Exporter {
	case TracingNone, TracingStdout:
	case TracingOTLP:
		if c.Tracing.Endpoint == "" {
			errs = append(errs, "tracing endpoint is required for the otlp exporter")
		}
	default:
		errs = append(errs, "tracing exporter must be one of none, stdout, otlp")
	}

	if len(errs) > 0 {
		return domain.ConfigurationError("configuration errors: " + strings.Join(errs, "; "))
	}
	return nil
}

func validateLLM(l LLMConfig) []string {
	var errs []string
	if l.Endpoint != "" && !isValidURL(l.Endpoint) {
		errs = append(errs, "LLM endpoint must be a valid URL")
	}
	if l.MaxTokens < 0 {
		errs = append(errs, "LLM max_tokens must not be negative")
	}
	if l.RequestTimeout < 0 {
		errs = append(errs, "LLM request timeout must not be negative")
	}
	return errs
}

// LLMUpdate is a partial update of the LLM section. Nil fields are left unchanged.
type LLMUpdate struct {
	Endpoint       *string
	APIKey         *string
	Model          *string
	MaxTokens      *int
	RequestTimeout *time.Duration
}

// UpdateLLM applies update and re-validates the section. On failure the
// configuration is left unchanged.
func (c *Config) UpdateLLM(update LLMUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.LLM
	if update.Endpoint != nil {
		next.Endpoint = llm.ResolveEndpoint(strings.TrimSpace(*update.Endpoint))
	}
	if update.APIKey != nil {
		next.APIKey = strings.TrimSpace(*update.APIKey)
	}
	if update.Model != nil {
		next.Model = strings.TrimSpace(*update.Model)
	}
	if update.MaxTokens != nil {
		next.MaxTokens = *update.MaxTokens
	}
	if update.RequestTimeout != nil {
		next.RequestTimeout = Duration(*update.RequestTimeout)
	}

	if errs := validateLLM(next); len(errs) > 0 {
		return domain.ConfigurationError("invalid LLM settings: " + strings.Join(errs, "; "))
	}
	c.LLM = next
	return nil
}

// LLMSettings returns a copy of the LLM section.
func (c *Config) LLMSettings() LLMConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LLM
}

// RemoteCall derives the per-call settings from the LLM section and the
// optimizer temperature.
func (c *Config) RemoteCall() models.RemoteCallConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.RemoteCallConfig{
		Endpoint:    c.LLM.Endpoint,
		ModelID:     c.LLM.Model,
		Credential:  c.LLM.APIKey,
		Temperature: c.Optimizer.Temperature,
	}
}

// Save writes the configuration as indented JSON, creating parent directories.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Path returns the config file location Load reads.
func Path() string {
	return getConfigPath()
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	if path := os.Getenv("ALEEAI_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(homeDir, ".config", "aleeai", "config.json")
}
