package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/llm"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLM.Endpoint != llm.DefaultEndpoint {
		t.Errorf("expected default endpoint %s, got %s", llm.DefaultEndpoint, cfg.LLM.Endpoint)
	}
	if cfg.LLM.Model != "gpt-4" {
		t.Errorf("expected default model gpt-4, got %s", cfg.LLM.Model)
	}
	if cfg.Optimizer.Temperature != 0 {
		t.Errorf("optimizer temperature should default to 0, got %v", cfg.Optimizer.Temperature)
	}
	if cfg.Store.Driver != StoreDriverFile {
		t.Errorf("expected file store driver, got %s", cfg.Store.Driver)
	}
	if filepath.Base(cfg.Store.Path) != "prompt_versions.json" {
		t.Errorf("unexpected store path %s", cfg.Store.Path)
	}
	if cfg.Store.MaxVersionsPerPrompt != 50 {
		t.Errorf("expected 50 versions per prompt, got %d", cfg.Store.MaxVersionsPerPrompt)
	}
	if cfg.RateLimit.Enabled {
		t.Error("rate limit should be disabled by default")
	}
	if cfg.RateLimit.MaxRequests != 100 || cfg.RateLimit.Window.Std() != time.Minute {
		t.Errorf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Errorf("unexpected server defaults %+v", cfg.Server)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestEnvString(t *testing.T) {
	target := "original"

	t.Run("sets value when env var exists", func(t *testing.T) {
		t.Setenv("TEST_VAR", "new_value")
		envString("TEST_VAR", &target)
		if target != "new_value" {
			t.Errorf("expected 'new_value', got '%s'", target)
		}
	})

	t.Run("does not change value when env var is empty", func(t *testing.T) {
		t.Setenv("TEST_VAR", "")
		target = "original"
		envString("TEST_VAR", &target)
		if target != "original" {
			t.Errorf("expected 'original', got '%s'", target)
		}
	})
}

func TestEnvInt(t *testing.T) {
	target := 42

	t.Run("sets value when env var is valid int", func(t *testing.T) {
		t.Setenv("TEST_INT", "100")
		envInt("TEST_INT", &target)
		if target != 100 {
			t.Errorf("expected 100, got %d", target)
		}
	})

	t.Run("does not change value when env var is invalid", func(t *testing.T) {
		t.Setenv("TEST_INT", "not_a_number")
		target = 42
		envInt("TEST_INT", &target)
		if target != 42 {
			t.Errorf("expected 42, got %d", target)
		}
	})
}

func TestEnvBoolAndDuration(t *testing.T) {
	enabled := false
	t.Setenv("TEST_BOOL", "true")
	envBool("TEST_BOOL", &enabled)
	if !enabled {
		t.Error("expected true")
	}

	t.Setenv("TEST_BOOL", "maybe")
	envBool("TEST_BOOL", &enabled)
	if !enabled {
		t.Error("invalid bool must leave the value unchanged")
	}

	d := Duration(time.Second)
	t.Setenv("TEST_DURATION", "90s")
	envDuration("TEST_DURATION", &d)
	if d.Std() != 90*time.Second {
		t.Errorf("expected 90s, got %v", d.Std())
	}

	t.Setenv("TEST_DURATION", "30")
	envDuration("TEST_DURATION", &d)
	if d.Std() != 30*time.Second {
		t.Errorf("expected plain numbers to be seconds, got %v", d.Std())
	}
}

func TestEnvStringSlice(t *testing.T) {
	target := []string{"default"}

	t.Setenv("TEST_SLICE", " a, b ,,c ")
	envStringSlice("TEST_SLICE", &target)
	if strings.Join(target, "|") != "a|b|c" {
		t.Errorf("expected [a b c], got %v", target)
	}

	t.Setenv("TEST_SLICE", " , ")
	envStringSlice("TEST_SLICE", &target)
	if strings.Join(target, "|") != "a|b|c" {
		t.Errorf("blank entries must leave the value unchanged, got %v", target)
	}
}

func TestDuration_JSON(t *testing.T) {
	var cfg RateLimitConfig
	if err := json.Unmarshal([]byte(`{"window":"2m"}`), &cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Window.Std() != 2*time.Minute {
		t.Errorf("expected 2m, got %v", cfg.Window.Std())
	}

	if err := json.Unmarshal([]byte(`{"window":45}`), &cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Window.Std() != 45*time.Second {
		t.Errorf("expected 45s, got %v", cfg.Window.Std())
	}

	if err := json.Unmarshal([]byte(`{"window":"soon"}`), &cfg); err == nil {
		t.Error("expected an error for an invalid duration")
	}

	out, err := json.Marshal(RateLimitConfig{Window: Duration(time.Minute)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), `"window":"1m0s"`) {
		t.Errorf("unexpected encoding %s", out)
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()

	configPath := filepath.Join(dir, "config.json")
	fileConfig := `{
  "llm": {"endpoint": "Deepseek", "model": "deepseek-chat", "api_key": "sk-file"},
  "store": {"driver": "file", "path": "` + filepath.ToSlash(filepath.Join(dir, "versions.json")) + `", "max_versions_per_prompt": 10},
  "server": {"port": 9090}
}`
	if err := os.WriteFile(configPath, []byte(fileConfig), 0o600); err != nil {
		t.Fatal(err)
	}

	dotEnvPath := filepath.Join(dir, ".env")
	dotEnv := "ALEEAI_LLM_API_KEY=sk-dotenv\nALEEAI_SERVER_PORT=7070\nALEEAI_LLM_MODEL=from-dotenv\n"
	if err := os.WriteFile(dotEnvPath, []byte(dotEnv), 0o600); err != nil {
		t.Fatal(err)
	}

	// Already-set variables win over .env.
	t.Setenv("ALEEAI_LLM_MODEL", "deepseek-reasoner")
	// Registers cleanup for the variables .env will set.
	t.Setenv("ALEEAI_LLM_API_KEY", "")
	os.Unsetenv("ALEEAI_LLM_API_KEY")
	t.Setenv("ALEEAI_SERVER_PORT", "")
	os.Unsetenv("ALEEAI_SERVER_PORT")
	t.Setenv("ALEEAI_RATE_LIMIT_ENABLED", "true")

	cfg, err := load(configPath, dotEnvPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.Endpoint != "https://api.deepseek.com/v1/chat/completions" {
		t.Errorf("preset label should resolve, got %s", cfg.LLM.Endpoint)
	}
	if cfg.LLM.Model != "deepseek-reasoner" {
		t.Errorf("environment should win over .env, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "sk-dotenv" {
		t.Errorf(".env should win over the file, got %s", cfg.LLM.APIKey)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Store.MaxVersionsPerPrompt != 10 {
		t.Errorf("file value should be kept, got %d", cfg.Store.MaxVersionsPerPrompt)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.MaxRequests != 100 {
		t.Errorf("unexpected rate limit %+v", cfg.RateLimit)
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	dir := t.TempDir()

	cfg, err := load(filepath.Join(dir, "absent.json"), filepath.Join(dir, ".env"))
	if err != nil {
		t.Fatalf("missing files should not fail: %v", err)
	}
	if cfg.LLM.Model != "gpt-4" {
		t.Errorf("expected defaults, got model %s", cfg.LLM.Model)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := load(path, ""); err == nil {
		t.Error("expected a parse error")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("ALEEAI_SERVER_PORT", "70000")
	t.Setenv("ALEEAI_STORE_DRIVER", "sqlite")

	_, err := load(filepath.Join(t.TempDir(), "absent.json"), "")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected a configuration error, got %v", err)
	}
	for _, want := range []string{"server port", "store driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err.Error())
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"temperature too high", func(c *Config) { c.Optimizer.Temperature = 2.5 }, "optimizer temperature"},
		{"negative temperature", func(c *Config) { c.Optimizer.Temperature = -0.1 }, "optimizer temperature"},
		{"invalid endpoint", func(c *Config) { c.LLM.Endpoint = "not a url" }, "LLM endpoint"},
		{"empty endpoint allowed", func(c *Config) { c.LLM.Endpoint = "" }, ""},
		{"negative max tokens", func(c *Config) { c.LLM.MaxTokens = -1 }, "max_tokens"},
		{"file store without path", func(c *Config) { c.Store.Path = "" }, "store path"},
		{"postgres without url", func(c *Config) { c.Store.Driver = StoreDriverPostgres }, "PostgreSQL URL is required"},
		{"postgres with url", func(c *Config) {
			c.Store.Driver = StoreDriverPostgres
			c.Store.PostgresURL = "postgres://localhost:5432/aleeai"
		}, ""},
		{"negative version cap", func(c *Config) { c.Store.MaxVersionsPerPrompt = -1 }, "max versions"},
		{"rate limit without requests", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.MaxRequests = 0
		}, "max requests"},
		{"disabled rate limit ignored", func(c *Config) { c.RateLimit.MaxRequests = 0 }, ""},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log level"},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Exporter = TracingOTLP }, "tracing endpoint"},
		{"unknown exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }, "tracing exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestUpdateLLM(t *testing.T) {
	cfg := DefaultConfig()

	endpoint := "SiliconFlow"
	model := " deepseek-ai/DeepSeek-V3 "
	key := "sk-new"
	if err := cfg.UpdateLLM(LLMUpdate{Endpoint: &endpoint, Model: &model, APIKey: &key}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	call := cfg.RemoteCall()
	if call.Endpoint != "https://api.siliconflow.cn/v1/chat/completions" {
		t.Errorf("unexpected endpoint %s", call.Endpoint)
	}
	if call.ModelID != "deepseek-ai/DeepSeek-V3" {
		t.Errorf("model should be trimmed, got %q", call.ModelID)
	}
	if call.Credential != "sk-new" {
		t.Errorf("unexpected credential %s", call.Credential)
	}
	if call.Temperature != cfg.Optimizer.Temperature {
		t.Errorf("temperature should come from the optimizer section")
	}
}

func TestUpdateLLM_RejectsAtomically(t *testing.T) {
	cfg := DefaultConfig()
	before := cfg.LLMSettings()

	model := "gpt-3.5-turbo"
	badEndpoint := "://nowhere"
	err := cfg.UpdateLLM(LLMUpdate{Model: &model, Endpoint: &badEndpoint})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected a configuration error, got %v", err)
	}
	if cfg.LLMSettings() != before {
		t.Errorf("failed update must not change the config: %+v", cfg.LLMSettings())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Store.MaxVersionsPerPrompt = 7
	cfg.RateLimit.Window = Duration(2 * time.Minute)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := load(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Store.MaxVersionsPerPrompt != 7 {
		t.Errorf("expected 7, got %d", loaded.Store.MaxVersionsPerPrompt)
	}
	if loaded.RateLimit.Window.Std() != 2*time.Minute {
		t.Errorf("expected 2m, got %v", loaded.RateLimit.Window.Std())
	}
}

func TestGetConfigPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	t.Run("uses ALEEAI_CONFIG env var when set", func(t *testing.T) {
		t.Setenv("ALEEAI_CONFIG", "/custom/path/config.json")
		if path := getConfigPath(); path != "/custom/path/config.json" {
			t.Errorf("expected custom path, got %s", path)
		}
	})

	t.Run("defaults to .config/aleeai", func(t *testing.T) {
		t.Setenv("ALEEAI_CONFIG", "")
		expected := filepath.Join(homeDir, ".config", "aleeai", "config.json")
		if path := getConfigPath(); path != expected {
			t.Errorf("expected %s, got %s", expected, path)
		}
	})
}
