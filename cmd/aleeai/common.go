package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anyhui/aleeai-prompt/internal/adapters/filestore"
	"github.com/anyhui/aleeai-prompt/internal/adapters/id"
	"github.com/anyhui/aleeai-prompt/internal/adapters/postgres"
	"github.com/anyhui/aleeai-prompt/internal/adapters/retry"
	"github.com/anyhui/aleeai-prompt/internal/application/services"
	"github.com/anyhui/aleeai-prompt/internal/config"
	"github.com/anyhui/aleeai-prompt/internal/llm"
	"github.com/anyhui/aleeai-prompt/internal/prompt"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global variables
var (
	cfg       *config.Config
	llmClient *llm.Client
)

// setupLogging configures the global zerolog logger. Logs go to stderr so
// stdout carries only command output.
func setupLogging(c config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	if c.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

func newLLMClient(c *config.Config) *llm.Client {
	llmSettings := c.LLMSettings()
	opts := []llm.Option{
		llm.WithMaxTokens(llmSettings.MaxTokens),
		llm.WithRequestTimeout(llmSettings.RequestTimeout.Std()),
	}
	if c.RateLimit.Enabled {
		opts = append(opts, llm.WithRateLimit(c.RateLimit.MaxRequests, c.RateLimit.Window.Std()))
	}
	return llm.NewClient(opts...)
}

// loadTemplates returns the configured templates document or the embedded one.
func loadTemplates() (*prompt.Templates, error) {
	if cfg.Optimizer.TemplatesPath == "" {
		return prompt.DefaultTemplates()
	}
	templates, err := prompt.LoadTemplates(cfg.Optimizer.TemplatesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates from %s: %w", cfg.Optimizer.TemplatesPath, err)
	}
	return templates, nil
}

// openVersionService builds the version service over the configured store.
// The returned function releases the store.
func openVersionService(ctx context.Context) (*services.VersionService, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		var pool *pgxpool.Pool
		err := retry.WithBackoff(ctx, retry.StartupConfig(), "postgres connect", func(ctx context.Context) error {
			p, err := postgres.Connect(ctx, cfg.Store.PostgresURL)
			if err != nil {
				return err
			}
			pool = p
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}

		service := services.NewVersionService(
			postgres.NewVersionRepository(pool),
			postgres.NewTransactionManager(pool),
			id.New(),
		).WithMaxVersions(cfg.Store.MaxVersionsPerPrompt)
		return service, pool.Close, nil

	default:
		store, err := filestore.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Debug().Str("path", store.Path()).Msg("using file version store")

		// The store is its own transaction manager: a save holds the file
		// lock across the whole read-modify-write.
		service := services.NewVersionService(store, store, id.New()).
			WithMaxVersions(cfg.Store.MaxVersionsPerPrompt)
		return service, func() {}, nil
	}
}

// readPromptInput takes the prompt from the argument, the file ("-" is
// stdin) or stdin when neither is given.
func readPromptInput(args []string, file string, stdin io.Reader) (string, error) {
	if len(args) > 0 && file != "" {
		return "", fmt.Errorf("pass the prompt either as an argument or with --file")
	}
	if len(args) > 0 {
		return args[0], nil
	}

	var (
		data []byte
		err  error
	)
	switch file {
	case "", "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}
