package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/anyhui/aleeai-prompt/internal/config"
)

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "aleeai",
		Short: "aleeai - prompt optimizer",
		Long: `aleeai rewrites prompts through a three-stage pipeline (analysis,
suggestions, decomposition) against any OpenAI-compatible chat endpoint,
and keeps a version history per prompt.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := setupLogging(cfg.Log); err != nil {
				return err
			}

			llmClient = newLLMClient(cfg)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		optimizeCmd(),
		versionsCmd(),
		checkCmd(),
		presetsCmd(),
		costCmd(),
		serveCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			llmSettings := cfg.LLMSettings()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Current configuration (%s):\n\n", config.Path())

			fmt.Fprintln(out, "LLM:")
			fmt.Fprintf(out, "  Endpoint:        %s\n", llmSettings.Endpoint)
			fmt.Fprintf(out, "  Model:           %s\n", llmSettings.Model)
			fmt.Fprintf(out, "  API Key:         %s\n", maskSecret(llmSettings.APIKey))
			fmt.Fprintf(out, "  Max Tokens:      %d\n", llmSettings.MaxTokens)
			fmt.Fprintf(out, "  Request Timeout: %s\n", llmSettings.RequestTimeout.Std())
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Optimizer:")
			fmt.Fprintf(out, "  Temperature: %.2f\n", cfg.Optimizer.Temperature)
			fmt.Fprintf(out, "  Templates:   %s\n", valueOr(cfg.Optimizer.TemplatesPath, "(embedded)"))
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Version store:")
			fmt.Fprintf(out, "  Driver:       %s\n", cfg.Store.Driver)
			fmt.Fprintf(out, "  Path:         %s\n", cfg.Store.Path)
			fmt.Fprintf(out, "  PostgreSQL:   %s\n", maskSecret(cfg.Store.PostgresURL))
			fmt.Fprintf(out, "  Max Versions: %d\n", cfg.Store.MaxVersionsPerPrompt)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Rate limit:")
			if cfg.RateLimit.Enabled {
				fmt.Fprintf(out, "  %d requests per %s\n", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window.Std())
			} else {
				fmt.Fprintln(out, "  disabled")
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Server:")
			fmt.Fprintf(out, "  Address: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			fmt.Fprintf(out, "  CORS:    %v\n", cfg.Server.CORSOrigins)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Environment variables:")
			fmt.Fprintln(out, "  ALEEAI_LLM_ENDPOINT, ALEEAI_LLM_API_KEY, ALEEAI_LLM_MODEL, ALEEAI_LLM_MAX_TOKENS")
			fmt.Fprintln(out, "  ALEEAI_OPTIMIZER_TEMPERATURE, ALEEAI_TEMPLATES_PATH")
			fmt.Fprintln(out, "  ALEEAI_STORE_DRIVER, ALEEAI_STORE_PATH, ALEEAI_POSTGRES_URL, ALEEAI_MAX_VERSIONS_PER_PROMPT")
			fmt.Fprintln(out, "  ALEEAI_RATE_LIMIT_ENABLED, ALEEAI_RATE_LIMIT_MAX_REQUESTS, ALEEAI_RATE_LIMIT_WINDOW")
			fmt.Fprintln(out, "  ALEEAI_SERVER_HOST, ALEEAI_SERVER_PORT, ALEEAI_CORS_ORIGINS")
			fmt.Fprintln(out, "  ALEEAI_LOG_LEVEL, ALEEAI_LOG_PRETTY, ALEEAI_TRACING_EXPORTER, ALEEAI_OTLP_ENDPOINT")

			return nil
		},
	}

	cmd.AddCommand(configSetCmd())
	return cmd
}

// configSetCmd updates the LLM section and writes the config file
func configSetCmd() *cobra.Command {
	var (
		endpoint  string
		apiKey    string
		model     string
		maxTokens int
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the LLM settings in the config file",
		Long: `Update the endpoint, API key, model or max tokens and write the
effective configuration to the config file. Endpoint accepts a preset
label (see "aleeai presets") or a URL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var update config.LLMUpdate
			flags := cmd.Flags()
			if flags.Changed("endpoint") {
				update.Endpoint = &endpoint
			}
			if flags.Changed("api-key") {
				update.APIKey = &apiKey
			}
			if flags.Changed("model") {
				update.Model = &model
			}
			if flags.Changed("max-tokens") {
				update.MaxTokens = &maxTokens
			}
			if update == (config.LLMUpdate{}) {
				return fmt.Errorf("nothing to update; pass at least one flag")
			}

			if err := cfg.UpdateLLM(update); err != nil {
				return err
			}
			path := config.Path()
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Endpoint URL or preset label")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key")
	cmd.Flags().StringVar(&model, "model", "", "Model identifier")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "max_tokens sent with each request (0 omits it)")

	return cmd
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aleeai %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
