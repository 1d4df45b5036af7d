package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/anyhui/aleeai-prompt/internal/application/services"
	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/llm"
)

// checkCmd probes the configured endpoint with a minimal request
func checkCmd() *cobra.Command {
	var (
		endpoint string
		apiKey   string
		model    string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Test the connection to the chat endpoint",
		Long:  `Send a one-message, non-streaming request to the configured endpoint. Flags override the configuration for this check only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			call := cfg.RemoteCall()
			if endpoint != "" {
				call.Endpoint = llm.ResolveEndpoint(endpoint)
			}
			if apiKey != "" {
				call.Credential = apiKey
			}
			if model != "" {
				call.ModelID = model
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Endpoint: %s\n", valueOr(call.Endpoint, "(not set)"))
			fmt.Fprintf(out, "Model:    %s\n", valueOr(call.ModelID, "(not set)"))

			result := llmClient.CheckConnection(ctx, call)
			if !result.Success {
				return domain.NewDomainError(domain.ErrTransport, result.Error)
			}
			fmt.Fprintln(out, result.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Endpoint URL or preset label")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key")
	cmd.Flags().StringVar(&model, "model", "", "Model identifier")

	return cmd
}

// presetsCmd lists the known endpoints and models
func presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List endpoint and model presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintln(w, "ENDPOINT\tURL")
			for _, p := range llm.EndpointPresets {
				fmt.Fprintf(w, "%s\t%s\n", p.Label, p.URL)
			}
			fmt.Fprintln(w, "\t")

			fmt.Fprintln(w, "MODEL\tID")
			for _, p := range llm.ModelPresets {
				fmt.Fprintf(w, "%s\t%s\n", p.Label, p.ID)
			}
			return w.Flush()
		},
	}
}

// costCmd estimates the cost of a token count for a model
func costCmd() *cobra.Command {
	var (
		model            string
		promptTokens     int
		completionTokens int
	)

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Estimate the cost of a run",
		Long:  `Estimate the cost of a token count with the built-in per-token rates. Unknown models use the fallback rate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if promptTokens < 0 || completionTokens < 0 {
				return fmt.Errorf("token counts must not be negative")
			}
			if model == "" {
				model = cfg.RemoteCall().ModelID
			}

			rate := services.RateFor(model)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Model:      %s\n", model)
			fmt.Fprintf(out, "Rate:       $%g prompt, $%g completion per token\n", rate.Input, rate.Output)
			fmt.Fprintf(out, "Estimated:  $%.6f\n", services.EstimateCost(model, promptTokens, completionTokens))
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model identifier (defaults to the configured model)")
	cmd.Flags().IntVar(&promptTokens, "prompt-tokens", 0, "Prompt token count")
	cmd.Flags().IntVar(&completionTokens, "completion-tokens", 0, "Completion token count")

	return cmd
}
