package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anyhui/aleeai-prompt/internal/application/services"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
)

// optimizeCmd runs the optimization pipeline once in the foreground
func optimizeCmd() *cobra.Command {
	var (
		file        string
		save        bool
		promptID    string
		description string
		asJSON      bool
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "optimize [prompt]",
		Short: "Optimize a prompt",
		Long: `Run the analysis, suggestions and decomposition stages on a prompt.

The prompt is taken from the argument, from --file, or from stdin.
Stage output streams to stderr while the run is in progress; the
optimized prompt is printed to stdout. Press Ctrl+C to cancel.`,
		Example: `  aleeai optimize "Write a product description for a kettle"
  aleeai optimize --file prompt.txt --save --prompt-id kettle`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readPromptInput(args, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := services.ValidatePrompt(input); err != nil {
				return err
			}
			if save {
				if err := services.ValidatePromptID(promptID); err != nil {
					return fmt.Errorf("--save needs a valid --prompt-id: %w", err)
				}
			}

			templates, err := loadTemplates()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var versions *services.VersionService
			if save {
				var closeStore func()
				versions, closeStore, err = openVersionService(ctx)
				if err != nil {
					return err
				}
				defer closeStore()
			}

			printer := newProgressPrinter(cmd.ErrOrStderr(), quiet || asJSON)
			pipeline := services.NewPipeline(llmClient, templates, cfg.RemoteCall()).
				WithObserver(printer.Observe)

			result, err := pipeline.Run(ctx, input)
			if err != nil {
				return err
			}

			if save && result.State == models.PipelineStateCompleted {
				if description == "" {
					description = "optimized from aleeai optimize"
				}
				saved, err := versions.Save(ctx, promptID, result.OptimizedPrompt, description)
				if err != nil {
					// The result is still printed below.
					result.SaveError = err.Error()
				} else {
					result.SavedVersion = saved
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), result)
			}

			if result.State != models.PipelineStateCompleted {
				return errors.New(result.Error)
			}
			if result.SaveError != "" {
				return fmt.Errorf("failed to save version: %s", result.SaveError)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the prompt from a file (- for stdin)")
	cmd.Flags().BoolVar(&save, "save", false, "Save the optimized prompt as a new version")
	cmd.Flags().StringVarP(&promptID, "prompt-id", "p", "", "Prompt identifier used with --save")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Change description used with --save")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run result as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not stream stage output")

	return cmd
}

func printResult(out, status io.Writer, result *models.RunResult) {
	if result.State == models.PipelineStateCompleted {
		fmt.Fprintln(out, result.OptimizedPrompt)
	}

	fmt.Fprintln(status)
	fmt.Fprintf(status, "Model:    %s\n", result.Stats.ModelID)
	fmt.Fprintf(status, "Tokens:   %d prompt, %d completion\n", result.Stats.PromptTokens, result.Stats.CompletionTokens)
	fmt.Fprintf(status, "Elapsed:  %.1fs\n", result.Stats.ElapsedSeconds)
	fmt.Fprintf(status, "Cost:     $%.6f\n", result.EstimatedCost)
	if result.SavedVersion != nil {
		fmt.Fprintf(status, "Saved:    %s version %d (%s)\n",
			result.SavedVersion.PromptID, result.SavedVersion.VersionNumber, result.SavedVersion.ID)
	}
}

// progressPrinter writes stage headers and streamed text to w.
type progressPrinter struct {
	w     io.Writer
	quiet bool
	stage models.StageName
	last  string
}

func newProgressPrinter(w io.Writer, quiet bool) *progressPrinter {
	return &progressPrinter{w: w, quiet: quiet}
}

// Observe is a services.PipelineObserver. Delta events carry the cumulative
// stage text, so only the unseen suffix is written.
func (p *progressPrinter) Observe(event models.ProgressEvent) {
	switch event.Type {
	case models.ProgressEventState:
		if !p.quiet && event.State != models.PipelineStateIdle {
			fmt.Fprintf(p.w, "\n==> %s\n", event.State)
		}
	case models.ProgressEventDelta:
		if event.Stage != p.stage {
			p.stage = event.Stage
			p.last = ""
		}
		text := event.Text
		if strings.HasPrefix(text, p.last) {
			text = text[len(p.last):]
		}
		p.last = event.Text
		if !p.quiet {
			fmt.Fprint(p.w, text)
		}
	case models.ProgressEventFailed:
		fmt.Fprintf(p.w, "\nrun failed: %s\n", event.Message)
	case models.ProgressEventCompleted:
		if !p.quiet {
			fmt.Fprintln(p.w)
		}
	}
}
