package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/anyhui/aleeai-prompt/internal/domain/models"
)

// versionsCmd provides subcommands for the version history
func versionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Manage prompt versions",
		Long: `Manage the saved versions of prompts.

Subcommands:
  list     List prompts, or the versions of one prompt
  show     Show one version
  save     Save a new version
  delete   Delete a version and renumber the rest
  diff     Compare two versions line by line`,
	}

	cmd.AddCommand(
		versionsListCmd(),
		versionsShowCmd(),
		versionsSaveCmd(),
		versionsDeleteCmd(),
		versionsDiffCmd(),
	)

	return cmd
}

func versionsListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list [prompt-id]",
		Short: "List prompts or versions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			versions, closeStore, err := openVersionService(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			out := cmd.OutOrStdout()

			if len(args) == 0 {
				ids, err := versions.PromptIDs(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, ids)
				}
				if len(ids) == 0 {
					fmt.Fprintln(out, "No saved prompts.")
					return nil
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			list, err := versions.List(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintf(out, "No versions saved for %s.\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tID\tSAVED\tDESCRIPTION")
			fmt.Fprintln(w, "-------\t--\t-----\t-----------")
			for _, v := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
					v.VersionNumber,
					v.ID,
					formatTimestamp(v.Timestamp),
					valueOr(v.ChangeDescription, "-"),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func versionsShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <prompt-id> <version-id>",
		Short: "Show a version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			versions, closeStore, err := openVersionService(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			v, err := versions.Get(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, v)
			}
			fmt.Fprintf(out, "Prompt:      %s\n", v.PromptID)
			fmt.Fprintf(out, "Version:     %d (%s)\n", v.VersionNumber, v.ID)
			fmt.Fprintf(out, "Saved:       %s\n", formatTimestamp(v.Timestamp))
			fmt.Fprintf(out, "Description: %s\n", valueOr(v.ChangeDescription, "-"))
			fmt.Fprintln(out)
			fmt.Fprintln(out, v.Content)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func versionsSaveCmd() *cobra.Command {
	var (
		file        string
		description string
	)

	cmd := &cobra.Command{
		Use:   "save <prompt-id> [content]",
		Short: "Save a new version",
		Long:  `Save content as the next version of a prompt. Content is read from the argument, --file or stdin.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readPromptInput(args[1:], file, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			versions, closeStore, err := openVersionService(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			v, err := versions.Save(ctx, args[0], content, description)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s version %d (%s)\n", v.PromptID, v.VersionNumber, v.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read content from a file (- for stdin)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Change description")
	return cmd
}

func versionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <prompt-id> <version-id>",
		Short: "Delete a version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			versions, closeStore, err := openVersionService(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := versions.Delete(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from %s\n", args[1], args[0])
			return nil
		},
	}
}

func versionsDiffCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "diff <prompt-id> <from-version-id> <to-version-id>",
		Short: "Compare two versions",
		Long:  `Compare two versions line by line. Lines are matched by position; line numbers start at 0.`,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			versions, closeStore, err := openVersionService(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := versions.Compare(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if entries == nil {
					entries = []models.DiffEntry{}
				}
				return writeJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No differences.")
				return nil
			}
			printDiff(out, entries)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printDiff(out io.Writer, entries []models.DiffEntry) {
	for _, e := range entries {
		switch e.Type {
		case models.DiffAdded:
			fmt.Fprintf(out, "+ %4d  %s\n", e.LineNumber, e.NewText)
		case models.DiffRemoved:
			fmt.Fprintf(out, "- %4d  %s\n", e.LineNumber, e.OldText)
		case models.DiffChanged:
			fmt.Fprintf(out, "- %4d  %s\n", e.LineNumber, e.OldText)
			fmt.Fprintf(out, "+ %4d  %s\n", e.LineNumber, e.NewText)
		}
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
