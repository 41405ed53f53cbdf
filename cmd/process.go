package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/dealnotify/internal/config"
	"github.com/shaharia-lab/dealnotify/internal/dispatch"
)

// NewProcessCmd returns the "process" subcommand that runs one queue batch.
func NewProcessCmd(cfg *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Process one batch of due notifications",
		Long: `Run a single queue batch and print its summary as JSON. Useful from an
external cron when the built-in scheduler is disabled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.ProcessQueue(cmd.Context())
			if err != nil {
				return fmt.Errorf("processing queue: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

// NewCleanupCmd returns the "cleanup" subcommand that applies retention.
func NewCleanupCmd(cfg *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old audit entries and finished tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Cleanup(cmd.Context())
			if err != nil {
				return fmt.Errorf("cleaning up: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

// NewPublishCmd returns the "publish" subcommand that feeds one content
// item to the engine, as the host's publish event would.
func NewPublishCmd(cfg *config.AppConfig) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Queue notifications for a published content item",
		Long: `Read a content item as JSON from --file (or standard input) and run it
through the publish handler: classification, matching and queueing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			item, err := readContentItem(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.OnContentPublished(cmd.Context(), item)
			if err != nil {
				return fmt.Errorf("publishing content %d: %w", item.ID, err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the content item JSON (default: stdin)")
	return cmd
}

func readContentItem(stdin io.Reader, file string) (*dispatch.ContentItem, error) {
	r := stdin
	if file != "" && file != "-" {
		f, err := os.Open(file) //nolint:gosec // path is given by the operator
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", file, err)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}
	var item dispatch.ContentItem
	if err := json.NewDecoder(r).Decode(&item); err != nil {
		return nil, fmt.Errorf("decoding content item: %w", err)
	}
	return &item, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
