package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"

	"github.com/shaharia-lab/dealnotify/internal/build"
)

const releaseSlug = "shaharia-lab/dealnotify"

// releaseSource is the subset of *selfupdate.Updater used by update.
type releaseSource interface {
	DetectLatest(ctx context.Context, repo selfupdate.Repository) (*selfupdate.Release, bool, error)
	UpdateTo(ctx context.Context, rel *selfupdate.Release, cmdPath string) error
}

type updateOptions struct {
	checkOnly bool
	yes       bool
	in        io.Reader
	out       io.Writer
}

// NewUpdateCmd returns the "update" subcommand that self-updates the binary.
func NewUpdateCmd() *cobra.Command {
	var opts updateOptions

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update dealnotify to the latest release",
		Long:  "Check GitHub releases for a newer dealnotify and replace the running binary.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.in = cmd.InOrStdin()
			opts.out = cmd.OutOrStdout()
			updater, err := selfupdate.NewUpdater(selfupdate.Config{})
			if err != nil {
				return fmt.Errorf("creating updater: %w", err)
			}
			return runUpdate(cmd.Context(), updater, build.Version, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.checkOnly, "check", false, "Only report whether a newer release exists")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

func runUpdate(ctx context.Context, src releaseSource, version string, opts updateOptions) error {
	current, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return fmt.Errorf("cannot update build %q; install a tagged release first", version)
	}
	fmt.Fprintf(opts.out, "Current version: %s\n", current)

	release, found, err := src.DetectLatest(ctx, selfupdate.ParseSlug(releaseSlug))
	if err != nil {
		return fmt.Errorf("checking for updates: %w", err)
	}
	if !found || !release.GreaterThan(current.String()) {
		fmt.Fprintln(opts.out, "Already up to date.")
		return nil
	}

	fmt.Fprintf(opts.out, "Release %s is available.\n", release.Version())
	if opts.checkOnly {
		return nil
	}
	if !opts.yes && !confirm(opts.in, opts.out, fmt.Sprintf("Update to %s?", release.Version())) {
		fmt.Fprintln(opts.out, "Update canceled.")
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding current executable: %w", err)
	}
	if err := src.UpdateTo(ctx, release, exe); err != nil {
		return fmt.Errorf("updating to %s: %w", release.Version(), err)
	}
	fmt.Fprintf(opts.out, "Updated to %s. Restart running dealnotify services to pick it up.\n", release.Version())
	return nil
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(sc.Text())) {
	case "y", "yes":
		return true
	}
	return false
}
