package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/dealnotify/internal/config"
)

// NewRootCmd returns the "dealnotify" command with every subcommand attached.
func NewRootCmd(cfg *config.AppConfig) *cobra.Command {
	root := &cobra.Command{
		Use:   "dealnotify",
		Short: "Deal notification dispatcher",
		Long: `dealnotify matches newly published deals against subscriber preferences
and delivers notifications by email, web push and Telegram.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		NewServeCmd(cfg),
		NewProcessCmd(cfg),
		NewCleanupCmd(cfg),
		NewPublishCmd(cfg),
		NewTelegramCmd(cfg),
		NewUpdateCmd(),
		NewVersionCmd(),
	)
	return root
}

// Execute loads configuration and runs the root command.
func Execute() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := NewRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
