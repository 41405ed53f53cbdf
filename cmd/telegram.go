package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/dealnotify/internal/config"
	"github.com/shaharia-lab/dealnotify/internal/notification"
)

// NewTelegramCmd returns the "telegram" command group.
func NewTelegramCmd(cfg *config.AppConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Manage the Telegram bot",
	}
	cmd.AddCommand(newSetWebhookCmd(cfg))
	return cmd
}

func newSetWebhookCmd(cfg *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "set-webhook <public-base-url>",
		Short: "Point the bot's updates at this server",
		Long: `Register <public-base-url>/api/telegram/webhook with Telegram, using the
webhook_secret from the channels file as the secret token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channels, err := config.LoadChannels(cfg.ChannelsPath())
			if err != nil {
				return err
			}
			if !channels.Telegram.Configured() {
				return notification.ErrTelegramNotConfigured
			}

			endpoint := webhookURL(args[0])
			bot := notification.NewTelegramSender(channels.Telegram.TelegramConfig, channels.Telegram.Timeout)
			if err := bot.SetWebhook(endpoint, channels.Telegram.WebhookSecret); err != nil {
				return fmt.Errorf("setting webhook: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook set to %s\n", endpoint)
			return nil
		},
	}
}

func webhookURL(base string) string {
	return strings.TrimRight(base, "/") + "/api/telegram/webhook"
}
