package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaharia-lab/dealnotify/internal/api"
	"github.com/shaharia-lab/dealnotify/internal/build"
	"github.com/shaharia-lab/dealnotify/internal/config"
	"github.com/shaharia-lab/dealnotify/internal/scheduler"
	"github.com/shaharia-lab/dealnotify/internal/server"
	"github.com/shaharia-lab/dealnotify/internal/service"
)

// NewServeCmd returns the "serve" subcommand that starts the HTTP server and
// the scheduler.
func NewServeCmd(cfg *config.AppConfig) *cobra.Command {
	var port int
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the queue scheduler",
		Long: `Start the dealnotify HTTP server, which receives publish events and
preference changes from the host site, and the scheduler that drains the
delivery queue and applies retention.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// CLI flags override env config.
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			logFile := filepath.Join(cfg.LogDir(), "system.log")
			printBanner(cmd.OutOrStdout(), build.Version, fmt.Sprintf("http://localhost:%d", cfg.Port), logFile)

			if err := runServe(cmd.Context(), cfg, !noScheduler); err != nil {
				fmt.Fprintf(os.Stderr, "An error occurred. Please check the logs at: %s\n", logFile)
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", cfg.Port, "HTTP server port (overrides PORT env var)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve the API only; another process runs the queue")

	return cmd
}

func runServe(parent context.Context, cfg *config.AppConfig, withScheduler bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.AdminToken == "" {
		a.logger.Warn("ADMIN_TOKEN is not set; publish, queue and audit routes are disabled")
	}

	deps := api.Deps{
		Engine:        a.engine,
		Queue:         a.queue,
		Preferences:   service.NewPreferenceService(a.subscribers, a.bus, a.logger.With("component", "preferences")),
		Subscribers:   service.NewSubscriberService(a.subscribers, a.logger.With("component", "subscribers")),
		Verifications: service.NewVerificationService(a.verifications, a.subscribers, a.bus, a.channels.Telegram.BotUsername, a.logger.With("component", "verification")),
		Channels:      a.senders.Channels(),
	}
	if tg := a.telegram(); tg != nil {
		deps.Telegram = tg
	}

	apiSrv := api.New(deps, api.Auth{
		AdminToken:    cfg.AdminToken,
		WebhookSecret: a.channels.Telegram.WebhookSecret,
	}, a.logger.With("component", "api"))

	srv := server.New(apiSrv, server.Options{
		Port:           cfg.Port,
		AllowedOrigins: cfg.CORSOrigins,
		Registry:       a.registry,
		Health:         a.db.PingContext,
	}, a.logger.With("component", "http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if withScheduler {
		sched, err := newScheduler(a)
		if err != nil {
			return err
		}
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return sched.Stop()
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newScheduler(a *app) (*scheduler.Scheduler, error) {
	hour, minute, err := a.cfg.CleanupTime()
	if err != nil {
		return nil, err
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Config{
		Runner:         a.engine,
		Logger:         a.logger.With("component", "scheduler"),
		Interval:       a.cfg.ProcessInterval,
		CleanupHour:    hour,
		CleanupMinute:  minute,
		Location:       loc,
		EventPublisher: a.bus,
	})
}

var (
	bannerTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F25D94"))
	bannerLabel = lipgloss.NewStyle().Faint(true).Width(8)
	bannerBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(0, 2)
)

// printBanner writes the startup banner. It is the only output visible in
// the terminal during normal operation; all structured logs go to the log
// file instead.
func printBanner(w io.Writer, version, serverURL, logFile string) {
	body := lipgloss.JoinVertical(lipgloss.Left,
		bannerTitle.Render("dealnotify "+version),
		"",
		bannerLabel.Render("API")+serverURL+"/api",
		bannerLabel.Render("Metrics")+serverURL+"/metrics",
		bannerLabel.Render("Logs")+logFile,
	)
	_, _ = fmt.Fprintln(w, bannerBox.Render(body))
}
