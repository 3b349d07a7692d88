package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reportcast/internal/api"
	"github.com/reportcast/internal/config"
	"github.com/reportcast/internal/database"
	"github.com/reportcast/internal/execlog"
	"github.com/reportcast/internal/executor"
	"github.com/reportcast/internal/notify"
	"github.com/reportcast/internal/report"
	"github.com/reportcast/internal/schedule"
	"github.com/reportcast/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "reportcastd",
	Short: "ReportCast daemon - delivers scheduled reports by email",
	Long: `reportcastd polls for due report schedules, regenerates each report,
emails it to the schedule's recipients and records every run.
It also serves the operator API used by the reportcast CLI.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		return run(cfg, newLogger(cfg.Log.Level, cfg.Log.Pretty))
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Initialize database
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close(db)

	// Operational alerts
	reporter := notify.MultiReporter{notify.LogReporter{Logger: logger}}
	if cfg.Alerts.Slack.Token != "" {
		reporter = append(reporter, notify.NewSlackReporter(cfg.Alerts.Slack.Token, cfg.Alerts.Slack.Channel))
	}

	// Delivery channels
	var primary, secondary notify.Channel
	if cfg.Mail.SMTP.Enabled {
		smtp, err := notify.NewSMTPChannel(notify.SMTPConfig{
			Host:       cfg.Mail.SMTP.Host,
			Port:       cfg.Mail.SMTP.Port,
			Username:   cfg.Mail.SMTP.Username,
			Password:   cfg.Mail.SMTP.Password,
			Encryption: notify.Encryption(cfg.Mail.SMTP.Encryption),
		})
		if err != nil {
			return err
		}
		primary = smtp
	}
	if cfg.Mail.SendmailPath != "" {
		secondary = notify.NewSendmailChannel(cfg.Mail.SendmailPath)
	}
	notifier := notify.NewNotifier(notify.Config{
		From:          cfg.Mail.From,
		FromName:      cfg.Mail.FromName,
		ReplyTo:       cfg.Mail.ReplyTo,
		AllowFallback: cfg.Mail.Fallback,
	}, primary, secondary)

	store := schedule.NewStore(db)
	definitions := report.NewDefinitions(db)
	logs := execlog.New(db, reporter)

	exec := executor.New(
		definitions,
		report.NewGormProvider(db),
		report.NewExporter(cfg.Export.Dir),
		notifier,
		store,
		logs,
		executor.Config{RunTimeout: cfg.Scheduler.RunTimeout},
	)
	exec.Now = func() time.Time { return time.Now().In(loc) }

	loop := scheduler.NewLoop(store, exec, scheduler.Config{
		Workers:   cfg.Scheduler.Workers,
		RetryBase: cfg.Scheduler.RetryBase,
		RetryMax:  cfg.Scheduler.RetryMax,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	trigger := scheduler.NewTrigger(loop, scheduler.EverySpec(cfg.Scheduler.PollInterval), loc, logger)
	if err := trigger.Start(ctx); err != nil {
		return err
	}
	defer trigger.Stop()

	// Initialize and start API server
	server := api.NewServer(store, definitions, logs, loop, []byte(cfg.Auth.JWTSecret), logger)
	server.Now = exec.Now
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.Server.Port) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
