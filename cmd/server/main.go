package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/trekchat/internal/app"
	"github.com/vovakirdan/trekchat/internal/client"
	"github.com/vovakirdan/trekchat/internal/config"
	applog "github.com/vovakirdan/trekchat/internal/log"
	"github.com/vovakirdan/trekchat/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "trekchat",
		Short:         "Community chat server with expiring messages",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the sweep scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(configPath, cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting trekchat server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	serve.Flags().String("addr", "", "HTTP listen address")
	serve.Flags().Duration("read-header-timeout", 0, "HTTP read header timeout")
	serve.Flags().Duration("shutdown-timeout", 0, "graceful shutdown timeout")

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Run a single sweep of every room and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(configPath, cmd)
			if err != nil {
				return err
			}

			application, err := app.New(cmd.Context(), &cfg, logger)
			if err != nil {
				return err
			}
			report, err := application.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}

			deleted := 0
			for _, res := range report.Results {
				deleted += res.Deleted()
			}
			logger.Info().
				Int("rooms", len(report.Results)+len(report.Failures)).
				Int("failed", len(report.Failures)).
				Int("deleted", deleted).
				Msg("sweep complete")
			if len(report.Failures) > 0 {
				return fmt.Errorf("%d rooms failed to sweep", len(report.Failures))
			}
			return nil
		},
	}

	root.AddCommand(serve, sweep, newChatCmd(&configPath))
	return root
}

func newChatCmd(configPath *string) *cobra.Command {
	var (
		server string
		room   string
		user   string
		name   string
		token  string
	)

	chat := &cobra.Command{
		Use:   "chat",
		Short: "Join a room from the terminal; each stdin line is sent as a message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath, cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := client.Dial(ctx, server, room, client.Identity{UserID: user, Name: name, Token: token}, client.Options{
				PendingTimeout: cfg.PendingTimeout,
				DedupBucket:    cfg.DedupBucket,
				Logger:         logger,
			})
			if err != nil {
				return err
			}
			defer c.Close()

			runErr := make(chan error, 1)
			go func() { runErr <- c.Run(ctx) }()
			go readLines(ctx, c, logger)

			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-runErr:
					return err
				case <-c.Updates():
					render(cmd, c)
				}
			}
		},
	}
	chat.Flags().StringVar(&server, "server", "http://localhost:8080", "server base URL")
	chat.Flags().StringVar(&room, "room", "", "room id")
	chat.Flags().StringVar(&user, "user", "", "user id")
	chat.Flags().StringVar(&name, "name", "", "display name")
	chat.Flags().StringVar(&token, "token", "", "bearer token, when the server requires one")
	_ = chat.MarkFlagRequired("room")
	_ = chat.MarkFlagRequired("user")
	return chat
}

func readLines(ctx context.Context, c *client.Client, logger *zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if _, err := c.Send(ctx, text); err != nil {
			logger.Warn().Err(err).Msg("send failed")
		}
	}
}

func render(cmd *cobra.Command, c *client.Client) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, "\033[H\033[2J")
	for _, group := range c.Groups(time.Local) {
		fmt.Fprintf(out, "-- %s --\n", group.Label)
		for _, m := range group.Messages {
			marker := ""
			switch m.State {
			case store.StatePending:
				marker = " (sending)"
			case store.StateFailed:
				marker = " (failed: " + m.FailReason + ")"
			}
			author := m.AuthorName
			if author == "" {
				author = m.AuthorID
			}
			fmt.Fprintf(out, "%s %s: %s%s\n", c.TimeOf(m).Local().Format("15:04"), author, m.Text, marker)
		}
	}
}

// loadConfig resolves configuration and applies command line overrides.
func loadConfig(path string, cmd *cobra.Command) (config.Config, *zerolog.Logger, error) {
	bootstrap := applog.New("info")
	cfg, resolved, err := config.Load(bootstrap, path)
	if err != nil {
		return cfg, bootstrap, err
	}

	var overrides config.Config
	if f := cmd.Flags().Lookup("addr"); f != nil {
		overrides.Addr, _ = cmd.Flags().GetString("addr")
	}
	if f := cmd.Flags().Lookup("read-header-timeout"); f != nil {
		overrides.ReadHeaderTimeout, _ = cmd.Flags().GetDuration("read-header-timeout")
	}
	if f := cmd.Flags().Lookup("shutdown-timeout"); f != nil {
		overrides.ShutdownTimeout, _ = cmd.Flags().GetDuration("shutdown-timeout")
	}
	cfg.UpdateFrom(overrides)

	logger := applog.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("config", resolved).Msg("configuration loaded")
	return cfg, logger, nil
}
