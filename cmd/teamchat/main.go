// Command teamchat is a terminal host for the team chat module.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/team-chat/client"
)

type app struct {
	cfg    Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cfg, cfgErr := loadConfig()
	a.cfg = cfg

	root := &cobra.Command{
		Use:           "teamchat",
		Short:         "Chat with your team from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgErr != nil {
				return cfgErr
			}
			level, err := parseLevel(a.cfg.LogLevel)
			if err != nil {
				return err
			}
			a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.URL, "url", cfg.URL, "backend origin")
	flags.StringVar(&a.cfg.SessionFile, "session-file", cfg.SessionFile, "where the session is stored")
	flags.StringVar(&a.cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.chatCmd(),
	)
	return root
}

func (a *app) newClient() *client.Client {
	return client.New(a.cfg.URL,
		client.WithLogger(a.logger),
		client.WithSessionStore(client.NewFileStore(a.cfg.SessionFile)),
	)
}

// session resumes the stored session, logging in with the configured
// credentials when there is none.
func (a *app) session(ctx context.Context, c *client.Client) error {
	_, err := c.ResumeSession(ctx)
	if err == nil {
		return nil
	}
	var authErr *client.AuthError
	if !errors.As(err, &authErr) || a.cfg.Email == "" {
		return fmt.Errorf("no usable session, run teamchat login: %w", err)
	}
	a.logger.Info("logging in", "email", a.cfg.Email)
	_, err = c.Login(ctx, a.cfg.Email, a.cfg.Password)
	return err
}
