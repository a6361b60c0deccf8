package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/team-chat/client"
	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/extension"
	"github.com/example/team-chat/extension/teamchat"
)

func (a *app) loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Email == "" {
				return errors.New("email is required (--email or TEAMCHAT_EMAIL)")
			}
			if a.cfg.Password == "" {
				pw, err := prompt(cmd.InOrStdin(), cmd.OutOrStdout(), "Password: ")
				if err != nil {
					return err
				}
				a.cfg.Password = pw
			}

			c := a.newClient()
			sess, err := c.Login(cmd.Context(), a.cfg.Email, a.cfg.Password)
			if err != nil {
				return err
			}
			me, err := client.Me[domain.User](cmd.Context(), c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s, session valid until %s\n",
				me.DisplayName(), sess.Expires.Local().Format("15:04:05"))
			return nil
		},
	}
	cmd.Flags().StringVar(&a.cfg.Email, "email", a.cfg.Email, "account email")
	cmd.Flags().StringVar(&a.cfg.Password, "password", a.cfg.Password, "account password")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.newClient()
			if _, err := c.ResumeSession(cmd.Context()); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			if err := c.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.newClient()
			if err := a.session(cmd.Context(), c); err != nil {
				return err
			}
			me, err := client.Me[domain.User](cmd.Context(), c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> (%s)\n", me.DisplayName(), me.Email, me.ID)
			return nil
		},
	}
}

func (a *app) chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the team chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := a.newClient()
			if err := a.session(ctx, c); err != nil {
				return err
			}

			host := extension.NewHost(c, a.logger)
			defer func() {
				if err := host.Close(); err != nil {
					a.logger.Warn("closing modules", "error", err)
				}
			}()
			if err := host.Register(teamchat.Module); err != nil {
				return err
			}
			mounted, err := host.Mount(ctx, teamchat.Module.ID, "")
			if err != nil {
				return err
			}
			surface, ok := mounted.Surface.(*teamchat.Surface)
			if !ok {
				return fmt.Errorf("unexpected surface %T", mounted.Surface)
			}
			return runChat(ctx, surface, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&a.cfg.Email, "email", a.cfg.Email, "account email used when no session is stored")
	cmd.Flags().StringVar(&a.cfg.Password, "password", a.cfg.Password, "account password used when no session is stored")
	return cmd
}

// runChat prints the timeline as it changes and sends every input line.
func runChat(ctx context.Context, s *teamchat.Surface, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r := &renderer{out: out, printed: make(map[string]bool), live: client.StatusLive}
	fmt.Fprintf(out, "Chatting as %s. Type a message and press enter, Ctrl-D to quit.\n", s.Me().DisplayName())
	r.render(s)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Changes():
			r.render(s)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := s.Send(ctx, line); err != nil {
				fmt.Fprintf(out, "! not sent: %v\n", err)
			}
		}
	}
}

// renderer appends messages it has not printed yet.
type renderer struct {
	out     io.Writer
	printed map[string]bool
	live    client.Status
}

func (r *renderer) render(s *teamchat.Surface) {
	if st := s.Live(); st != r.live {
		r.live = st
		fmt.Fprintf(r.out, "-- %s --\n", st)
	}
	r.print(s.Messages())
}

func (r *renderer) print(msgs []domain.Message) {
	for _, msg := range msgs {
		if r.printed[msg.ID] {
			continue
		}
		r.printed[msg.ID] = true
		fmt.Fprintf(r.out, "[%s] %s: %s\n", msg.DateCreated.Local().Format("15:04"), msg.Author(), msg.Text)
	}
}

func prompt(in io.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
