package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/conduit-lang/webscript/internal/cli/ui"
	"github.com/conduit-lang/webscript/internal/repo/sqlstore"
	"github.com/conduit-lang/webscript/internal/web/auth"
	"github.com/spf13/cobra"
)

func newTokenCommand(g *globals) *cobra.Command {
	var (
		password string
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a login ticket",
		Long: `Verify a user's password and issue a ticket usable as a Bearer token or
ticket query parameter. auth.ticket_secret must match the server's.

Examples:
  webscript token admin --password secret
  curl -H "Authorization: Bearer $(webscript token admin -p secret -q)" localhost:8080/service/index`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cfg.Auth.TicketSecret == "" {
				return errors.New("auth.ticket_secret must be set to issue tickets")
			}
			return withStore(cmd, g, func(ctx context.Context, store *sqlstore.Store) error {
				tickets := auth.NewTicketService(cfg.Auth.TicketSecret, cfg.Auth.TicketTTL)
				authn := auth.NewAuthenticator(tickets, store.Authentication(), store.Authorities())
				p, err := authn.Login(ctx, args[0], password)
				if err != nil {
					return err
				}
				ticket, expires, err := tickets.Issue(p)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if quiet {
					fmt.Fprintln(out, ticket)
					return nil
				}
				kv := ui.NewKeyValueTable(out, g.noColor)
				kv.AddRow("User", p.Username)
				kv.AddRow("Admin", fmt.Sprint(p.Admin))
				kv.AddRow("Expires", expires.Format(time.RFC3339))
				kv.AddRow("Ticket", ticket)
				kv.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the ticket")
	return cmd
}
