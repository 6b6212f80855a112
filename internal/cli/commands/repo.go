package commands

import (
	"context"
	"errors"

	"github.com/conduit-lang/webscript/internal/app"
	"github.com/conduit-lang/webscript/internal/cli/ui"
	"github.com/conduit-lang/webscript/internal/repo/sqlstore"
	"github.com/conduit-lang/webscript/internal/security"
	"github.com/conduit-lang/webscript/internal/transaction"
	"github.com/spf13/cobra"
)

// withStore opens the configured repository for the duration of fn
func withStore(cmd *cobra.Command, g *globals, fn func(ctx context.Context, store *sqlstore.Store) error) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	logger, err := g.logger(cfg, true)
	if err != nil {
		return err
	}
	store, err := app.OpenStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cmd.Context(), store)
}

func newRepoCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage the content repository",
	}
	cmd.AddCommand(newRepoInitCommand(g))
	return cmd
}

func newRepoInitCommand(g *globals) *cobra.Command {
	var adminPassword string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the schema, well-known folders and admin user",
		Long: `Apply the schema and create Company Home, Data Dictionary/Web Scripts and
User Homes. The admin user is created when a password is given here or in
database.admin_password. Running init again is harmless.

Examples:
  webscript repo init --admin-password secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("admin-password") {
				cfg.Database.AdminPassword = adminPassword
			}
			return withStore(cmd, g, func(ctx context.Context, store *sqlstore.Store) error {
				layout, err := store.Bootstrap(ctx, cfg.Database.AdminPassword)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				ui.Success(out, "Repository initialized", g.noColor)
				kv := ui.NewKeyValueTable(out, g.noColor)
				kv.AddRow("Root", layout.Root.String())
				kv.AddRow(sqlstore.CompanyHomeName, layout.CompanyHome.String())
				kv.AddRow(sqlstore.DataDictionaryName, layout.DataDictionary.String())
				kv.AddRow(sqlstore.WebScriptsName, layout.WebScripts.String())
				kv.AddRow(sqlstore.UserHomesName, layout.UserHomes.String())
				kv.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "Password of the admin user")
	return cmd
}

func newUserCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage repository users",
	}
	cmd.AddCommand(newUserAddCommand(g))
	return cmd
}

func newUserAddCommand(g *globals) *cobra.Command {
	var (
		password string
		admin    bool
	)
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create or replace a user",
		Long: `Create a user, replacing the password of an existing one.

Examples:
  webscript user add bob --password secret
  webscript user add ops --password secret --admin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return errors.New("--password is required")
			}
			return withStore(cmd, g, func(ctx context.Context, store *sqlstore.Store) error {
				ctx = security.WithPrincipal(ctx, security.System)
				err := store.Transactions().Do(ctx, transaction.Required, func(ctx context.Context) error {
					return store.CreateUser(ctx, args[0], password, admin)
				})
				if err != nil {
					return err
				}
				msg := "User " + args[0] + " saved"
				if admin {
					msg += " with admin authority"
				}
				ui.Success(cmd.OutOrStdout(), msg, g.noColor)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant admin authority")
	return cmd
}
