package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/webscript/internal/cli/ui"
	"github.com/conduit-lang/webscript/internal/webscript/description"
	"github.com/spf13/cobra"
)

func newScriptsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "Inspect registered web scripts",
	}
	cmd.AddCommand(newScriptsListCommand(g))
	cmd.AddCommand(newScriptsDescribeCommand(g))
	return cmd
}

func newScriptsListCommand(g *globals) *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List web scripts",
		Long: `List every registered web script with its method and URLs.

Examples:
  webscript scripts list
  webscript scripts list --store classpath`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			table := ui.NewTable(out, g.noColor, "ID", "METHOD", "AUTH", "URL", "STORE")
			for _, d := range a.Registry.Scripts() {
				if store != "" && !strings.HasPrefix(d.Store, store) {
					continue
				}
				table.AddRow(d.ID, d.Method, string(d.Authentication), firstURL(d), d.Store)
			}
			if table.Len() == 0 {
				ui.Message{Level: ui.LevelWarning, Problem: "no web scripts registered", NoColor: g.noColor}.Write(out)
				return nil
			}
			table.Render()
			fmt.Fprintf(out, "\n%d scripts\n", table.Len())
			return nil
		},
	}
	cmd.Flags().StringVarP(&store, "store", "s", "", "Only list scripts from stores with this name prefix")
	return cmd
}

func firstURL(d *description.Description) string {
	if len(d.URLs) == 0 {
		return ""
	}
	u := d.URLs[0].Template
	if n := len(d.URLs) - 1; n > 0 {
		u += fmt.Sprintf(" (+%d)", n)
	}
	return u
}

func newScriptsDescribeCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <id>",
		Short: "Show a web script description",
		Long: `Show the description of a web script by id, e.g. api.login_get.

Examples:
  webscript scripts describe index_get`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			d, ok := a.Registry.ByID(args[0])
			if !ok {
				var known []string
				for _, s := range a.Registry.Scripts() {
					known = append(known, s.ID)
				}
				ui.ScriptNotFound(args[0], known, g.noColor).Write(cmd.ErrOrStderr())
				return fmt.Errorf("unknown web script %s", args[0])
			}

			ui.Header(out, d.ShortName, g.noColor)
			kv := ui.NewKeyValueTable(out, g.noColor)
			kv.AddRow("ID", d.ID)
			if d.Description != "" {
				kv.AddRow("Description", d.Description)
			}
			kv.AddRow("Method", d.Method)
			kv.AddRow("Authentication", string(d.Authentication))
			kv.AddRow("Transaction", string(d.Transaction))
			kv.AddRow("Formats", strings.Join(d.Formats(), ", "))
			kv.AddRow("Default format", d.DefaultFormat)
			kv.AddRow("Store", d.Store)
			kv.AddRow("Document", d.Path)
			kv.Render()

			fmt.Fprintln(out)
			urls := ui.NewTable(out, g.noColor, "URL", "FORMAT")
			for _, u := range d.URLs {
				urls.AddRow(u.Template, u.Format)
			}
			urls.Render()

			templates := d.Templates()
			if len(templates) > 0 {
				fmt.Fprintln(out)
				formats := make([]string, 0, len(templates))
				for f := range templates {
					formats = append(formats, f)
				}
				sort.Strings(formats)
				tt := ui.NewTable(out, g.noColor, "FORMAT", "TEMPLATE")
				for _, f := range formats {
					tt.AddRow(f, templates[f])
				}
				tt.Render()
			}
			return nil
		},
	}
}
