// Package commands implements the webscript command line.
package commands

import (
	"fmt"
	"runtime"

	"github.com/conduit-lang/webscript/internal/app"
	"github.com/conduit-lang/webscript/internal/cli/config"
	"github.com/conduit-lang/webscript/internal/logging"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// globals are the persistent flags shared by every subcommand
type globals struct {
	configPath string
	noColor    bool
	verbose    bool
}

func (g *globals) load() (*config.Config, error) {
	return config.Load(g.configPath)
}

// logger builds the configured logger. Quiet loggers only report errors
// unless --verbose is set.
func (g *globals) logger(cfg *config.Config, quiet bool) (*zap.Logger, error) {
	lc := cfg.Logging
	if quiet {
		lc.Level = "error"
		lc.Format = "console"
	}
	if g.verbose {
		lc.Level = "debug"
	}
	return logging.New(lc)
}

// open loads the configuration and wires the application with a quiet logger
func (g *globals) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	logger, err := g.logger(cfg, true)
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, Version, logger)
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "webscript",
		Short: "Web script server over a content repository",
		Long: color.CyanString(`webscript - declarative web scripts over a content repository

Web scripts are described by *_desc.xml documents mapping URL templates to
templates rendered against repository nodes. Descriptions are loaded from
directories, from the repository and from the built-in set.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default ./webscript.yaml)")
	rootCmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(newServeCommand(g))
	rootCmd.AddCommand(newScriptsCommand(g))
	rootCmd.AddCommand(newRenderCommand(g))
	rootCmd.AddCommand(newRepoCommand(g))
	rootCmd.AddCommand(newUserCommand(g))
	rootCmd.AddCommand(newTokenCommand(g))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			out := cmd.OutOrStdout()
			titleColor := color.New(color.FgCyan, color.Bold)

			titleColor.Fprint(out, "webscript version: ")
			fmt.Fprintln(out, Version)
			titleColor.Fprint(out, "Git commit: ")
			fmt.Fprintln(out, GitCommit)
			titleColor.Fprint(out, "Build date: ")
			fmt.Fprintln(out, BuildDate)
			titleColor.Fprint(out, "Go version: ")
			fmt.Fprintln(out, goVer)
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
