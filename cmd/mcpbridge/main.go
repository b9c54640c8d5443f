// Command mcpbridge serves MCP tools, calls tools on other MCP servers, and
// runs a retrieval-augmented chat over ingested documents.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaharia-lab/mcpbridge/config"
	"github.com/shaharia-lab/mcpbridge/observability"
	"github.com/spf13/cobra"
)

// app is shared by every subcommand once the root command has loaded the
// configuration.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger observability.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "mcpbridge",
		Short:         "Model Context Protocol bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Logging.Level = a.logLevel
			}

			logger, err := cfg.Logging.NewLogger(a.stderr)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}

	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCommand(a),
		newToolsCommand(a),
		newIngestCommand(a),
		newChatCommand(a),
		newKeyCommand(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := newRootCommand(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
