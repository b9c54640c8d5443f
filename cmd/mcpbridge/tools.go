package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/shaharia-lab/mcpbridge/config"
	"github.com/shaharia-lab/mcpbridge/mcp"
	"github.com/spf13/cobra"
)

type targetFlags struct {
	command string
	url     string
	token   string
	server  string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.command, "command", "", "start an MCP server subprocess, e.g. \"mcpbridge serve\"")
	cmd.PersistentFlags().StringVar(&f.url, "url", "", "SSE endpoint of a running MCP server")
	cmd.PersistentFlags().StringVar(&f.token, "token", "", "bearer token for --url")
	cmd.PersistentFlags().StringVar(&f.server, "server", "", "name of a server from mcp_servers in the config")
}

// resolve turns the flags into a server definition.
func (f *targetFlags) resolve(cfg *config.Config) (config.MCPServerConfig, error) {
	set := 0
	for _, v := range []string{f.command, f.url, f.server} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return config.MCPServerConfig{}, errors.New("exactly one of --command, --url or --server is required")
	}

	switch {
	case f.command != "":
		fields := strings.Fields(f.command)
		return config.MCPServerConfig{Name: fields[0], Command: fields[0], Args: fields[1:]}, nil
	case f.url != "":
		return config.MCPServerConfig{Name: f.url, URL: f.url, Token: f.token}, nil
	}

	for _, s := range cfg.MCPServers {
		if s.Name == f.server {
			return s, nil
		}
	}
	return config.MCPServerConfig{}, fmt.Errorf("no mcp server named %q in the configuration", f.server)
}

func (f *targetFlags) connect(ctx context.Context, a *app) (*mcp.Client, error) {
	server, err := f.resolve(a.cfg)
	if err != nil {
		return nil, err
	}
	client, err := newMCPClient(ctx, server, a.cfg.Server.Version, a.logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", server.Name, err)
	}
	return client, nil
}

func newToolsCommand(a *app) *cobra.Command {
	target := &targetFlags{}

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List or call tools on an MCP server",
	}
	target.register(cmd)

	list := &cobra.Command{
		Use:   "list",
		Short: "List the server's tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := target.connect(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer client.Close()

			tools, err := client.ListTools(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, tool := range tools {
				fmt.Fprintf(w, "%s\t%s\n", tool.Name, tool.Description)
			}
			return w.Flush()
		},
	}

	call := &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Call a tool and print its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments := json.RawMessage("{}")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("arguments are not valid JSON: %s", args[1])
				}
				arguments = json.RawMessage(args[1])
			}

			client, err := target.connect(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer client.Close()

			result, err := client.CallTool(cmd.Context(), args[0], arguments)
			if err != nil {
				return err
			}
			return printToolResult(cmd, result)
		},
	}

	cmd.AddCommand(list, call)
	return cmd
}

func printToolResult(cmd *cobra.Command, result mcp.CallToolResult) error {
	text := result.Text()
	if text == "" && len(result.StructuredContent) > 0 {
		text = string(result.StructuredContent)
	}
	if result.IsError {
		return fmt.Errorf("tool failed: %s", text)
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
