package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shaharia-lab/mcpbridge/calculator"
	"github.com/shaharia-lab/mcpbridge/config"
	"github.com/shaharia-lab/mcpbridge/mcp"
	"github.com/shaharia-lab/mcpbridge/observability"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	var transport, addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calculator tools, prompts and resources over MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("transport") {
				a.cfg.Server.Transport = transport
			}
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}

			srv, resources, err := buildServer(a.cfg.Server, a.logger)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), a, srv, resources)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "transport to serve: stdio or sse")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address for the sse transport")
	return cmd
}

// buildServer assembles the MCP server from the server configuration.
func buildServer(cfg config.ServerConfig, logger observability.Logger) (*mcp.Server, *mcp.ResourceRegistry, error) {
	tools := mcp.NewToolRegistry(logger)
	if err := calculator.Register(tools); err != nil {
		return nil, nil, fmt.Errorf("failed to register calculator tools: %w", err)
	}

	prompts := mcp.NewPromptRegistry(logger)
	if cfg.PromptsDir != "" {
		n, err := prompts.LoadPromptsDir(cfg.PromptsDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load prompts: %w", err)
		}
		logger.Infof("loaded %d prompts from %s", n, cfg.PromptsDir)
	}

	resources := mcp.NewResourceRegistry(logger)
	if cfg.ResourcesDir != "" {
		if err := resources.AddDirectory(cfg.ResourcesDir); err != nil {
			return nil, nil, fmt.Errorf("failed to add resources: %w", err)
		}
	}

	opts := []mcp.ServerOption{
		mcp.UseLogger(logger),
		mcp.UseServerInfo(cfg.Name, cfg.Version),
		mcp.UseToolRegistry(tools),
		mcp.UsePromptRegistry(prompts),
		mcp.UseResourceRegistry(resources),
	}
	if cfg.MaxFrameSize > 0 {
		opts = append(opts, mcp.UseFrameLimit(cfg.MaxFrameSize))
	}

	logger.WithFields(map[string]interface{}{
		"tools":     strings.Join(tools.Names(), ", "),
		"prompts":   prompts.Len(),
		"resources": resources.Len(),
	}).Info("MCP server configured")

	return mcp.NewServer(opts...), resources, nil
}

func runServer(ctx context.Context, a *app, srv *mcp.Server, resources *mcp.ResourceRegistry) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Server.ResourcesDir != "" {
		go func() {
			if err := resources.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WithErr(err).Warn("resource watcher stopped")
			}
		}()
	}

	switch a.cfg.Server.Transport {
	case "sse":
		var opts []mcp.SSEOption
		if a.cfg.Server.KeepAlive > 0 {
			opts = append(opts, mcp.WithKeepAlive(a.cfg.Server.KeepAlive))
		}
		if a.cfg.Server.JWTSecret != "" {
			opts = append(opts, mcp.WithJWTSecret([]byte(a.cfg.Server.JWTSecret)))
		}
		return srv.ListenAndServeSSE(ctx, a.cfg.Server.Addr, opts...)
	case "stdio":
		a.logger.Info("serving MCP over stdio")
		err := srv.ServeStdio(ctx, a.stdin, a.stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unknown transport %q", a.cfg.Server.Transport)
}
