// Package mcp implements both sides of the Model Context Protocol over
// JSON-RPC 2.0: framing and transports (stdio, subprocess, SSE), the
// initialize handshake, a concurrent request router and the tool, prompt and
// resource registries a server exposes.
//
// A server registers tools and serves a transport:
//
//	tools := mcp.NewToolRegistry(logger)
//	mcp.MustRegisterTyped(tools, "greet", "Greets someone",
//		func(ctx context.Context, in struct {
//			Name string `json:"name"`
//		}) (string, error) {
//			return "Hello, " + in.Name, nil
//		})
//
//	server := mcp.NewServer(
//		mcp.UseLogger(logger),
//		mcp.UseServerInfo("greeter", "1.0.0"),
//		mcp.UseToolRegistry(tools),
//	)
//	err := server.ServeStdio(ctx, os.Stdin, os.Stdout)
//
// A client connects over any Transport and calls the server:
//
//	t, err := mcp.NewCommandTransport(ctx, logger, "greeter", nil, nil)
//	client := mcp.NewClient(t, mcp.WithClientInfo("app", "1.0.0"))
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close()
//
//	result, err := client.CallTool(ctx, "greet", map[string]string{"name": "Ada"})
package mcp
