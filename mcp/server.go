package mcp

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaharia-lab/mcpbridge/observability"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultServerName    = "mcpbridge"
	defaultServerVersion = "0.1.0"
)

// Server answers MCP sessions from its registries. One Server can run any
// number of sessions over any mix of transports.
type Server struct {
	logger        observability.Logger
	info          Implementation
	instructions  string
	tools         *ToolRegistry
	prompts       *PromptRegistry
	resources     *ResourceRegistry
	maxConcurrent int64
	frameLimit    int

	mu       sync.RWMutex
	sessions map[string]*ServerSession
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// UseLogger sets the server logger.
func UseLogger(logger observability.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// UseServerInfo sets the name and version reported during initialize.
func UseServerInfo(name, version string) ServerOption {
	return func(s *Server) {
		s.info = Implementation{Name: name, Version: version}
	}
}

// UseInstructions sets the usage hints returned from initialize.
func UseInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// UseToolRegistry enables the tools capability.
func UseToolRegistry(r *ToolRegistry) ServerOption {
	return func(s *Server) {
		s.tools = r
	}
}

// UsePromptRegistry enables the prompts capability.
func UsePromptRegistry(r *PromptRegistry) ServerOption {
	return func(s *Server) {
		s.prompts = r
	}
}

// UseResourceRegistry enables the resources capability.
func UseResourceRegistry(r *ResourceRegistry) ServerOption {
	return func(s *Server) {
		s.resources = r
	}
}

// UseMaxConcurrentRequests bounds concurrent requests per session.
func UseMaxConcurrentRequests(n int64) ServerOption {
	return func(s *Server) {
		s.maxConcurrent = n
	}
}

// UseFrameLimit sets the largest accepted message in bytes.
func UseFrameLimit(n int) ServerOption {
	return func(s *Server) {
		s.frameLimit = n
	}
}

// NewServer creates a server. Registry changes are pushed to ready sessions
// as list_changed notifications.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		logger:        observability.NewNullLogger(),
		info:          Implementation{Name: defaultServerName, Version: defaultServerVersion},
		maxConcurrent: DefaultMaxConcurrentRequests,
		frameLimit:    DefaultMaxFrameSize,
		sessions:      make(map[string]*ServerSession),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.tools != nil {
		s.tools.OnChange(func() { s.broadcast(NotificationToolsListChanged, nil) })
	}
	if s.prompts != nil {
		s.prompts.OnChange(func() { s.broadcast(NotificationPromptsListChanged, nil) })
	}
	if s.resources != nil {
		s.resources.OnChange(func() { s.broadcast(NotificationResourcesListChanged, nil) })
	}
	return s
}

// Info returns the server's name and version.
func (s *Server) Info() Implementation { return s.info }

// Capabilities reports what this server advertises during initialize.
func (s *Server) Capabilities() ServerCapabilities {
	caps := ServerCapabilities{Logging: &struct{}{}}
	if s.tools != nil {
		caps.Tools = &ListChangedCapability{ListChanged: true}
	}
	if s.prompts != nil {
		caps.Prompts = &ListChangedCapability{ListChanged: true}
	}
	if s.resources != nil {
		caps.Resources = &ResourcesCapability{ListChanged: true}
	}
	return caps
}

// Sessions returns the IDs of the connected sessions.
func (s *Server) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Session looks up a connected session.
func (s *Server) Session(id string) (*ServerSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// ServeStdio runs one session over r and w until the client disconnects or ctx ends.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	return s.ServeTransport(ctx, NewStdioTransport(r, w, WithMaxFrameSize(s.frameLimit)))
}

// ServeTransport runs one session over t. It returns when the peer goes away,
// the transport closes or ctx ends.
func (s *Server) ServeTransport(ctx context.Context, t Transport) error {
	return s.serveSession(ctx, uuid.NewString(), t)
}

func (s *Server) serveSession(ctx context.Context, id string, t Transport) error {
	session := newServerSession(id)
	logger := s.logger.WithFields(map[string]interface{}{"session_id": id})

	conn := NewConn(t, s.newRouter(session, logger),
		WithConnLogger(logger),
		WithMaxConcurrentRequests(s.maxConcurrent),
		WithSyncMethods(MethodInitialize),
	)
	session.conn = conn

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	logger.Info("session started")
	started := time.Now()

	defer func() {
		session.close()
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		_ = conn.Close()
		logger.WithFields(map[string]interface{}{"duration": time.Since(started).String()}).Info("session ended")
	}()

	return conn.Run(ctx)
}

func (s *Server) newRouter(session *ServerSession, logger observability.Logger) *Router {
	router := NewRouter(logger)
	router.Use(tracingMiddleware, session.lifecycleGate)

	router.Handle(MethodInitialize, func(ctx context.Context, req *Request) (interface{}, error) {
		var params InitializeParams
		if err := req.BindParams(&params); err != nil {
			return nil, err
		}
		version, rpcErr := session.initialize(params)
		if rpcErr != nil {
			return nil, rpcErr
		}
		logger.WithFields(map[string]interface{}{
			"client":           params.ClientInfo.Name,
			"client_version":   params.ClientInfo.Version,
			"protocol_version": version,
		}).Info("session initializing")

		return InitializeResult{
			ProtocolVersion: version,
			Capabilities:    s.Capabilities(),
			ServerInfo:      s.info,
			Instructions:    s.instructions,
		}, nil
	})

	router.HandleNotification(NotificationInitialized, func(ctx context.Context, req *Request) {
		if session.markInitialized() {
			logger.Debug("session ready")
		}
	})

	router.Handle(MethodPing, func(ctx context.Context, req *Request) (interface{}, error) {
		return struct{}{}, nil
	})

	router.Handle(MethodSetLogLevel, func(ctx context.Context, req *Request) (interface{}, error) {
		var params SetLevelParams
		if err := req.BindParams(&params); err != nil {
			return nil, err
		}
		level, err := ParseLogLevel(string(params.Level))
		if err != nil {
			return nil, err
		}
		session.setLogLevel(level)
		return struct{}{}, nil
	})

	if s.tools != nil {
		router.Handle(MethodToolsList, func(ctx context.Context, req *Request) (interface{}, error) {
			var params PaginatedParams
			if err := req.BindParams(&params); err != nil {
				return nil, err
			}
			return s.tools.List(params.Cursor, 0), nil
		})
		router.Handle(MethodToolsCall, func(ctx context.Context, req *Request) (interface{}, error) {
			var params CallToolParams
			if err := req.BindParams(&params); err != nil {
				return nil, err
			}
			if params.Name == "" {
				return nil, errInvalidParams("tool name is required", nil)
			}
			return s.tools.Call(ctx, params)
		})
	}

	if s.prompts != nil {
		router.Handle(MethodPromptsList, func(ctx context.Context, req *Request) (interface{}, error) {
			var params PaginatedParams
			if err := req.BindParams(&params); err != nil {
				return nil, err
			}
			return s.prompts.List(params.Cursor, 0), nil
		})
		router.Handle(MethodPromptsGet, func(ctx context.Context, req *Request) (interface{}, error) {
			var params GetPromptParams
			if err := req.BindParams(&params); err != nil {
				return nil, err
			}
			return s.prompts.Get(params.Name, params.Arguments)
		})
	}

	if s.resources != nil {
		router.Handle(MethodResourcesList, func(ctx context.Context, req *Request) (interface{}, error) {
			var params PaginatedParams
			if err := req.BindParams(&params); err != nil {
				return nil, err
			}
			return s.resources.List(params.Cursor, 0), nil
		})
		router.Handle(MethodResourcesRead, func(ctx context.Context, req *Request) (interface{}, error) {
			var params ReadResourceParams
			if err := req.BindParams(&params); err != nil {
				return nil, err
			}
			if params.URI == "" {
				return nil, errInvalidParams("uri is required", nil)
			}
			return s.resources.Read(ctx, params.URI)
		})
	}

	return router
}

func tracingMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (result interface{}, err error) {
		ctx, span := observability.StartSpan(ctx, "mcp."+req.Method)
		span.SetAttributes(attribute.String("rpc.method", req.Method), attribute.String("rpc.id", req.ID.String()))
		defer func() { observability.EndSpan(span, err) }()
		return next(ctx, req)
	}
}

// Log sends notifications/message to every ready session whose level allows it.
func (s *Server) Log(ctx context.Context, level LogLevel, logger string, data interface{}) {
	params := LoggingMessageParams{Level: level, Logger: logger, Data: data}
	for _, session := range s.readySessions() {
		if !session.wantsLog(level) {
			continue
		}
		if err := session.Notify(ctx, NotificationMessage, params); err != nil {
			s.logger.WithErr(err).WithFields(map[string]interface{}{"session_id": session.ID()}).Debug("failed to deliver log message")
		}
	}
}

func (s *Server) broadcast(method string, params interface{}) {
	for _, session := range s.readySessions() {
		if err := session.Notify(context.Background(), method, params); err != nil {
			s.logger.WithErr(err).WithFields(map[string]interface{}{
				"session_id": session.ID(),
				"method":     method,
			}).Warn("failed to broadcast notification")
		}
	}
}

func (s *Server) readySessions() []*ServerSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ServerSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if session.State() == SessionReady {
			out = append(out, session)
		}
	}
	return out
}
