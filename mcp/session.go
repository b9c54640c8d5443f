package mcp

import (
	"context"
	"slices"
	"sync"
)

// LatestProtocolVersion is the newest protocol revision this package speaks.
const LatestProtocolVersion = "2024-11-05"

// SupportedProtocolVersions lists every revision accepted during negotiation, newest first.
var SupportedProtocolVersions = []string{LatestProtocolVersion, "2024-10-07"}

// IsSupportedProtocolVersion reports whether v can be negotiated.
func IsSupportedProtocolVersion(v string) bool {
	return slices.Contains(SupportedProtocolVersions, v)
}

// NegotiateProtocolVersion answers a client's requested version: the same
// version when supported, otherwise the latest one.
func NegotiateProtocolVersion(requested string) string {
	if IsSupportedProtocolVersion(requested) {
		return requested
	}
	return LatestProtocolVersion
}

// SessionState is the lifecycle phase of a server session.
type SessionState int

const (
	// SessionNew accepts only initialize and ping.
	SessionNew SessionState = iota
	// SessionInitializing has answered initialize and waits for notifications/initialized.
	SessionInitializing
	// SessionReady serves every advertised capability.
	SessionReady
	// SessionClosed no longer serves requests.
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionInitializing:
		return "initializing"
	case SessionReady:
		return "ready"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ServerSession is the server's view of one connected client.
type ServerSession struct {
	id   string
	conn *Conn

	mu              sync.RWMutex
	state           SessionState
	protocolVersion string
	clientInfo      Implementation
	clientCaps      ClientCapabilities
	logLevel        LogLevel
	logLevelSet     bool
}

func newServerSession(id string) *ServerSession {
	return &ServerSession{id: id, state: SessionNew}
}

// ID identifies the session.
func (s *ServerSession) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *ServerSession) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ClientInfo returns what the client reported about itself.
func (s *ServerSession) ClientInfo() Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

// ClientCapabilities returns the capabilities the client advertised.
func (s *ServerSession) ClientCapabilities() ClientCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientCaps
}

// ProtocolVersion returns the negotiated revision.
func (s *ServerSession) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

// initialize records the client's handshake and returns the negotiated version.
func (s *ServerSession) initialize(params InitializeParams) (string, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionNew {
		return "", NewError(CodeInvalidRequest, "session already initialized", nil)
	}

	s.protocolVersion = NegotiateProtocolVersion(params.ProtocolVersion)
	s.clientInfo = params.ClientInfo
	s.clientCaps = params.Capabilities
	s.state = SessionInitializing
	return s.protocolVersion, nil
}

func (s *ServerSession) markInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionInitializing {
		return false
	}
	s.state = SessionReady
	return true
}

func (s *ServerSession) close() {
	s.mu.Lock()
	s.state = SessionClosed
	s.mu.Unlock()
}

func (s *ServerSession) setLogLevel(level LogLevel) {
	s.mu.Lock()
	s.logLevel = level
	s.logLevelSet = true
	s.mu.Unlock()
}

// wantsLog reports whether a message at level passes the session's threshold.
// Sessions that never called logging/setLevel receive nothing.
func (s *ServerSession) wantsLog(level LogLevel) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == SessionReady && s.logLevelSet && level.AtLeast(s.logLevel)
}

// lifecycleGate rejects requests that the current session state does not allow.
func (s *ServerSession) lifecycleGate(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (interface{}, error) {
		switch req.Method {
		case MethodInitialize, MethodPing:
			return next(ctx, req)
		}

		if s.State() != SessionReady {
			return nil, errNotInitialized()
		}
		return next(ctx, req)
	}
}

// Notify sends a notification to this session's client.
func (s *ServerSession) Notify(ctx context.Context, method string, params interface{}) error {
	if s.conn == nil {
		return ErrConnClosed
	}
	return s.conn.Notify(ctx, method, params)
}
