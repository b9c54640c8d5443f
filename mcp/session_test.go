package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateProtocolVersion(t *testing.T) {
	assert.Equal(t, "2024-11-05", NegotiateProtocolVersion("2024-11-05"))
	assert.Equal(t, "2024-10-07", NegotiateProtocolVersion("2024-10-07"))
	assert.Equal(t, LatestProtocolVersion, NegotiateProtocolVersion("2030-01-01"))
	assert.Equal(t, LatestProtocolVersion, NegotiateProtocolVersion(""))
}

func TestServerSession_StateMachine(t *testing.T) {
	s := newServerSession("abc")
	assert.Equal(t, SessionNew, s.State())
	assert.False(t, s.markInitialized(), "initialized before initialize")

	version, rpcErr := s.initialize(InitializeParams{ProtocolVersion: "2024-10-07", ClientInfo: Implementation{Name: "c"}})
	require.Nil(t, rpcErr)
	assert.Equal(t, "2024-10-07", version)
	assert.Equal(t, SessionInitializing, s.State())

	_, rpcErr = s.initialize(InitializeParams{})
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidRequest, rpcErr.Code)

	assert.True(t, s.markInitialized())
	assert.Equal(t, SessionReady, s.State())
	assert.Equal(t, "ready", s.State().String())

	s.close()
	assert.Equal(t, SessionClosed, s.State())
}

func TestServerSession_WantsLog(t *testing.T) {
	s := newServerSession("abc")
	_, _ = s.initialize(InitializeParams{})
	s.markInitialized()

	assert.False(t, s.wantsLog(LogLevelEmergency), "no level chosen yet")

	s.setLogLevel(LogLevelWarning)
	assert.False(t, s.wantsLog(LogLevelInfo))
	assert.True(t, s.wantsLog(LogLevelWarning))
	assert.True(t, s.wantsLog(LogLevelCritical))

	s.close()
	assert.False(t, s.wantsLog(LogLevelCritical))
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "notice", "warning", "error", "critical", "alert", "emergency"} {
		parsed, err := ParseLogLevel(level)
		require.NoError(t, err)
		assert.Equal(t, LogLevel(level), parsed)
	}

	_, err := ParseLogLevel("verbose")
	assert.ErrorIs(t, err, ErrInvalidParams)
}
