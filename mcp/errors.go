package mcp

import "errors"

var (
	// ErrTransportClosed is returned by a Transport after Close.
	ErrTransportClosed = errors.New("transport closed")

	// ErrFrameTooLarge is returned when a frame exceeds the configured limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrConnClosed fails pending calls when the connection goes away.
	ErrConnClosed = errors.New("connection closed")

	// ErrInvalidParams marks handler errors that should be reported as -32602.
	ErrInvalidParams = errors.New("invalid params")

	// ErrNotInitialized is returned by client operations before Connect succeeds.
	ErrNotInitialized = errors.New("client not initialized")

	// ErrCapabilityNotSupported is returned when the peer did not advertise a capability.
	ErrCapabilityNotSupported = errors.New("capability not supported by server")

	// ErrUnsupportedProtocolVersion is returned when the server answers with an unknown version.
	ErrUnsupportedProtocolVersion = errors.New("unsupported protocol version")
)

func errNotInitialized() *Error {
	return NewError(CodeNotInitialized, "server not initialized", nil)
}

func errMethodNotFound(method string) *Error {
	return NewError(CodeMethodNotFound, "method not found", map[string]string{"method": method})
}

func errInvalidParams(message string, data interface{}) *Error {
	return NewError(CodeInvalidParams, message, data)
}
