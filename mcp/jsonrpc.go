package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// JSONRPCVersion is the only protocol version accepted on the wire.
const JSONRPCVersion = "2.0"

// Standard JSON-RPC and MCP error codes.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeNotInitialized   = -32000
	CodeResourceNotFound = -32002
)

// ID is a JSON-RPC request identifier. It is either a string or an integer
// and round-trips in the form it was received.
type ID struct {
	str   string
	num   int64
	isStr bool
}

// NewNumberID returns an integer ID.
func NewNumberID(n int64) ID { return ID{num: n} }

// NewStringID returns a string ID.
func NewStringID(s string) ID { return ID{str: s, isStr: true} }

// Key returns a canonical representation usable as a map key.
// String and integer IDs never collide.
func (id ID) Key() string {
	if id.isStr {
		return "s:" + id.str
	}
	return "n:" + strconv.FormatInt(id.num, 10)
}

func (id ID) String() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty id")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string id: %w", err)
		}
		*id = NewStringID(s)
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id must be a string or an integer, got %s", data)
	}
	*id = NewNumberID(n)
	return nil
}

// Request is a JSON-RPC request, or a notification when ID is nil.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool { return r.ID == nil }

// BindParams decodes the request params into v. Missing params decode as an empty object.
func (r *Request) BindParams(v interface{}) error {
	params := r.Params
	if len(params) == 0 || string(params) == "null" {
		params = []byte("{}")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
// ID is nil only when the request ID could not be determined.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds a protocol error.
func NewError(code int, message string, data interface{}) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// NewRequest builds a request with marshalled params.
func NewRequest(id ID, method string, params interface{}) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: JSONRPCVersion, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification with marshalled params.
func NewNotification(method string, params interface{}) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// NewResultResponse builds a successful response.
func NewResultResponse(id *ID, result interface{}) (*Response, error) {
	if result == nil {
		result = struct{}{}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id *ID, rpcErr *Error) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Error: rpcErr}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return raw, nil
}

// envelope holds every member a JSON-RPC message may carry, used for classification.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// DecodeMessage parses one frame and classifies it. Exactly one of the returned
// request and response is non-nil when err is nil. A *Error is returned for
// frames that are not valid JSON-RPC; the accompanying ID is set when the frame
// carried a usable one so the error can be correlated.
func DecodeMessage(data []byte) (*Request, *Response, *ID, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, nil, NewError(CodeParseError, "parse error: empty message", nil)
	}
	if trimmed[0] == '[' {
		return nil, nil, nil, NewError(CodeInvalidRequest, "batch requests are not supported", nil)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, nil, nil, NewError(CodeParseError, "parse error", err.Error())
	}

	var id *ID
	if len(env.ID) > 0 && string(env.ID) != "null" {
		var parsed ID
		if err := parsed.UnmarshalJSON(env.ID); err != nil {
			return nil, nil, nil, NewError(CodeInvalidRequest, "invalid request id", err.Error())
		}
		id = &parsed
	}

	if env.JSONRPC != JSONRPCVersion {
		return nil, nil, id, NewError(CodeInvalidRequest, `jsonrpc must be "2.0"`, nil)
	}

	switch {
	case env.Method != nil:
		if *env.Method == "" {
			return nil, nil, id, NewError(CodeInvalidRequest, "method must not be empty", nil)
		}
		return &Request{JSONRPC: env.JSONRPC, ID: id, Method: *env.Method, Params: env.Params}, nil, id, nil
	case env.Error != nil:
		return nil, &Response{JSONRPC: env.JSONRPC, ID: id, Error: env.Error}, id, nil
	case len(env.Result) > 0:
		if id == nil {
			return nil, nil, nil, NewError(CodeInvalidRequest, "response without id", nil)
		}
		return nil, &Response{JSONRPC: env.JSONRPC, ID: id, Result: env.Result}, id, nil
	default:
		return nil, nil, id, NewError(CodeInvalidRequest, "message is neither a request nor a response", nil)
	}
}
