package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_RoundTrip(t *testing.T) {
	tests := []struct {
		raw string
		key string
	}{
		{raw: `1`, key: "n:1"},
		{raw: `"1"`, key: "s:1"},
		{raw: `"abc-123"`, key: "s:abc-123"},
		{raw: `-42`, key: "n:-42"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var id ID
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &id))
			assert.Equal(t, tt.key, id.Key())

			out, err := json.Marshal(id)
			require.NoError(t, err)
			assert.Equal(t, tt.raw, string(out))
		})
	}

	var id ID
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &id))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &id))
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantRequest  bool
		wantNotify   bool
		wantResponse bool
		wantCode     int
	}{
		{name: "request", input: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, wantRequest: true},
		{name: "string id request", input: `{"jsonrpc":"2.0","id":"a","method":"tools/list","params":{}}`, wantRequest: true},
		{name: "notification", input: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, wantRequest: true, wantNotify: true},
		{name: "result response", input: `{"jsonrpc":"2.0","id":3,"result":{}}`, wantResponse: true},
		{name: "error response", input: `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"nope"}}`, wantResponse: true},
		{name: "error response with null id", input: `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`, wantResponse: true},
		{name: "invalid json", input: `{"jsonrpc":`, wantCode: CodeParseError},
		{name: "empty", input: `   `, wantCode: CodeParseError},
		{name: "batch", input: `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, wantCode: CodeInvalidRequest},
		{name: "wrong version", input: `{"jsonrpc":"1.0","id":1,"method":"ping"}`, wantCode: CodeInvalidRequest},
		{name: "missing method and result", input: `{"jsonrpc":"2.0","id":1}`, wantCode: CodeInvalidRequest},
		{name: "fractional id", input: `{"jsonrpc":"2.0","id":1.5,"method":"ping"}`, wantCode: CodeInvalidRequest},
		{name: "empty method", input: `{"jsonrpc":"2.0","id":1,"method":""}`, wantCode: CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, resp, _, err := DecodeMessage([]byte(tt.input))
			if tt.wantCode != 0 {
				var rpcErr *Error
				require.ErrorAs(t, err, &rpcErr)
				assert.Equal(t, tt.wantCode, rpcErr.Code)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantRequest, req != nil)
			assert.Equal(t, tt.wantResponse, resp != nil)
			if req != nil {
				assert.Equal(t, tt.wantNotify, req.IsNotification())
			}
		})
	}
}

func TestDecodeMessage_KeepsIDForErrors(t *testing.T) {
	_, _, id, err := DecodeMessage([]byte(`{"jsonrpc":"1.0","id":"x","method":"ping"}`))
	require.Error(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "s:x", id.Key())
}

func TestResponse_MarshalNullID(t *testing.T) {
	out, err := json.Marshal(NewErrorResponse(nil, NewError(CodeParseError, "parse error", nil)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`, string(out))
}

func TestRequest_BindParams(t *testing.T) {
	req := &Request{Method: "tools/call"}
	var params CallToolParams
	require.NoError(t, req.BindParams(&params))

	req.Params = json.RawMessage(`{"name":42}`)
	assert.ErrorIs(t, req.BindParams(&params), ErrInvalidParams)
}
