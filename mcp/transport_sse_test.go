package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSSETestServer(t *testing.T, opts ...SSEOption) (*httptest.Server, *SSEServer) {
	t.Helper()
	srv := NewServer(UseToolRegistry(newWeatherRegistry(t)))
	handler := srv.SSEHandler(opts...)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts, handler
}

func dialSSE(t *testing.T, url string, opts ...SSEClientOption) *SSEClientTransport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := DialSSE(ctx, url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestSSE_EndToEnd(t *testing.T) {
	ts, handler := newSSETestServer(t, WithBasePath("/mcp"))

	tr := dialSSE(t, ts.URL+"/mcp/sse")
	assert.True(t, strings.HasPrefix(tr.Endpoint(), ts.URL+"/mcp/message?sessionId="))

	client := NewClient(tr)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Connect(context.Background()))

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)

	result, err := client.CallTool(context.Background(), "get_weather", map[string]string{"location": "Lisbon"})
	require.NoError(t, err)
	assert.Equal(t, "Cloudy in Lisbon", result.Text())

	assert.Equal(t, 1, handler.SessionCount())
}

func TestSSE_PostValidation(t *testing.T) {
	ts, _ := newSSETestServer(t)
	tr := dialSSE(t, ts.URL+"/sse")

	tests := []struct {
		name        string
		url         string
		contentType string
		body        string
		wantStatus  int
	}{
		{name: "accepted", url: tr.Endpoint(), contentType: "application/json", body: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, wantStatus: http.StatusAccepted},
		{name: "content type with charset", url: tr.Endpoint(), contentType: "application/json; charset=utf-8", body: `{"jsonrpc":"2.0","id":2,"method":"ping"}`, wantStatus: http.StatusAccepted},
		{name: "wrong content type", url: tr.Endpoint(), contentType: "text/plain", body: `{}`, wantStatus: http.StatusUnsupportedMediaType},
		{name: "unknown session", url: ts.URL + "/message?sessionId=nope", contentType: "application/json", body: `{}`, wantStatus: http.StatusNotFound},
		{name: "invalid json", url: tr.Endpoint(), contentType: "application/json", body: `{"jsonrpc":`, wantStatus: http.StatusBadRequest},
		{name: "oversized body", url: tr.Endpoint(), contentType: "application/json", body: `{"pad":"` + strings.Repeat("x", DefaultMaxFrameSize) + `"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(tt.url, tt.contentType, strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestSSE_Routing(t *testing.T) {
	ts, _ := newSSETestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/message", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")

	resp, err = http.Get(ts.URL + "/elsewhere")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/message")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func signToken(t *testing.T, secret []byte, method jwt.SigningMethod) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestSSE_JWTAuthentication(t *testing.T) {
	secret := []byte("test-secret")
	ts, _ := newSSETestServer(t, WithJWTSecret(secret))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := DialSSE(ctx, ts.URL+"/sse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = DialSSE(ctx, ts.URL+"/sse", WithBearerToken(signToken(t, []byte("wrong"), jwt.SigningMethodHS256)))
	require.Error(t, err)

	_, err = DialSSE(ctx, ts.URL+"/sse", WithBearerToken(signToken(t, secret, jwt.SigningMethodHS512)))
	require.Error(t, err)

	tr := dialSSE(t, ts.URL+"/sse", WithBearerToken(signToken(t, secret, jwt.SigningMethodHS256)))
	client := NewClient(tr)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Ping(ctx))

	resp, err := http.Post(tr.Endpoint(), "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
