package mcp

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceRegistry_StaticResources(t *testing.T) {
	r := NewResourceRegistry(nil)
	require.NoError(t, r.RegisterText(Resource{URI: "memo://readme", Name: "readme"}, "hello"))
	require.Error(t, r.RegisterText(Resource{}, "no uri"))

	list := r.List("", 0)
	require.Len(t, list.Resources, 1)
	assert.Equal(t, "text/plain", list.Resources[0].MimeType)

	result, err := r.Read(context.Background(), "memo://readme")
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "hello", result.Contents[0].Text)

	_, err = r.Read(context.Background(), "memo://missing")
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeResourceNotFound, rpcErr.Code)
}

func TestResourceRegistry_AddDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# Notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.json"), []byte(`{"a":1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.bin"), []byte{0x00, 0xff, 0x10}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("secret"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	r := NewResourceRegistry(nil)
	require.NoError(t, r.AddDirectory(dir))
	assert.Equal(t, 3, r.Len())

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)

	tests := []struct {
		file     string
		mimeType string
		text     string
		blob     string
	}{
		{file: "notes.md", mimeType: "text/markdown", text: "# Notes"},
		{file: "data.json", mimeType: "application/json", text: `{"a":1}`},
		{file: "image.bin", mimeType: "application/octet-stream", blob: base64.StdEncoding.EncodeToString([]byte{0x00, 0xff, 0x10})},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			result, err := r.Read(context.Background(), FileURI(filepath.Join(abs, tt.file)))
			require.NoError(t, err)
			require.Len(t, result.Contents, 1)
			assert.Equal(t, tt.mimeType, result.Contents[0].MimeType)
			assert.Equal(t, tt.text, result.Contents[0].Text)
			assert.Equal(t, tt.blob, result.Contents[0].Blob)
		})
	}

	assert.Error(t, r.AddDirectory(filepath.Join(dir, "missing")))
	assert.Error(t, r.AddDirectory(filepath.Join(dir, "notes.md")))
}

func TestResourceRegistry_Watch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "first.txt"), []byte("1"), 0o644))

	r := NewResourceRegistry(nil)
	require.NoError(t, r.AddDirectory(dir))

	var changes atomic.Int32
	r.OnChange(func() { changes.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan error, 1)
	go func() { watchDone <- r.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.txt"), []byte("2"), 0o644))
	assert.Eventually(t, func() bool { return r.Len() == 2 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "first.txt")))
	assert.Eventually(t, func() bool { return r.Len() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, changes.Load(), int32(2))

	cancel()
	select {
	case err := <-watchDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
