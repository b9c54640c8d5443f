package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/shaharia-lab/mcpbridge/observability"
)

// ResourceReader returns the current contents of a resource.
type ResourceReader func(ctx context.Context, uri string) ([]ResourceContents, error)

type registeredResource struct {
	resource Resource
	read     ResourceReader
	dir      string
}

// ResourceRegistry stores readable resources by URI.
type ResourceRegistry struct {
	mu        sync.RWMutex
	resources map[string]*registeredResource
	dirs      []string
	listeners []func()
	logger    observability.Logger
}

// NewResourceRegistry creates an empty registry.
func NewResourceRegistry(logger observability.Logger) *ResourceRegistry {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &ResourceRegistry{resources: make(map[string]*registeredResource), logger: logger}
}

// OnChange registers fn to run after the resource list changes.
func (r *ResourceRegistry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *ResourceRegistry) notifyChange() {
	r.mu.RLock()
	listeners := append([]func(){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// Register adds or replaces a resource.
func (r *ResourceRegistry) Register(res Resource, read ResourceReader) error {
	if res.URI == "" {
		return fmt.Errorf("resource uri is required")
	}
	if read == nil {
		return fmt.Errorf("resource %s has no reader", res.URI)
	}
	if res.Name == "" {
		res.Name = res.URI
	}

	r.mu.Lock()
	r.resources[res.URI] = &registeredResource{resource: res, read: read}
	r.mu.Unlock()

	r.notifyChange()
	return nil
}

// RegisterText adds a resource with fixed text content.
func (r *ResourceRegistry) RegisterText(res Resource, text string) error {
	if res.MimeType == "" {
		res.MimeType = "text/plain"
	}
	return r.Register(res, func(_ context.Context, uri string) ([]ResourceContents, error) {
		return []ResourceContents{{URI: uri, MimeType: res.MimeType, Text: text}}, nil
	})
}

// Unregister removes a resource and reports whether it existed.
func (r *ResourceRegistry) Unregister(uri string) bool {
	r.mu.Lock()
	_, ok := r.resources[uri]
	delete(r.resources, uri)
	r.mu.Unlock()

	if ok {
		r.notifyChange()
	}
	return ok
}

// Len returns the number of resources.
func (r *ResourceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources)
}

// List returns one page of resources ordered by URI.
func (r *ResourceRegistry) List(cursor string, limit int) ListResourcesResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uris := make([]string, 0, len(r.resources))
	for uri := range r.resources {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	start, end, next := paginate(uris, cursor, limit)
	out := make([]Resource, 0, end-start)
	for _, uri := range uris[start:end] {
		out = append(out, r.resources[uri].resource)
	}
	return ListResourcesResult{Resources: out, NextCursor: next}
}

// Read returns the contents of uri. Unknown URIs fail with -32002.
func (r *ResourceRegistry) Read(ctx context.Context, uri string) (ReadResourceResult, error) {
	r.mu.RLock()
	res, ok := r.resources[uri]
	r.mu.RUnlock()

	if !ok {
		return ReadResourceResult{}, NewError(CodeResourceNotFound, "resource not found", map[string]string{"uri": uri})
	}

	contents, err := res.read(ctx, uri)
	if err != nil {
		return ReadResourceResult{}, fmt.Errorf("failed to read resource %s: %w", uri, err)
	}
	return ReadResourceResult{Contents: contents}, nil
}

// AddDirectory exposes the regular files of dir as file:// resources.
func (r *ResourceRegistry) AddDirectory(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("failed to open resource directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}

	r.mu.Lock()
	r.dirs = append(r.dirs, abs)
	r.mu.Unlock()

	_, err = r.syncDir(abs)
	return err
}

// syncDir makes the registered resources of dir match its files and reports
// whether anything changed.
func (r *ResourceRegistry) syncDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	found := make(map[string]Resource)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		uri := FileURI(path)
		found[uri] = Resource{
			URI:      uri,
			Name:     entry.Name(),
			MimeType: mimeTypeFor(path),
		}
	}

	changed := false
	r.mu.Lock()
	for uri, res := range r.resources {
		if res.dir != dir {
			continue
		}
		if _, ok := found[uri]; !ok {
			delete(r.resources, uri)
			changed = true
		}
	}
	for uri, res := range found {
		if _, ok := r.resources[uri]; ok {
			continue
		}
		r.resources[uri] = &registeredResource{resource: res, read: readFileResource, dir: dir}
		changed = true
	}
	r.mu.Unlock()

	if changed {
		r.logger.WithFields(map[string]interface{}{"dir": dir, "files": len(found)}).Debug("resource directory synced")
		r.notifyChange()
	}
	return changed, nil
}

// Watch re-syncs the directories added with AddDirectory whenever files are
// created, removed or renamed. It blocks until ctx ends.
func (r *ResourceRegistry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	r.mu.RLock()
	dirs := append([]string{}, r.dirs...)
	r.mu.RUnlock()

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if _, err := r.syncDir(filepath.Dir(ev.Name)); err != nil {
				r.logger.WithErr(err).Warn("failed to resync resource directory")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.WithErr(err).Warn("resource watcher error")
		}
	}
}

// FileURI converts an absolute path into a file:// URI.
func FileURI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

func readFileResource(_ context.Context, uri string) ([]ResourceContents, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	path := filepath.FromSlash(u.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	mimeType := mimeTypeFor(path)
	if isTextMIME(mimeType) {
		return []ResourceContents{{URI: uri, MimeType: mimeType, Text: string(data)}}, nil
	}
	return []ResourceContents{{URI: uri, MimeType: mimeType, Blob: base64.StdEncoding.EncodeToString(data)}}, nil
}

var knownMIMETypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".json":     "application/json",
	".txt":      "text/plain",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
}

func mimeTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := knownMIMETypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
		return mt
	}
	return "application/octet-stream"
}

func isTextMIME(mt string) bool {
	switch {
	case strings.HasPrefix(mt, "text/"):
		return true
	case mt == "application/json", mt == "application/yaml", strings.HasSuffix(mt, "+json"):
		return true
	default:
		return false
	}
}
