package mcp

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/adrg/frontmatter"
	"github.com/shaharia-lab/mcpbridge/observability"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_-]+)\s*\}\}`)

// PromptTemplate is a prompt definition plus the text it renders.
type PromptTemplate struct {
	Prompt
	Template string
}

// Render substitutes {{name}} placeholders for declared arguments. Missing
// optional arguments render empty; undeclared placeholders are kept as written.
func (p PromptTemplate) Render(args map[string]string) (GetPromptResult, error) {
	for _, arg := range p.Arguments {
		if !arg.Required {
			continue
		}
		if v, ok := args[arg.Name]; !ok || v == "" {
			return GetPromptResult{}, errInvalidParams("missing required argument: "+arg.Name, map[string]string{"argument": arg.Name})
		}
	}

	declared := make(map[string]bool, len(p.Arguments))
	for _, arg := range p.Arguments {
		declared[arg.Name] = true
	}
	text := placeholderPattern.ReplaceAllStringFunc(p.Template, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if !declared[name] {
			return m
		}
		return args[name]
	})

	return GetPromptResult{
		Description: p.Description,
		Messages: []PromptMessage{
			{Role: "user", Content: TextContent(strings.TrimSpace(text))},
		},
	}, nil
}

// PromptRegistry stores prompt templates by name.
type PromptRegistry struct {
	mu        sync.RWMutex
	prompts   map[string]PromptTemplate
	listeners []func()
	logger    observability.Logger
}

// NewPromptRegistry creates an empty registry.
func NewPromptRegistry(logger observability.Logger) *PromptRegistry {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &PromptRegistry{prompts: make(map[string]PromptTemplate), logger: logger}
}

// OnChange registers fn to run after the prompt set changes.
func (r *PromptRegistry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *PromptRegistry) notifyChange() {
	r.mu.RLock()
	listeners := append([]func(){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// Register adds or replaces a prompt.
func (r *PromptRegistry) Register(p PromptTemplate) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("prompt name is required")
	}

	r.mu.Lock()
	r.prompts[p.Name] = p
	r.mu.Unlock()

	r.notifyChange()
	return nil
}

// Unregister removes a prompt and reports whether it existed.
func (r *PromptRegistry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.prompts[name]
	delete(r.prompts, name)
	r.mu.Unlock()

	if ok {
		r.notifyChange()
	}
	return ok
}

// Len returns the number of prompts.
func (r *PromptRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.prompts)
}

// List returns one page of prompts ordered by name.
func (r *PromptRegistry) List(cursor string, limit int) ListPromptsResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.prompts))
	for name := range r.prompts {
		names = append(names, name)
	}
	sort.Strings(names)

	start, end, next := paginate(names, cursor, limit)
	prompts := make([]Prompt, 0, end-start)
	for _, name := range names[start:end] {
		prompts = append(prompts, r.prompts[name].Prompt)
	}
	return ListPromptsResult{Prompts: prompts, NextCursor: next}
}

// Get renders the named prompt with args.
func (r *PromptRegistry) Get(name string, args map[string]string) (GetPromptResult, error) {
	r.mu.RLock()
	p, ok := r.prompts[name]
	r.mu.RUnlock()

	if !ok {
		return GetPromptResult{}, errInvalidParams("unknown prompt: "+name, nil)
	}
	return p.Render(args)
}

type promptMatter struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Arguments   []PromptArgument `yaml:"arguments"`
}

// ParsePromptFile reads a markdown prompt whose YAML front matter declares the
// name, description and arguments. The name defaults to the file name.
func ParsePromptFile(path string) (PromptTemplate, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return PromptTemplate{}, fmt.Errorf("failed to read prompt %s: %w", path, err)
	}

	var matter promptMatter
	body, err := frontmatter.Parse(bytes.NewReader(content), &matter)
	if err != nil {
		return PromptTemplate{}, fmt.Errorf("failed to parse front matter of %s: %w", path, err)
	}

	name := matter.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return PromptTemplate{
		Prompt: Prompt{
			Name:        name,
			Description: matter.Description,
			Arguments:   matter.Arguments,
		},
		Template: string(body),
	}, nil
}

// LoadPromptsDir registers every *.md file in dir and returns how many were loaded.
func (r *PromptRegistry) LoadPromptsDir(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)

	loaded := 0
	for _, path := range paths {
		p, err := ParsePromptFile(path)
		if err != nil {
			return loaded, err
		}
		if err := r.Register(p); err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		r.logger.WithFields(map[string]interface{}{"prompt": p.Name, "file": path}).Debug("loaded prompt")
		loaded++
	}
	return loaded, nil
}
