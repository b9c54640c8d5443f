package mcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptRegistry_Get(t *testing.T) {
	r := NewPromptRegistry(nil)
	require.NoError(t, r.Register(PromptTemplate{
		Prompt: Prompt{
			Name:        "code_review",
			Description: "Review a snippet",
			Arguments: []PromptArgument{
				{Name: "language", Required: true},
				{Name: "focus"},
			},
		},
		Template: "Review this {{language}} code. Focus: {{ focus }}. {{style}}",
	}))

	tests := []struct {
		name     string
		prompt   string
		args     map[string]string
		wantText string
		wantCode int
	}{
		{
			name:     "all arguments",
			prompt:   "code_review",
			args:     map[string]string{"language": "Go", "focus": "errors"},
			wantText: "Review this Go code. Focus: errors. {{style}}",
		},
		{
			name:     "undeclared placeholder kept even when passed",
			prompt:   "code_review",
			args:     map[string]string{"language": "Go", "style": "terse"},
			wantText: "Review this Go code. Focus: . {{style}}",
		},
		{
			name:     "optional argument missing",
			prompt:   "code_review",
			args:     map[string]string{"language": "Go"},
			wantText: "Review this Go code. Focus: . {{style}}",
		},
		{
			name:     "required argument missing",
			prompt:   "code_review",
			args:     map[string]string{"focus": "errors"},
			wantCode: CodeInvalidParams,
		},
		{
			name:     "unknown prompt",
			prompt:   "missing",
			wantCode: CodeInvalidParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.Get(tt.prompt, tt.args)
			if tt.wantCode != 0 {
				var rpcErr *Error
				require.ErrorAs(t, err, &rpcErr)
				assert.Equal(t, tt.wantCode, rpcErr.Code)
				return
			}
			require.NoError(t, err)
			require.Len(t, result.Messages, 1)
			assert.Equal(t, "user", result.Messages[0].Role)
			assert.Equal(t, tt.wantText, result.Messages[0].Content.Text)
			assert.Equal(t, "Review a snippet", result.Description)
		})
	}
}

func TestPromptRegistry_LoadPromptsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summarize.md"), []byte(`---
name: summarize
description: Summarize a text
arguments:
  - name: text
    description: Text to summarize
    required: true
---
Summarize the following text in three sentences:

{{text}}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.md"), []byte("Say hello."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r := NewPromptRegistry(nil)
	changes := 0
	r.OnChange(func() { changes++ })

	n, err := r.LoadPromptsDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, changes)

	page := r.List("", 0)
	require.Len(t, page.Prompts, 2)
	assert.Equal(t, "greeting", page.Prompts[0].Name)
	assert.Equal(t, "summarize", page.Prompts[1].Name)
	require.Len(t, page.Prompts[1].Arguments, 1)
	assert.True(t, page.Prompts[1].Arguments[0].Required)

	result, err := r.Get("summarize", map[string]string{"text": "Go is fun."})
	require.NoError(t, err)
	assert.Equal(t, "Summarize the following text in three sentences:\n\nGo is fun.", result.Messages[0].Content.Text)
}

func TestPromptRegistry_ListPaging(t *testing.T) {
	r := NewPromptRegistry(nil)
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(PromptTemplate{Prompt: Prompt{Name: name}, Template: name}))
	}

	page := r.List("", 2)
	assert.Len(t, page.Prompts, 2)
	assert.Equal(t, "b", page.NextCursor)

	page = r.List("b", 2)
	require.Len(t, page.Prompts, 1)
	assert.Equal(t, "c", page.Prompts[0].Name)
	assert.Empty(t, page.NextCursor)

	assert.Error(t, r.Register(PromptTemplate{}))
}
