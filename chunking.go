package mcpbridge

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaharia-lab/mcpbridge/document"
)

// ChunkingProvider splits text into coherent segments.
type ChunkingProvider interface {
	Chunk(ctx context.Context, text string) ([]string, error)
}

// ChunkingByLLMProvider asks a model where to cut the text. The model answers
// with byte offset pairs.
type ChunkingByLLMProvider struct {
	llm *LLMRequest
}

var (
	_ ChunkingProvider     = (*ChunkingByLLMProvider)(nil)
	_ document.Transformer = (*ChunkingByLLMProvider)(nil)
)

//	llm := NewLLMRequest(NewRequestConfig(WithMaxToolRounds(0)), provider)
//	chunker := NewChunkingByLLMProvider(llm)
//	chunks, err := chunker.Chunk(ctx, longText)
func NewChunkingByLLMProvider(llm *LLMRequest) *ChunkingByLLMProvider {
	return &ChunkingByLLMProvider{
		llm: llm,
	}
}

var chunkingPrompt = template.Must(template.New("chunking").Parse(`Your task is to divide the input text into coherent chunks for generating embedding vectors. The chunks should:
- Preserve complete sentences and logical units where possible
- Have natural breakpoints (e.g., paragraphs, sections)
- Be roughly similar in length
- Not exceed 512 tokens per chunk

Input text:
{{.Text}}

Instructions:
Return ONLY a JSON array of chunk positions in the following format, with no other explanatory text:
[[start_position, end_position], [start_position, end_position], ...]

Example format:
[[0, 500], [501, 1000], [1001, 1500]]`))

// Offset is a chunk's byte range in the original text.
type Offset struct {
	Start int
	End   int
}

func parseOffsets(response string) ([]Offset, error) {
	var raw [][]int
	if _, err := NewJSONExtractor(&raw).Extract(LLMResponse{Text: response}); err != nil {
		return nil, fmt.Errorf("failed to parse offsets: %w", err)
	}

	offsets := make([]Offset, len(raw))
	for i, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid offset pair at index %d", i)
		}
		offsets[i] = Offset{Start: pair[0], End: pair[1]}
	}
	return offsets, nil
}

// Chunk returns the segments the model chose. Empty segments are dropped.
func (p *ChunkingByLLMProvider) Chunk(ctx context.Context, text string) ([]string, error) {
	if len(text) == 0 {
		return []string{}, nil
	}

	var prompt strings.Builder
	if err := chunkingPrompt.Execute(&prompt, map[string]string{"Text": text}); err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	resp, err := p.llm.Generate(ctx, []LLMMessage{{Role: UserRole, Text: prompt.String()}})
	if err != nil {
		return nil, fmt.Errorf("failed to generate chunks: %w", err)
	}

	offsets, err := parseOffsets(resp.Text)
	if err != nil {
		return nil, err
	}

	chunks := make([]string, 0, len(offsets))
	for _, offset := range offsets {
		if offset.Start < 0 || offset.Start >= len(text) || offset.End > len(text) || offset.Start > offset.End {
			return nil, fmt.Errorf("invalid offset range [%d, %d] for text length %d",
				offset.Start, offset.End, len(text))
		}
		if chunk := strings.TrimSpace(text[offset.Start:offset.End]); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// Transform chunks every document. Chunks keep the parent metadata and gain
// chunk_index and parent_id.
func (p *ChunkingByLLMProvider) Transform(ctx context.Context, docs []document.Document) ([]document.Document, error) {
	var out []document.Document
	for _, doc := range docs {
		chunks, err := p.Chunk(ctx, doc.Content)
		if err != nil {
			return nil, fmt.Errorf("chunking %s: %w", doc.ID, err)
		}
		for i, chunk := range chunks {
			meta := make(map[string]interface{}, len(doc.Metadata)+2)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta[document.MetaChunkIndex] = i
			meta[document.MetaParentID] = doc.ID
			out = append(out, document.New(chunk, meta))
		}
	}
	return out, nil
}
