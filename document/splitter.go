package document

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

// Defaults for TokenTextSplitter.
const (
	DefaultChunkSize             = 800
	DefaultMinChunkSizeChars     = 350
	DefaultMinChunkLengthToEmbed = 5
	DefaultMaxNumChunks          = 10000
)

// A token is a run of non-space characters with its trailing whitespace, so
// concatenating tokens restores the original text.
var tokenPattern = regexp.MustCompile(`\S+\s*`)

// TokenTextSplitter cuts text into chunks of at most ChunkSize tokens. Each chunk
// is shortened to its last sentence boundary when that boundary lies past
// MinChunkSizeChars.
type TokenTextSplitter struct {
	chunkSize             int
	minChunkSizeChars     int
	minChunkLengthToEmbed int
	maxNumChunks          int
	keepSeparator         bool
}

// SplitterOption configures a TokenTextSplitter.
type SplitterOption func(*TokenTextSplitter)

// WithChunkSize sets the target chunk size in tokens.
func WithChunkSize(n int) SplitterOption {
	return func(s *TokenTextSplitter) { s.chunkSize = n }
}

// WithMinChunkSizeChars sets how long a chunk must be before it is cut at punctuation.
func WithMinChunkSizeChars(n int) SplitterOption {
	return func(s *TokenTextSplitter) { s.minChunkSizeChars = n }
}

// WithMinChunkLengthToEmbed drops chunks shorter than n characters.
func WithMinChunkLengthToEmbed(n int) SplitterOption {
	return func(s *TokenTextSplitter) { s.minChunkLengthToEmbed = n }
}

// WithMaxNumChunks caps the chunks produced per document.
func WithMaxNumChunks(n int) SplitterOption {
	return func(s *TokenTextSplitter) { s.maxNumChunks = n }
}

// WithKeepSeparator controls whether newlines survive inside chunks. When false
// they are replaced with spaces.
func WithKeepSeparator(keep bool) SplitterOption {
	return func(s *TokenTextSplitter) { s.keepSeparator = keep }
}

// NewTokenTextSplitter creates a splitter with the default sizes.
func NewTokenTextSplitter(opts ...SplitterOption) *TokenTextSplitter {
	s := &TokenTextSplitter{
		chunkSize:             DefaultChunkSize,
		minChunkSizeChars:     DefaultMinChunkSizeChars,
		minChunkLengthToEmbed: DefaultMinChunkLengthToEmbed,
		maxNumChunks:          DefaultMaxNumChunks,
		keepSeparator:         true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultChunkSize
	}
	return s
}

// Split breaks every document into chunks. Chunks inherit the parent's metadata
// plus their index and the parent ID.
func (s *TokenTextSplitter) Split(docs []Document) []Document {
	var out []Document
	for _, doc := range docs {
		for i, piece := range s.SplitText(doc.Content) {
			meta := copyMetadata(doc.Metadata, 2)
			meta[MetaChunkIndex] = i
			meta[MetaParentID] = doc.ID
			out = append(out, New(piece, meta))
		}
	}
	return out
}

// Transform implements Transformer.
func (s *TokenTextSplitter) Transform(ctx context.Context, docs []Document) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Split(docs), nil
}

// SplitText returns the chunks of text.
func (s *TokenTextSplitter) SplitText(text string) []string {
	var chunks []string
	rest := text
	for attempts := 0; attempts < s.maxNumChunks; attempts++ {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		if rest == "" {
			break
		}

		spans := tokenPattern.FindAllStringIndex(rest, s.chunkSize)
		if len(spans) == 0 {
			break
		}
		chunk := rest[:spans[len(spans)-1][1]]

		if cut := strings.LastIndexAny(chunk, ".?!\n"); cut > s.minChunkSizeChars {
			chunk = chunk[:cut+1]
		}
		rest = rest[len(chunk):]

		piece := strings.TrimSpace(chunk)
		if !s.keepSeparator {
			piece = strings.ReplaceAll(piece, "\n", " ")
		}
		if len(piece) > s.minChunkLengthToEmbed {
			chunks = append(chunks, piece)
		}
	}
	return chunks
}
