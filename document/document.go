// Package document loads text from web pages and PDF files and splits it into
// chunks sized for embedding.
package document

import (
	"context"

	"github.com/google/uuid"
)

// Metadata keys set by the readers and the splitter.
const (
	MetaSource     = "source"
	MetaTitle      = "title"
	MetaFileName   = "file_name"
	MetaPageNumber = "page_number"
	MetaChunkIndex = "chunk_index"
	MetaParentID   = "parent_id"
)

// Document is a piece of text with free-form metadata. Score is only set on
// documents returned from a similarity search.
type Document struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Score    float64                `json:"score,omitempty"`
}

// New creates a document with a random ID.
func New(content string, metadata map[string]interface{}) Document {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return Document{
		ID:       uuid.New().String(),
		Content:  content,
		Metadata: metadata,
	}
}

// Reader produces documents from a single source.
type Reader interface {
	Read(ctx context.Context) ([]Document, error)
}

// Transformer rewrites a batch of documents, typically by splitting them.
type Transformer interface {
	Transform(ctx context.Context, docs []Document) ([]Document, error)
}

func copyMetadata(src map[string]interface{}, extra int) map[string]interface{} {
	dst := make(map[string]interface{}, len(src)+extra)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
