package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFPageReader turns every non-empty page of a PDF file into a document.
type PDFPageReader struct {
	path string
}

// NewPDFPageReader creates a reader for the PDF at path.
func NewPDFPageReader(path string) *PDFPageReader {
	return &PDFPageReader{path: path}
}

func (r *PDFPageReader) Read(ctx context.Context) ([]Document, error) {
	f, reader, err := pdf.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", r.path, err)
	}
	defer f.Close()

	fileName := filepath.Base(r.path)
	var docs []Document
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d of %s: %w", i, fileName, err)
		}
		text = normalizeText(text)
		if strings.TrimSpace(text) == "" {
			continue
		}

		docs = append(docs, New(text, map[string]interface{}{
			MetaSource:     r.path,
			MetaFileName:   fileName,
			MetaPageNumber: i,
		}))
	}
	return docs, nil
}
