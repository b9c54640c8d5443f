package document

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxHTMLBodySize = 16 << 20

// HTMLReader fetches a web page and keeps its visible text.
type HTMLReader struct {
	url        string
	httpClient *http.Client
}

// HTMLReaderOption configures an HTMLReader.
type HTMLReaderOption func(*HTMLReader)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTMLReaderOption {
	return func(r *HTMLReader) {
		r.httpClient = c
	}
}

// NewHTMLReader creates a reader for url.
func NewHTMLReader(url string, opts ...HTMLReaderOption) *HTMLReader {
	r := &HTMLReader{url: url, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read fetches the page and returns it as a single document.
func (r *HTMLReader) Read(ctx context.Context) ([]Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch %s: unexpected status code: %d", r.url, resp.StatusCode)
	}

	doc, err := ParseHTML(io.LimitReader(resp.Body, maxHTMLBodySize), r.url)
	if err != nil {
		return nil, err
	}
	return []Document{doc}, nil
}

// ParseHTML extracts the title and visible text of an HTML page. Script, style
// and noscript content is dropped.
func ParseHTML(rd io.Reader, source string) (Document, error) {
	root, err := html.Parse(rd)
	if err != nil {
		return Document{}, fmt.Errorf("failed to parse HTML from %s: %w", source, err)
	}

	var b strings.Builder
	var title string
	collectText(root, &b, &title)

	return New(normalizeText(b.String()), map[string]interface{}{
		MetaSource: source,
		MetaTitle:  strings.TrimSpace(title),
	}), nil
}

func collectText(n *html.Node, b *strings.Builder, title *string) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		case atom.Title:
			if *title == "" && n.FirstChild != nil {
				*title = n.FirstChild.Data
			}
			return
		}
	}

	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b, title)
	}

	if n.Type == html.ElementNode && isBlock(n.DataAtom) {
		b.WriteByte('\n')
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.Section, atom.Article,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Header, atom.Footer, atom.Blockquote, atom.Pre, atom.Table, atom.Ul, atom.Ol:
		return true
	}
	return false
}

// normalizeText collapses runs of spaces inside each line and drops blank lines.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}
