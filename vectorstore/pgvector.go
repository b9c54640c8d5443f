package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/shaharia-lab/mcpbridge/document"
	"github.com/shaharia-lab/mcpbridge/observability"
)

const (
	defaultPGTable      = "mcpbridge_documents"
	defaultPGDimensions = 1536
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PGVectorStore stores documents in PostgreSQL using the pgvector extension and
// searches them by cosine distance.
type PGVectorStore struct {
	db         *sql.DB
	embedder   Embedder
	table      string
	dimensions int
	logger     observability.Logger
}

// PGOption configures a PGVectorStore.
type PGOption func(*PGVectorStore)

// WithTable sets the table name.
func WithTable(name string) PGOption {
	return func(s *PGVectorStore) { s.table = name }
}

// WithDimensions sets the vector size of the embedding column.
func WithDimensions(n int) PGOption {
	return func(s *PGVectorStore) { s.dimensions = n }
}

// WithPGLogger sets the logger.
func WithPGLogger(l observability.Logger) PGOption {
	return func(s *PGVectorStore) { s.logger = l }
}

// NewPGVectorStore creates the store and makes sure its schema exists.
func NewPGVectorStore(ctx context.Context, db *sql.DB, embedder Embedder, opts ...PGOption) (*PGVectorStore, error) {
	s := &PGVectorStore{
		db:         db,
		embedder:   embedder,
		table:      defaultPGTable,
		dimensions: defaultPGDimensions,
		logger:     observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !identifierPattern.MatchString(s.table) {
		return nil, fmt.Errorf("invalid table name %q", s.table)
	}
	if s.dimensions <= 0 {
		return nil, fmt.Errorf("invalid vector dimensions: %d", s.dimensions)
	}

	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
	}
	return s, nil
}

func (s *PGVectorStore) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		embedding vector(%d) NOT NULL
	)`, s.table, s.dimensions)
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}

	s.logger.WithFields(map[string]interface{}{"table": s.table, "dimensions": s.dimensions}).Debug("vector schema ready")
	return nil
}

func (s *PGVectorStore) Add(ctx context.Context, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	vectors, err := embedDocuments(ctx, s.embedder, docs)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := fmt.Sprintf(`INSERT INTO %s (id, content, metadata, embedding) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, s.table)

	for i, d := range docs {
		meta, err := json.Marshal(nonNilMetadata(d.Metadata))
		if err != nil {
			return fmt.Errorf("failed to encode metadata of document %s: %w", d.ID, err)
		}
		if _, err := tx.ExecContext(ctx, insert, d.ID, d.Content, string(meta), pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("failed to insert document %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// Search orders by cosine distance in the database. Filter uses JSONB
// containment, so values are compared with their JSON types.
func (s *PGVectorStore) Search(ctx context.Context, req SearchRequest) ([]document.Document, error) {
	query, err := embedQuery(ctx, s.embedder, req.Query)
	if err != nil {
		return nil, err
	}

	filter, err := json.Marshal(nonNilMetadata(req.Filter))
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}

	q := fmt.Sprintf(`SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE metadata @> $2::jsonb AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4`, s.table)

	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(query), string(filter), req.Threshold, req.topK())
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	var results []document.Document
	for rows.Next() {
		var d document.Document
		var meta []byte
		if err := rows.Scan(&d.ID, &d.Content, &meta, &d.Score); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &d.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of document %s: %w", d.ID, err)
			}
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document rows: %w", err)
	}
	return results, nil
}

func (s *PGVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table)
	if _, err := s.db.ExecContext(ctx, q, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func nonNilMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
