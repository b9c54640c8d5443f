package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shaharia-lab/mcpbridge/document"
)

const defaultRedisPrefix = "mcpbridge:doc:"

// RedisStore keeps each document in a hash under a key prefix and tracks the
// IDs in a set. Search loads every document and ranks in process.
type RedisStore struct {
	client   redis.UniversalClient
	embedder Embedder
	prefix   string
}

// NewRedisStore creates a store. An empty prefix selects the default.
func NewRedisStore(client redis.UniversalClient, embedder Embedder, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, embedder: embedder, prefix: prefix}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }
func (s *RedisStore) indexKey() string     { return s.prefix + "_ids" }

func (s *RedisStore) Add(ctx context.Context, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	vectors, err := embedDocuments(ctx, s.embedder, docs)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, d := range docs {
			meta, err := json.Marshal(nonNilMetadata(d.Metadata))
			if err != nil {
				return fmt.Errorf("failed to encode metadata of document %s: %w", d.ID, err)
			}
			vec, err := json.Marshal(vectors[i])
			if err != nil {
				return fmt.Errorf("failed to encode embedding of document %s: %w", d.ID, err)
			}
			pipe.HSet(ctx, s.key(d.ID), map[string]interface{}{
				"content":   d.Content,
				"metadata":  string(meta),
				"embedding": string(vec),
			})
			pipe.SAdd(ctx, s.indexKey(), d.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store documents: %w", err)
	}
	return nil
}

func (s *RedisStore) Search(ctx context.Context, req SearchRequest) ([]document.Document, error) {
	query, err := embedQuery(ctx, s.embedder, req.Query)
	if err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list document IDs: %w", err)
	}
	if len(ids) == 0 {
		return []document.Document{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	candidates := make([]candidate, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		c := candidate{doc: document.Document{ID: ids[i], Content: fields["content"]}}
		if err := json.Unmarshal([]byte(fields["metadata"]), &c.doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of document %s: %w", ids[i], err)
		}
		if err := json.Unmarshal([]byte(fields["embedding"]), &c.vector); err != nil {
			return nil, fmt.Errorf("failed to decode embedding of document %s: %w", ids[i], err)
		}
		candidates = append(candidates, c)
	}

	return rank(query, candidates, req), nil
}

func (s *RedisStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
		members[i] = id
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(n), nil
}
