package vectorstore

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3,
	})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.FlushDB(ctx)

	store := NewRedisStore(client, &keywordEmbedder{}, "test:docs:")
	require.NoError(t, store.Add(ctx, sampleDocs()))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	docs, err := store.Search(ctx, SearchRequest{Query: "dog", Threshold: 0.1})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, "pets", docs[0].Metadata["source"])

	require.NoError(t, store.Delete(ctx, []string{"a", "b"}))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	docs, err = store.Search(ctx, SearchRequest{Query: "car"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "c", docs[0].ID)
}
