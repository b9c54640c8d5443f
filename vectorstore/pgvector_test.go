package vectorstore

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shaharia-lab/mcpbridge/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPGStore(t *testing.T) (*PGVectorStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS vector")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS docs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPGVectorStore(context.Background(), db, &keywordEmbedder{}, WithTable("docs"), WithDimensions(4))
	require.NoError(t, err)
	return store, mock
}

func TestNewPGVectorStore_InvalidOptions(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewPGVectorStore(context.Background(), db, &keywordEmbedder{}, WithTable("docs; DROP TABLE users"))
	assert.ErrorContains(t, err, "invalid table name")

	_, err = NewPGVectorStore(context.Background(), db, &keywordEmbedder{}, WithDimensions(0))
	assert.ErrorContains(t, err, "invalid vector dimensions")
}

func TestPGVectorStore_Add(t *testing.T) {
	store, mock := newMockPGStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO docs (id, content, metadata, embedding)")).
		WithArgs("a", "cat cat dog", `{"source":"pets"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO docs (id, content, metadata, embedding)")).
		WithArgs("b", "dog fish", `{}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.Add(context.Background(), []document.Document{
		{ID: "a", Content: "cat cat dog", Metadata: map[string]interface{}{"source": "pets"}},
		{ID: "b", Content: "dog fish"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_AddRollsBackOnFailure(t *testing.T) {
	store, mock := newMockPGStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO docs")).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.Add(context.Background(), []document.Document{{ID: "a", Content: "cat"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert document a")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_Search(t *testing.T) {
	store, mock := newMockPGStore(t)

	rows := sqlmock.NewRows([]string{"id", "content", "metadata", "score"}).
		AddRow("a", "cat cat dog", []byte(`{"source":"pets"}`), 0.89).
		AddRow("b", "dog fish", []byte(`{}`), 0.12)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, content, metadata, 1 - (embedding <=> $1) AS score")).
		WithArgs(sqlmock.AnyArg(), `{"source":"pets"}`, 0.1, 2).
		WillReturnRows(rows)

	docs, err := store.Search(context.Background(), SearchRequest{
		Query:     "cat",
		TopK:      2,
		Threshold: 0.1,
		Filter:    map[string]interface{}{"source": "pets"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, 0.89, docs[0].Score)
	assert.Equal(t, "pets", docs[0].Metadata["source"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorStore_DeleteAndCount(t *testing.T) {
	store, mock := newMockPGStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM docs WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM docs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	require.NoError(t, store.Delete(context.Background(), []string{"a", "b"}))
	require.NoError(t, store.Delete(context.Background(), nil))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
