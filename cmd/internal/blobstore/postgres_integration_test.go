package blobstore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"relay/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Integration tests are enabled when RELAY_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_DocumentLifecycle(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	store := mustNewTestStore(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := store.FindDocumentByName(ctx, "chat-history.json", "folder-1")
	require.ErrorIs(t, err, ErrNotFound)

	id, err := store.CreateDocument(ctx, "chat-history.json", "folder-1", []byte("[]"))
	require.NoError(t, err)

	found, err := store.FindDocumentByName(ctx, "chat-history.json", "folder-1")
	require.NoError(t, err)
	require.Equal(t, id, found)

	// Creating the same name again resolves to the existing document.
	again, err := store.CreateDocument(ctx, "chat-history.json", "folder-1", []byte("[]"))
	require.NoError(t, err)
	require.Equal(t, id, again)

	require.NoError(t, store.PutDocument(ctx, id, []byte(`[{"type":"message"}]`)))

	got, err := store.GetDocument(ctx, id)
	require.NoError(t, err)
	require.JSONEq(t, `[{"type":"message"}]`, string(got))

	require.ErrorIs(t, store.PutDocument(ctx, "missing", []byte("[]")), ErrNotFound)
}

func TestPostgresStore_UploadAndPublish(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	store := mustNewTestStore(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ref, err := store.Upload(ctx, "1700000000000_cat.png", "image/png", []byte{0x89, 'P', 'N', 'G'}, "folder-1")
	require.NoError(t, err)
	require.Equal(t, "https://relay.example.com/blobs/"+ref.ID, ref.URL)

	blob, err := store.OpenBlob(ctx, ref.ID)
	require.NoError(t, err)
	require.False(t, blob.Public)

	require.NoError(t, store.SetPublicRead(ctx, ref.ID))

	blob, err = store.OpenBlob(ctx, ref.ID)
	require.NoError(t, err)
	require.True(t, blob.Public)
	require.Equal(t, "image/png", blob.MimeType)

	require.ErrorIs(t, store.SetPublicRead(ctx, "missing"), ErrNotFound)
}

func mustNewTestStore(t *testing.T, pool *pgxpool.Pool) *PostgresStore {
	t.Helper()

	schema := "relay_it_" + strings.ToLower(ids.MustULID(time.Now()))
	st, err := NewPostgresStore(pool, WithSchema(schema), WithBaseURL("https://relay.example.com"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, st.EnsureSchema(ctx))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("RELAY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: RELAY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	require.NoError(t, err, "parse RELAY_DATABASE_URL")

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err, "connect postgres")

	c, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()
	return pool
}
