package blobstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"relay/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//
// Documents are unique per (container_id, name); blobs are bytea rows.
type PostgresStore struct {
	pool    *pgxpool.Pool
	schema  string
	baseURL string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "relay").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("blobstore: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("blobstore: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithBaseURL sets the public base URL used to build blob URLs.
func WithBaseURL(baseURL string) PostgresOption {
	return func(s *PostgresStore) error {
		s.baseURL = baseURL
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "relay",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("blobstore: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema and tables if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	blobs := pgIdent(s.schema, "blobs")
	docs := pgIdent(s.schema, "documents")

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + blobs + ` (
		   id           TEXT PRIMARY KEY,
		   name         TEXT NOT NULL,
		   container_id TEXT NOT NULL,
		   mime_type    TEXT NOT NULL DEFAULT '',
		   data         BYTEA NOT NULL,
		   public       BOOLEAN NOT NULL DEFAULT false,
		   created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + docs + ` (
		   id           TEXT PRIMARY KEY,
		   name         TEXT NOT NULL,
		   container_id TEXT NOT NULL,
		   data         BYTEA NOT NULL,
		   updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		   UNIQUE (container_id, name)
		 )`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Upload inserts a private blob row.
func (s *PostgresStore) Upload(ctx context.Context, name, mimeType string, data []byte, containerID string) (StorageRef, error) {
	if name == "" || containerID == "" {
		return StorageRef{}, ErrInvalidInput
	}

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return StorageRef{}, err
	}

	blobs := pgIdent(s.schema, "blobs")
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+blobs+` (id, name, container_id, mime_type, data) VALUES ($1, $2, $3, $4, $5)`,
		id, name, containerID, mimeType, data,
	); err != nil {
		return StorageRef{}, fmt.Errorf("insert blob: %w", err)
	}

	return localRef(s.baseURL, id), nil
}

// SetPublicRead flips the public flag of a blob.
func (s *PostgresStore) SetPublicRead(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}

	blobs := pgIdent(s.schema, "blobs")
	tag, err := s.pool.Exec(ctx, `UPDATE `+blobs+` SET public = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// OpenBlob reads one blob row.
func (s *PostgresStore) OpenBlob(ctx context.Context, id string) (Blob, error) {
	blobs := pgIdent(s.schema, "blobs")

	b := Blob{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT name, mime_type, data, public FROM `+blobs+` WHERE id = $1`, id,
	).Scan(&b.Name, &b.MimeType, &b.Data, &b.Public)
	if errors.Is(err, pgx.ErrNoRows) {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, err
	}
	return b, nil
}

// GetDocument reads a document body.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) ([]byte, error) {
	docs := pgIdent(s.schema, "documents")

	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM `+docs+` WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// PutDocument replaces a document body.
func (s *PostgresStore) PutDocument(ctx context.Context, id string, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}

	docs := pgIdent(s.schema, "documents")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+docs+` SET data = $2, updated_at = now() WHERE id = $1`, id, data,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindDocumentByName looks up the document id for (containerID, name).
func (s *PostgresStore) FindDocumentByName(ctx context.Context, name, containerID string) (string, error) {
	docs := pgIdent(s.schema, "documents")

	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM `+docs+` WHERE container_id = $1 AND name = $2`, containerID, name,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// CreateDocument inserts a named document. A concurrent creator of the same name wins and its id
// is returned.
func (s *PostgresStore) CreateDocument(ctx context.Context, name, containerID string, initial []byte) (string, error) {
	if name == "" {
		return "", ErrInvalidInput
	}

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return "", err
	}

	docs := pgIdent(s.schema, "documents")

	var out string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+docs+` (id, name, container_id, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (container_id, name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		id, name, containerID, initial,
	).Scan(&out)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

var (
	_ Store      = (*PostgresStore)(nil)
	_ BlobReader = (*PostgresStore)(nil)
)
