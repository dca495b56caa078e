package blobstore

import (
	"context"
	"sync"
	"time"

	"relay/cmd/internal/ids"
)

// MemoryStore is a dev-only fallback when no remote store is configured.
// It is also the reference behaviour for tests of HistoryLog and the session handler.
type MemoryStore struct {
	baseURL string

	mu    sync.Mutex
	blobs map[string]Blob
	docs  map[string]memDoc
}

type memDoc struct {
	name      string
	container string
	data      []byte
}

// NewMemoryStore constructs an in-memory Store. baseURL prefixes blob URLs (see BlobURL).
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: baseURL,
		blobs:   make(map[string]Blob),
		docs:    make(map[string]memDoc),
	}
}

// Upload stores a copy of data as a private blob.
func (s *MemoryStore) Upload(ctx context.Context, name, mimeType string, data []byte, containerID string) (StorageRef, error) {
	if name == "" || containerID == "" {
		return StorageRef{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return StorageRef{}, err
	}

	id := ids.MustULID(time.Now().UTC())

	s.mu.Lock()
	s.blobs[id] = Blob{
		ID:       id,
		Name:     name,
		MimeType: mimeType,
		Data:     append([]byte(nil), data...),
	}
	s.mu.Unlock()

	return localRef(s.baseURL, id), nil
}

// SetPublicRead marks a blob as servable.
func (s *MemoryStore) SetPublicRead(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[id]
	if !ok {
		return ErrNotFound
	}
	b.Public = true
	s.blobs[id] = b
	return nil
}

// OpenBlob returns a copy of a stored blob.
func (s *MemoryStore) OpenBlob(ctx context.Context, id string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[id]
	if !ok {
		return Blob{}, ErrNotFound
	}
	b.Data = append([]byte(nil), b.Data...)
	return b, nil
}

// GetDocument returns a copy of the document content.
func (s *MemoryStore) GetDocument(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), d.data...), nil
}

// PutDocument replaces the document content.
func (s *MemoryStore) PutDocument(ctx context.Context, id string, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	d.data = append([]byte(nil), data...)
	s.docs[id] = d
	return nil
}

// FindDocumentByName scans documents of containerID for name.
func (s *MemoryStore) FindDocumentByName(ctx context.Context, name, containerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, d := range s.docs {
		if d.name == name && d.container == containerID {
			return id, nil
		}
	}
	return "", ErrNotFound
}

// CreateDocument stores a new named document.
func (s *MemoryStore) CreateDocument(ctx context.Context, name, containerID string, initial []byte) (string, error) {
	if name == "" {
		return "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := ids.MustULID(time.Now().UTC())

	s.mu.Lock()
	s.docs[id] = memDoc{
		name:      name,
		container: containerID,
		data:      append([]byte(nil), initial...),
	}
	s.mu.Unlock()

	return id, nil
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ BlobReader = (*MemoryStore)(nil)
)
