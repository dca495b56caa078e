package blobstore

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single remote call when no explicit value is configured.
const DefaultTimeout = 15 * time.Second

// WithTimeout wraps s so that every call runs under its own deadline. An expired deadline surfaces
// as context.DeadlineExceeded to the caller instead of hanging the connection handler.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutStore{next: s, d: d}
}

type timeoutStore struct {
	next Store
	d    time.Duration
}

func (t *timeoutStore) Upload(ctx context.Context, name, mimeType string, data []byte, containerID string) (StorageRef, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Upload(ctx, name, mimeType, data, containerID)
}

func (t *timeoutStore) SetPublicRead(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.SetPublicRead(ctx, id)
}

func (t *timeoutStore) GetDocument(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.GetDocument(ctx, id)
}

func (t *timeoutStore) PutDocument(ctx context.Context, id string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.PutDocument(ctx, id, data)
}

func (t *timeoutStore) FindDocumentByName(ctx context.Context, name, containerID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.FindDocumentByName(ctx, name, containerID)
}

func (t *timeoutStore) CreateDocument(ctx context.Context, name, containerID string, initial []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.CreateDocument(ctx, name, containerID, initial)
}

func (t *timeoutStore) OpenBlob(ctx context.Context, id string) (Blob, error) {
	r, ok := t.next.(BlobReader)
	if !ok {
		return Blob{}, ErrUnsupported
	}
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return r.OpenBlob(ctx, id)
}
