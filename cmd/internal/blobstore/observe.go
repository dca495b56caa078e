package blobstore

import (
	"context"
	"time"
)

// Observer receives the outcome of every store call.
type Observer func(op string, elapsed time.Duration, err error)

// Operation names reported to an Observer.
const (
	OpUpload             = "upload"
	OpSetPublicRead      = "set_public_read"
	OpGetDocument        = "get_document"
	OpPutDocument        = "put_document"
	OpFindDocumentByName = "find_document_by_name"
	OpCreateDocument     = "create_document"
	OpOpenBlob           = "open_blob"
)

// WithObserver wraps s and reports each call to obs. A nil observer returns s unchanged.
func WithObserver(s Store, obs Observer) Store {
	if obs == nil {
		return s
	}
	return &observedStore{next: s, obs: obs}
}

type observedStore struct {
	next Store
	obs  Observer
}

func (o *observedStore) done(op string, start time.Time, err error) {
	o.obs(op, time.Since(start), err)
}

func (o *observedStore) Upload(ctx context.Context, name, mimeType string, data []byte, containerID string) (ref StorageRef, err error) {
	defer func(start time.Time) { o.done(OpUpload, start, err) }(time.Now())
	return o.next.Upload(ctx, name, mimeType, data, containerID)
}

func (o *observedStore) SetPublicRead(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { o.done(OpSetPublicRead, start, err) }(time.Now())
	return o.next.SetPublicRead(ctx, id)
}

func (o *observedStore) GetDocument(ctx context.Context, id string) (data []byte, err error) {
	defer func(start time.Time) { o.done(OpGetDocument, start, err) }(time.Now())
	return o.next.GetDocument(ctx, id)
}

func (o *observedStore) PutDocument(ctx context.Context, id string, data []byte) (err error) {
	defer func(start time.Time) { o.done(OpPutDocument, start, err) }(time.Now())
	return o.next.PutDocument(ctx, id, data)
}

func (o *observedStore) FindDocumentByName(ctx context.Context, name, containerID string) (id string, err error) {
	defer func(start time.Time) { o.done(OpFindDocumentByName, start, err) }(time.Now())
	return o.next.FindDocumentByName(ctx, name, containerID)
}

func (o *observedStore) CreateDocument(ctx context.Context, name, containerID string, initial []byte) (id string, err error) {
	defer func(start time.Time) { o.done(OpCreateDocument, start, err) }(time.Now())
	return o.next.CreateDocument(ctx, name, containerID, initial)
}

func (o *observedStore) OpenBlob(ctx context.Context, id string) (b Blob, err error) {
	r, ok := o.next.(BlobReader)
	if !ok {
		return Blob{}, ErrUnsupported
	}
	defer func(start time.Time) { o.done(OpOpenBlob, start, err) }(time.Now())
	return r.OpenBlob(ctx, id)
}
