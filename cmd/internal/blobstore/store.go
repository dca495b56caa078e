// Package blobstore contains the remote object store used by the relay: a blob bucket for media
// uploads plus small named JSON documents (the history log).
//
// Backends:
//   - MemoryStore: dev/test fallback, lost on restart
//   - BadgerStore: single-node durable store on local disk
//   - PostgresStore: pgx-backed tables
//   - DriveStore: Google Drive folder (the production deployment)
//
// Every backend is treated as a blocking remote dependency; callers bound each call with
// WithTimeout.
package blobstore

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrNotFound is returned when a document or blob does not exist.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrUnsupported is returned by decorators when the wrapped backend lacks an optional capability.
	ErrUnsupported = errors.New("blobstore: unsupported operation")
	// ErrInvalidInput is returned for empty names, ids or containers.
	ErrInvalidInput = errors.New("blobstore: invalid input")
)

// StorageRef identifies an uploaded blob. It is immutable once returned.
type StorageRef struct {
	ID string
	// URL is a viewer/landing URL for the blob.
	URL string
	// DirectURL is a URL that serves the raw content (suitable for <img src>).
	DirectURL string
}

// Store is the collaborator interface used by HistoryLog and the session handler.
type Store interface {
	// Upload stores data as a new blob inside containerID.
	Upload(ctx context.Context, name, mimeType string, data []byte, containerID string) (StorageRef, error)
	// SetPublicRead makes a blob readable without credentials.
	SetPublicRead(ctx context.Context, id string) error

	// GetDocument returns the content of a document, or ErrNotFound.
	GetDocument(ctx context.Context, id string) ([]byte, error)
	// PutDocument replaces the content of an existing document.
	PutDocument(ctx context.Context, id string, data []byte) error
	// FindDocumentByName looks a document up by name within containerID, or returns ErrNotFound.
	FindDocumentByName(ctx context.Context, name, containerID string) (string, error)
	// CreateDocument creates a named document in containerID and returns its id.
	CreateDocument(ctx context.Context, name, containerID string, initial []byte) (string, error)
}

// Blob is a stored binary payload served back by the relay itself.
type Blob struct {
	ID       string
	Name     string
	MimeType string
	Data     []byte
	Public   bool
}

// BlobReader is implemented by backends whose blobs are served at /blobs/{id}.
type BlobReader interface {
	OpenBlob(ctx context.Context, id string) (Blob, error)
}

// RemoteError carries a backend-specific failure body that is safe to show to the uploader.
type RemoteError struct {
	Op      string
	Code    int
	Message string
	Body    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Op + ": remote error"
	}
	return e.Op + ": " + e.Message
}

// Details returns the raw remote response body, if any.
func (e *RemoteError) Details() string { return e.Body }

// BlobURL builds the URL under which the relay serves a locally stored blob.
// An empty base yields a root-relative path.
func BlobURL(baseURL, id string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return base + "/blobs/" + url.PathEscape(id)
}

func localRef(baseURL, id string) StorageRef {
	u := BlobURL(baseURL, id)
	return StorageRef{ID: id, URL: u, DirectURL: u}
}

func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	return nil
}
