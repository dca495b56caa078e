package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"relay/cmd/internal/ids"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps blobs and documents in an embedded BadgerDB.
//
// Key layout:
//
//	blob:{id}                     -> raw bytes
//	blobmeta:{id}                 -> JSON badgerBlobMeta
//	doc:{id}                      -> raw document bytes
//	docname:{container}:{name}    -> document id
//
// The store does NOT own the DB handle; the caller closes it.
type BadgerStore struct {
	db      *badger.DB
	baseURL string
}

type badgerBlobMeta struct {
	Name      string    `json:"name"`
	Container string    `json:"container"`
	MimeType  string    `json:"mime_type"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
}

// OpenBadger opens (or creates) a BadgerDB directory with quiet logging.
func OpenBadger(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	return db, nil
}

// NewBadgerStore wraps an open DB.
func NewBadgerStore(db *badger.DB, baseURL string) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("blobstore: nil badger db")
	}
	return &BadgerStore{db: db, baseURL: baseURL}, nil
}

// Upload writes blob bytes and metadata in one transaction.
func (s *BadgerStore) Upload(ctx context.Context, name, mimeType string, data []byte, containerID string) (StorageRef, error) {
	if name == "" || containerID == "" {
		return StorageRef{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return StorageRef{}, err
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return StorageRef{}, err
	}

	meta, err := json.Marshal(badgerBlobMeta{
		Name:      name,
		Container: containerID,
		MimeType:  mimeType,
		CreatedAt: now,
	})
	if err != nil {
		return StorageRef{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blobKey(id), data); err != nil {
			return err
		}
		return txn.Set(blobMetaKey(id), meta)
	})
	if err != nil {
		return StorageRef{}, fmt.Errorf("store blob: %w", err)
	}

	return localRef(s.baseURL, id), nil
}

// SetPublicRead rewrites the blob metadata with the public flag set.
func (s *BadgerStore) SetPublicRead(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		meta, err := readBlobMeta(txn, id)
		if err != nil {
			return err
		}
		meta.Public = true
		b, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return txn.Set(blobMetaKey(id), b)
	})
}

// OpenBlob reads blob bytes and metadata.
func (s *BadgerStore) OpenBlob(ctx context.Context, id string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}

	var out Blob
	err := s.db.View(func(txn *badger.Txn) error {
		meta, err := readBlobMeta(txn, id)
		if err != nil {
			return err
		}
		data, err := readValue(txn, blobKey(id))
		if err != nil {
			return err
		}
		out = Blob{
			ID:       id,
			Name:     meta.Name,
			MimeType: meta.MimeType,
			Data:     data,
			Public:   meta.Public,
		}
		return nil
	})
	return out, err
}

// GetDocument reads a document body.
func (s *BadgerStore) GetDocument(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		data, err := readValue(txn, docKey(id))
		out = data
		return err
	})
	return out, err
}

// PutDocument replaces an existing document body.
func (s *BadgerStore) PutDocument(ctx context.Context, id string, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(docKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Set(docKey(id), data)
	})
}

// FindDocumentByName resolves the name index.
func (s *BadgerStore) FindDocumentByName(ctx context.Context, name, containerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := readValue(txn, docNameKey(containerID, name))
		id = string(v)
		return err
	})
	return id, err
}

// CreateDocument writes the document and its name index atomically. An existing name wins.
func (s *BadgerStore) CreateDocument(ctx context.Context, name, containerID string, initial []byte) (string, error) {
	if name == "" {
		return "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return "", err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		existing, err := readValue(txn, docNameKey(containerID, name))
		if err == nil {
			id = string(existing)
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.Set(docKey(id), initial); err != nil {
			return err
		}
		return txn.Set(docNameKey(containerID, name), []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	return id, nil
}

func readBlobMeta(txn *badger.Txn, id string) (badgerBlobMeta, error) {
	raw, err := readValue(txn, blobMetaKey(id))
	if err != nil {
		return badgerBlobMeta{}, err
	}
	var meta badgerBlobMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return badgerBlobMeta{}, fmt.Errorf("decode blob meta: %w", err)
	}
	return meta, nil
}

func readValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func blobKey(id string) []byte     { return []byte("blob:" + id) }
func blobMetaKey(id string) []byte { return []byte("blobmeta:" + id) }
func docKey(id string) []byte      { return []byte("doc:" + id) }

func docNameKey(containerID, name string) []byte {
	return []byte("docname:" + containerID + ":" + name)
}

var (
	_ Store      = (*BadgerStore)(nil)
	_ BlobReader = (*BadgerStore)(nil)
)
