// Package history keeps the bounded, ordered message log that is replayed to newly
// authenticated connections. The log lives in a single JSON document of a blobstore.Store.
//
// Concurrency model:
//   - Append and Clear are serialized by a writer lock (single process, single writer).
//   - Load takes no lock; a concurrent reader sees either the previous or the next document.
//   - The remote store gives no transactional guarantee; concurrent external writers are unsupported.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	v1 "relay/shared/contracts/relay/v1"

	"relay/cmd/internal/blobstore"
)

const (
	// DefaultCapacity is the maximum number of retained messages.
	DefaultCapacity = 100
	// DefaultDocument is the name of the history document inside the container.
	DefaultDocument = "chat-history.json"
)

var (
	// ErrStoreInitFailed means the backing document could not be located or created.
	ErrStoreInitFailed = errors.New("history: store init failed")
	// ErrHistoryPersistFailed means an append or clear could not be written.
	ErrHistoryPersistFailed = errors.New("history: persist failed")

	errCorruptDocument = errors.New("history: corrupt document")
)

// Status is a read-only summary for status endpoints.
type Status struct {
	DocumentID   string `json:"fileId"`
	MessageCount int    `json:"messageCount"`
	Capacity     int    `json:"capacity"`
	Status       string `json:"status"`
}

// Log is the HistoryLog. The zero value is not usable; use New.
type Log struct {
	log       *slog.Logger
	store     blobstore.Store
	container string
	name      string
	capacity  int

	initMu sync.Mutex

	mu    sync.RWMutex
	docID string

	writeMu sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithCapacity overrides DefaultCapacity. Values < 1 are ignored.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n >= 1 {
			l.capacity = n
		}
	}
}

// WithDocument overrides DefaultDocument.
func WithDocument(name string) Option {
	return func(l *Log) {
		if name != "" {
			l.name = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Log) {
		if log != nil {
			l.log = log
		}
	}
}

// New constructs a Log over store, scoped to containerID.
func New(store blobstore.Store, containerID string, opts ...Option) *Log {
	l := &Log{
		log:       slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
		store:     store,
		container: containerID,
		name:      DefaultDocument,
		capacity:  DefaultCapacity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Capacity returns the configured maximum length.
func (l *Log) Capacity() int { return l.capacity }

// DocumentID returns the backing document id, or "" while uninitialized.
func (l *Log) DocumentID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.docID
}

// Ready reports whether the backing document has been located.
func (l *Log) Ready() bool { return l.DocumentID() != "" }

// Initialize locates the history document or creates it with an empty array.
// It is safe to call repeatedly; once it succeeds later calls are no-ops.
func (l *Log) Initialize(ctx context.Context) error {
	l.initMu.Lock()
	defer l.initMu.Unlock()

	if l.DocumentID() != "" {
		return nil
	}

	id, err := l.store.FindDocumentByName(ctx, l.name, l.container)
	switch {
	case err == nil:
		l.log.Info("history.document.found", "document_id", id, "name", l.name)
	case errors.Is(err, blobstore.ErrNotFound):
		id, err = l.store.CreateDocument(ctx, l.name, l.container, []byte("[]"))
		if err != nil {
			return fmt.Errorf("%w: create %s: %w", ErrStoreInitFailed, l.name, err)
		}
		l.log.Info("history.document.created", "document_id", id, "name", l.name)
	default:
		return fmt.Errorf("%w: find %s: %w", ErrStoreInitFailed, l.name, err)
	}

	l.mu.Lock()
	l.docID = id
	l.mu.Unlock()
	return nil
}

// Load returns the persisted history, oldest first. It never fails: a missing document, an
// unreachable store or a corrupt document all yield an empty slice (logged).
func (l *Log) Load(ctx context.Context) []v1.Message {
	msgs, err := l.fetch(ctx)
	if err != nil {
		l.log.Warn("history.load.fail", "err", err)
		return []v1.Message{}
	}
	if msgs == nil {
		msgs = []v1.Message{}
	}
	return msgs
}

// Append adds msg as the newest entry, evicting the oldest entries beyond capacity.
//
// It is a read-modify-write against the remote document. A failed read is reported without
// touching the document; a corrupt or vanished document is replaced.
func (l *Log) Append(ctx context.Context, msg v1.Message) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	msgs, err := l.fetch(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errCorruptDocument), errors.Is(err, blobstore.ErrNotFound):
		l.log.Warn("history.document.replace", "err", err)
		msgs = nil
	default:
		return fmt.Errorf("%w: %w", ErrHistoryPersistFailed, err)
	}

	if len(msgs) >= l.capacity {
		msgs = msgs[len(msgs)-(l.capacity-1):]
	}
	msgs = append(msgs, msg)

	if err := l.write(ctx, msgs); err != nil {
		return fmt.Errorf("%w: %w", ErrHistoryPersistFailed, err)
	}
	return nil
}

// Clear overwrites the document with an empty history.
func (l *Log) Clear(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.write(ctx, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrHistoryPersistFailed, err)
	}
	l.log.Info("history.cleared", "document_id", l.DocumentID())
	return nil
}

// Status summarizes the log. It attempts a lazy initialization like Load.
func (l *Log) Status(ctx context.Context) Status {
	msgs := l.Load(ctx)

	st := Status{
		DocumentID:   l.DocumentID(),
		MessageCount: len(msgs),
		Capacity:     l.capacity,
		Status:       "not initialized",
	}
	if st.DocumentID != "" {
		st.Status = "active"
	}
	return st
}

func (l *Log) fetch(ctx context.Context) ([]v1.Message, error) {
	id, err := l.documentID(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := l.store.GetDocument(ctx, id)
	if errors.Is(err, blobstore.ErrNotFound) {
		// The document was removed out of band; recreate it on next access.
		l.forget(id)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	var msgs []v1.Message
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("%w: %w", errCorruptDocument, err)
		}
	}

	if len(msgs) > l.capacity {
		msgs = msgs[len(msgs)-l.capacity:]
	}
	return msgs, nil
}

func (l *Log) write(ctx context.Context, msgs []v1.Message) error {
	id, err := l.documentID(ctx)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []v1.Message{}
	}

	raw, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return l.store.PutDocument(ctx, id, raw)
}

func (l *Log) documentID(ctx context.Context) (string, error) {
	if id := l.DocumentID(); id != "" {
		return id, nil
	}
	if err := l.Initialize(ctx); err != nil {
		return "", err
	}
	return l.DocumentID(), nil
}

func (l *Log) forget(id string) {
	l.mu.Lock()
	if l.docID == id {
		l.docID = ""
	}
	l.mu.Unlock()
}
