package realtime

import (
	"context"
	"log/slog"
	"os"
	"time"

	"relay/cmd/internal/blobstore"
	"relay/cmd/internal/metrics"
	v1 "relay/shared/contracts/relay/v1"
)

// HistoryLog is the subset of *history.Log the relay needs.
type HistoryLog interface {
	HistoryAppender
	Load(ctx context.Context) []v1.Message
}

// HubConfig holds the per-relay media settings.
type HubConfig struct {
	// ContainerID scopes uploads. Media is refused while it is empty.
	ContainerID string
	// MaxMediaBytes caps one decoded upload (DefaultMaxMediaBytes when <= 0).
	MaxMediaBytes int64
	// SettleDelay is waited after an upload before broadcasting (0 disables).
	SettleDelay time.Duration
	// UploadTimeout bounds the whole upload sequence (0 relies on per-call store deadlines).
	UploadTimeout time.Duration
	// HistoryCapacity bounds the replay sent to joining clients (defaultReplayWindow when <= 0).
	HistoryCapacity int
}

// Hub owns the process-wide relay state shared by every connection.
// Persistence lives behind HistoryLog and blobstore.Store.
type Hub struct {
	log         *slog.Logger
	roster      *Roster
	registry    *Registry
	broadcaster *Broadcaster
	history     HistoryLog
	store       blobstore.Store
	metrics     *metrics.Metrics
	cfg         HubConfig
}

// NewHub wires the registry and broadcaster. history and store may be nil (live-only, no media).
func NewHub(log *slog.Logger, roster *Roster, history HistoryLog, store blobstore.Store, m *metrics.Metrics, cfg HubConfig) *Hub {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if roster == nil {
		roster = NewRoster()
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = DefaultMaxMediaBytes
	}

	registry := NewRegistry(log, roster, m)

	var appender HistoryAppender
	if history != nil {
		appender = history
	}

	return &Hub{
		log:         log,
		roster:      roster,
		registry:    registry,
		broadcaster: NewBroadcaster(log, registry, appender, WithBroadcastMetrics(m), WithReplayWindow(cfg.HistoryCapacity)),
		history:     history,
		store:       store,
		metrics:     m,
		cfg:         cfg,
	}
}

func (h *Hub) Roster() *Roster           { return h.roster }
func (h *Hub) Registry() *Registry       { return h.registry }
func (h *Hub) Broadcaster() *Broadcaster { return h.broadcaster }
func (h *Hub) Config() HubConfig         { return h.cfg }

// NewSession starts the protocol state machine for a freshly accepted client.
func (h *Hub) NewSession(client *Client) *Session {
	return &Session{
		hub:    h,
		client: client,
		log:    h.log.With("session_id", client.SessionID),
		now:    time.Now,
	}
}

func (h *Hub) loadHistory(ctx context.Context) []v1.Message {
	if h.history == nil {
		return []v1.Message{}
	}
	return h.history.Load(ctx)
}
