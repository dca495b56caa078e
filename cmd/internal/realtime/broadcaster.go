package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"relay/cmd/internal/ids"
	"relay/cmd/internal/metrics"
	v1 "relay/shared/contracts/relay/v1"
)

// HistoryAppender persists accepted messages. *history.Log satisfies it.
type HistoryAppender interface {
	Append(ctx context.Context, msg v1.Message) error
}

// PublishResult reports what happened to one published message.
type PublishResult struct {
	Message   v1.Message
	Persisted bool
	Delivered int
}

// Broadcaster stamps, persists and fans out messages to every ready client.
//
// The publish lock spans stamp, append and fan-out so history order equals live delivery order.
// Fan-out never blocks: full or closed queues drop the frame for that client only.
type Broadcaster struct {
	log      *slog.Logger
	registry *Registry
	history  HistoryAppender
	metrics  *metrics.Metrics

	now   func() time.Time
	newID func(time.Time) string

	mu     sync.Mutex
	seq    uint64       // messages published so far
	recent []v1.Message // last window published messages, oldest first
	window int
}

// defaultReplayWindow matches the default history capacity.
const defaultReplayWindow = 100

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithClock overrides the acceptance clock.
func WithClock(now func() time.Time) BroadcasterOption {
	return func(b *Broadcaster) {
		if now != nil {
			b.now = now
		}
	}
}

// WithBroadcastMetrics attaches metrics.
func WithBroadcastMetrics(m *metrics.Metrics) BroadcasterOption {
	return func(b *Broadcaster) { b.metrics = m }
}

// WithReplayWindow sets how many recently published messages are kept for joining clients. It
// should equal the history capacity.
func WithReplayWindow(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.window = n
		}
	}
}

// NewBroadcaster constructs a Broadcaster. history may be nil (live-only relay).
func NewBroadcaster(log *slog.Logger, registry *Registry, history HistoryAppender, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		log:      log,
		registry: registry,
		history:  history,
		now:      time.Now,
		newID:    ids.MustULID,
		window:   defaultReplayWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Join replays history to a joining client without holding the publish lock across the load.
//
// load runs unlocked. attach then runs with publishing paused and receives the loaded history
// plus every message published while load was running, so the replay and the live stream that
// starts after attach neither overlap nor leave a gap.
func (b *Broadcaster) Join(load func() []v1.Message, attach func(replay []v1.Message)) {
	b.mu.Lock()
	mark := b.seq
	b.mu.Unlock()

	loaded := load()

	b.mu.Lock()
	defer b.mu.Unlock()
	attach(b.mergeSince(mark, loaded))
}

// mergeSince appends the messages published after mark that loaded does not already contain,
// keeping at most window entries. Caller holds b.mu.
func (b *Broadcaster) mergeSince(mark uint64, loaded []v1.Message) []v1.Message {
	missed := b.seq - mark
	if missed == 0 {
		return loaded
	}
	if missed > uint64(len(b.recent)) {
		// More than a full window was published during the load; the window is the newest history.
		return append([]v1.Message{}, b.recent...)
	}

	seen := make(map[string]struct{}, len(loaded))
	for _, m := range loaded {
		seen[m.ID] = struct{}{}
	}
	out := append([]v1.Message{}, loaded...)
	for _, m := range b.recent[len(b.recent)-int(missed):] {
		if _, ok := seen[m.ID]; !ok {
			out = append(out, m)
		}
	}
	if len(out) > b.window {
		out = out[len(out)-b.window:]
	}
	return out
}

// Publish accepts msg, appends it to history (best-effort) and delivers it to every ready client,
// the sender included. A history failure is logged and counted; it never prevents delivery.
func (b *Broadcaster) Publish(ctx context.Context, msg v1.Message) PublishResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	at := b.now()
	msg = msg.Stamped(b.newID(at), at)
	res := PublishResult{Message: msg}

	b.seq++
	b.recent = append(b.recent, msg)
	if len(b.recent) > b.window {
		b.recent = append(b.recent[:0:0], b.recent[len(b.recent)-b.window:]...)
	}

	if b.history != nil {
		if err := b.history.Append(ctx, msg); err != nil {
			b.metrics.HistoryPersistFailed()
			b.log.Warn("history.append.fail", "message_id", msg.ID, "user_id", msg.UserID, "err", err)
		} else {
			res.Persisted = true
		}
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("broadcast.encode.fail", "message_id", msg.ID, "err", err)
		return res
	}

	res.Delivered = b.registry.ForEachReady(func(c *Client) error {
		err := c.Enqueue(frame)
		if err != nil {
			b.metrics.DeliveryDropped()
			if errors.Is(err, ErrClientClosed) {
				b.registry.Detach(c.Identity(), c)
			}
		}
		return err
	})

	b.metrics.Published(msg.MessageType)
	b.log.Info("broadcast.publish",
		"message_id", msg.ID,
		"user_id", msg.UserID,
		"message_type", msg.MessageType,
		"persisted", res.Persisted,
		"delivered", res.Delivered,
	)
	return res
}
