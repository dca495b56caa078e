package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"relay/cmd/internal/blobstore"
	v1 "relay/shared/contracts/relay/v1"
)

// Local error texts sent to the offending connection only.
const (
	errTextInvalidUser       = "Invalid user"
	errTextNotAuthenticated  = "Not authenticated"
	errTextAlreadyAuthed     = "Already authenticated"
	errTextTooManyMessages   = "Too many messages"
	errTextProcessPrefix     = "Failed to process message: "
	errTextUploadPrefix      = "Upload failed: "
	errTextMediaUnconfigured = "media storage is not configured"
)

// SessionState is the protocol state of one connection.
type SessionState uint8

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session drives the per-connection protocol: Unauthenticated -> Authenticated -> Closed.
// HandleFrame must be called sequentially from the connection read loop. Close may be called
// from any goroutine.
type Session struct {
	hub    *Hub
	client *Client
	log    *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    SessionState
	identity string
}

// State returns the current protocol state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the authenticated participant, or "".
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// HandleFrame processes one inbound frame. Failures are reported to the client as local frames;
// the returned error is informational (logging, tests) and never requires closing the connection.
func (s *Session) HandleFrame(ctx context.Context, data []byte) error {
	in, err := decodeInbound(data)
	s.hub.metrics.FrameReceived(in.Type)
	if in.Type == v1.TypeMessage && s.State() != StateAuthenticated {
		s.replyError(errTextNotAuthenticated, "")
		return ErrNotAuthenticated
	}
	if err != nil {
		s.replyError(errTextProcessPrefix+strings.TrimPrefix(err.Error(), ErrMalformedFrame.Error()+": "), "")
		return err
	}

	switch in.Type {
	case v1.TypeAuth:
		return s.onAuth(ctx, in)
	case v1.TypeMessage:
		if in.MessageType == v1.MessageTypeMedia {
			return s.onMedia(ctx, in)
		}
		return s.onText(ctx, in)
	default:
		s.replyError(errTextProcessPrefix+fmt.Sprintf("unknown type: %q", in.Type), "")
		return ErrMalformedFrame
	}
}

// RejectRateLimited reports a rate limit violation to the client. The connection is kept.
func (s *Session) RejectRateLimited() {
	s.hub.metrics.RateLimited()
	s.replyError(errTextTooManyMessages, "")
}

// Close moves the session to Closed and detaches it from the registry if it still owns its
// identity's slot. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	wasAuthed := s.state == StateAuthenticated
	identity := s.identity
	s.state = StateClosed
	s.mu.Unlock()

	s.client.Close()
	if wasAuthed {
		s.hub.registry.Detach(identity, s.client)
	}
}

func (s *Session) onAuth(ctx context.Context, in v1.Inbound) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateAuthenticated:
		s.replyError(errTextAlreadyAuthed, "")
		return ErrAlreadyAuthenticated
	case StateClosed:
		return ErrClientClosed
	}

	id := in.UserID
	if !s.hub.roster.Contains(id) {
		s.log.Info("ws.auth.reject", "user_id", id)
		s.reply(v1.NewAuthError(errTextInvalidUser))
		return fmt.Errorf("%w: %q", ErrAuthRejected, id)
	}

	// The history load runs without the publish lock; Join merges in anything published meanwhile
	// so every message is seen exactly once, either replayed or live.
	var registered bool
	s.hub.broadcaster.Join(
		func() []v1.Message { return s.hub.loadHistory(ctx) },
		func(msgs []v1.Message) {
			s.mu.Lock()
			if s.state == StateClosed {
				s.mu.Unlock()
				return
			}
			s.state = StateAuthenticated
			s.identity = id
			s.mu.Unlock()

			s.client.setIdentity(id)
			s.reply(v1.NewAuthSuccess())
			s.reply(v1.NewChatHistory(msgs))
			registered = s.hub.registry.Register(id, s.client)
		},
	)
	if !registered {
		return ErrClientClosed
	}
	if s.client.Closed() {
		// Close raced the registration above.
		s.hub.registry.Detach(id, s.client)
		return ErrClientClosed
	}

	s.log = s.log.With("user_id", id)
	s.log.Info("ws.auth.ok")
	return nil
}

func (s *Session) onText(ctx context.Context, in v1.Inbound) error {
	// Whitespace-only text is rejected, but accepted content is relayed exactly as sent.
	f := textFrame{Content: in.Content}
	if strings.TrimSpace(f.Content) == "" {
		f.Content = ""
	}
	if err := validateFrame(f); err != nil {
		s.replyError(errTextProcessPrefix+err.Error(), "")
		return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	s.hub.broadcaster.Publish(context.WithoutCancel(ctx), v1.NewTextMessage(s.Identity(), f.Content))
	return nil
}

func (s *Session) onMedia(ctx context.Context, in v1.Inbound) error {
	cfg := s.hub.cfg
	if s.hub.store == nil || strings.TrimSpace(cfg.ContainerID) == "" {
		s.replyError(errTextUploadPrefix+errTextMediaUnconfigured, "")
		return fmt.Errorf("%w: %s", ErrUploadFailed, errTextMediaUnconfigured)
	}

	f := mediaFrame{
		FileName: strings.TrimSpace(in.FileName),
		MimeType: strings.TrimSpace(in.MimeType),
		Content:  in.Content,
	}
	if err := validateFrame(f); err != nil {
		s.replyError(errTextUploadPrefix+err.Error(), "")
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	data, mimeType, err := decodeMedia(f, cfg.MaxMediaBytes)
	if err != nil {
		s.hub.metrics.Upload(err, 0)
		s.replyError(errTextUploadPrefix+err.Error(), "")
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	// Detached from the connection; the result is discarded below if the client went away.
	upCtx := context.WithoutCancel(ctx)
	if cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		upCtx, cancel = context.WithTimeout(upCtx, cfg.UploadTimeout)
		defer cancel()
	}

	name := uploadName(s.now(), f.FileName)
	ref, err := s.hub.store.Upload(upCtx, name, mimeType, data, cfg.ContainerID)
	if err == nil {
		err = s.hub.store.SetPublicRead(upCtx, ref.ID)
	}
	s.hub.metrics.Upload(err, len(data))
	if err != nil {
		s.log.Warn("media.upload.fail", "file_name", name, "mime_type", mimeType, "size", len(data), "err", err)
		s.replyError(errTextUploadPrefix+err.Error(), uploadDetails(err))
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	s.log.Info("media.upload.ok", "file_id", ref.ID, "file_name", name, "mime_type", mimeType, "size", len(data))

	if cfg.SettleDelay > 0 {
		t := time.NewTimer(cfg.SettleDelay)
		select {
		case <-t.C:
		case <-s.client.Done():
			t.Stop()
		}
	}

	if s.State() != StateAuthenticated {
		s.log.Info("media.publish.skip", "file_id", ref.ID, "reason", "connection closed")
		return ErrClientClosed
	}

	s.hub.broadcaster.Publish(context.WithoutCancel(ctx), v1.NewMediaMessage(s.Identity(), f.FileName, mimeType, ref.ID, ref.URL, ref.DirectURL))
	return nil
}

func uploadDetails(err error) string {
	var remote *blobstore.RemoteError
	if errors.As(err, &remote) {
		return remote.Details()
	}
	return ""
}

func (s *Session) replyError(msg, details string) {
	s.reply(v1.NewError(msg, details))
}

func (s *Session) reply(frame any) {
	b, err := json.Marshal(frame)
	if err != nil {
		s.log.Error("ws.encode.fail", "err", err)
		return
	}
	if err := s.client.Enqueue(b); err != nil {
		s.log.Info("ws.reply.drop", "err", err)
	}
}
