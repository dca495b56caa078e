package realtime

import (
	"sync"
	"sync/atomic"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send carries pre-serialized frames and is NOT closed by the server; broadcasters may race with teardown.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Client struct {
	SessionID string
	Send      chan []byte

	identity atomic.Pointer[string]

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Identity returns the authenticated participant, or "" before auth.
func (c *Client) Identity() string {
	if c == nil {
		return ""
	}
	if p := c.identity.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *Client) setIdentity(id string) {
	c.identity.Store(&id)
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Ready reports whether the client is authenticated and still open.
func (c *Client) Ready() bool {
	return c != nil && c.Identity() != "" && !c.Closed()
}

// Enqueue queues a frame without blocking.
func (c *Client) Enqueue(frame []byte) error {
	if c.Closed() {
		return ErrClientClosed
	}
	select {
	case <-c.done:
		return ErrClientClosed
	case c.Send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
