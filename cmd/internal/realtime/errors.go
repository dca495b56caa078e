package realtime

import "errors"

var (
	// ErrAuthRejected means the requested identity is not on the roster.
	ErrAuthRejected = errors.New("realtime: identity not allowed")
	// ErrAlreadyAuthenticated means an auth frame arrived on an authenticated connection.
	ErrAlreadyAuthenticated = errors.New("realtime: already authenticated")
	// ErrNotAuthenticated means a message frame arrived before a successful auth.
	ErrNotAuthenticated = errors.New("realtime: not authenticated")
	// ErrMalformedFrame means a frame could not be decoded or failed validation.
	ErrMalformedFrame = errors.New("realtime: malformed frame")
	// ErrUploadFailed means a media payload could not be decoded or stored.
	ErrUploadFailed = errors.New("realtime: upload failed")

	// ErrClientClosed is returned when enqueueing to a closed client.
	ErrClientClosed = errors.New("realtime: client closed")
	// ErrSendQueueFull is returned when a client's outbound queue is full.
	ErrSendQueueFull = errors.New("realtime: send queue full")
)
