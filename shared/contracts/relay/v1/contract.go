package v1

import "time"

// Message is the canonical delivered message. It is both broadcast to live connections and
// persisted in the history document, so the two representations never drift.
//
// Text messages carry Content; media messages carry the file fields instead.
type Message struct {
	Type        string    `json:"type"`
	ID          string    `json:"id,omitempty"`
	UserID      string    `json:"userId"`
	MessageType string    `json:"messageType"`
	Content     string    `json:"content,omitempty"`
	FileName    string    `json:"fileName,omitempty"`
	MimeType    string    `json:"mimeType,omitempty"`
	FileID      string    `json:"fileId,omitempty"`
	FileURL     string    `json:"fileUrl,omitempty"`
	DirectURL   string    `json:"directUrl,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewTextMessage builds an unstamped text message.
func NewTextMessage(userID, content string) Message {
	return Message{
		Type:        TypeMessage,
		UserID:      userID,
		MessageType: MessageTypeText,
		Content:     content,
	}
}

// NewMediaMessage builds an unstamped media message referencing an uploaded blob.
func NewMediaMessage(userID, fileName, mimeType, fileID, fileURL, directURL string) Message {
	return Message{
		Type:        TypeMessage,
		UserID:      userID,
		MessageType: MessageTypeMedia,
		FileName:    fileName,
		MimeType:    mimeType,
		FileID:      fileID,
		FileURL:     fileURL,
		DirectURL:   directURL,
	}
}

// IsMedia reports whether m references a blob.
func (m Message) IsMedia() bool { return m.MessageType == MessageTypeMedia }

// Stamped returns a copy of m carrying the server-assigned id and acceptance time.
func (m Message) Stamped(id string, at time.Time) Message {
	m.Type = TypeMessage
	m.ID = id
	m.Timestamp = at.UTC().Truncate(time.Millisecond)
	return m
}

// AuthResult is the payload of auth_success and auth_error frames.
type AuthResult struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatHistory replays persisted messages to a freshly authenticated connection.
type ChatHistory struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

// Error is a local failure report. It is never broadcast.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewAuthSuccess builds the handshake acceptance frame.
func NewAuthSuccess() AuthResult {
	return AuthResult{Type: TypeAuthSuccess, Message: "Authentication successful"}
}

// NewAuthError builds the handshake rejection frame.
func NewAuthError(msg string) AuthResult {
	return AuthResult{Type: TypeAuthError, Message: msg}
}

// NewChatHistory builds a history frame. A nil slice is sent as an empty array.
func NewChatHistory(msgs []Message) ChatHistory {
	if msgs == nil {
		msgs = []Message{}
	}
	return ChatHistory{Type: TypeChatHistory, Messages: msgs}
}

// NewError builds a local error frame.
func NewError(msg, details string) Error {
	return Error{Type: TypeError, Message: msg, Details: details}
}
