// Package main provides a CI-friendly WebSocket smoke test for the relay.
//
// It validates:
//   - handshake + optional subprotocol selection
//   - frames before auth are answered locally with "Not authenticated"
//   - unknown users get auth_error and may retry on the same connection
//   - auth_success followed by chat_history
//   - text relay from A to both A and B with server-assigned id and timestamp
//   - a late joiner sees the message in its replayed history
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "relay/shared/contracts/relay/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 16 << 20 // history frames can carry media metadata for 100 messages

// serverFrame is the union of every server -> client frame.
type serverFrame struct {
	v1.Message
	Text     string       `json:"message"`
	Details  string       `json:"details"`
	Messages []v1.Message `json:"messages"`
}

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan serverFrame
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:3001/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		userA   = flag.String("a", "pui", "first allow-listed participant")
		userB   = flag.String("b", "loze", "second allow-listed participant")
		text    = flag.String("text", "hello relay 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	mustWrite(root, a.conn, v1.Inbound{Type: v1.TypeMessage, MessageType: v1.MessageTypeText, Content: "early"}, *timeout)
	if f := a.mustReadUntilType(root, v1.TypeError, *timeout); f.Text != "Not authenticated" {
		fatalf("pre-auth error mismatch (A): got=%q", f.Text)
	}

	mustWrite(root, a.conn, v1.Inbound{Type: v1.TypeAuth, UserID: fmt.Sprintf("nobody-%d", time.Now().UnixNano())}, *timeout)
	if f := a.mustReadUntilType(root, v1.TypeAuthError, *timeout); f.Text != "Invalid user" {
		fatalf("auth_error text mismatch (A): got=%q", f.Text)
	}

	before := mustAuth(root, a, *userA, *timeout)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)
	mustAuth(root, b, *userB, *timeout)

	if *verbose {
		fmt.Printf("authenticated: A=%s B=%s history=%d origin=%q\n", *userA, *userB, len(before), *origin)
	}

	mustWrite(root, a.conn, v1.Inbound{Type: v1.TypeMessage, MessageType: v1.MessageTypeText, Content: *text}, *timeout)

	gotA := mustAssertMessage(root, a, *userA, *text, *timeout)
	gotB := mustAssertMessage(root, b, *userA, *text, *timeout)
	if gotA.ID != gotB.ID {
		fatalf("fan-out id mismatch: A=%q B=%q", gotA.ID, gotB.ID)
	}

	closeWS(b.conn)

	c := mustConnect(root, "C", *wsURL, *origin, *timeout)
	defer closeWS(c.conn)
	history := mustAuth(root, c, *userB, *timeout)

	if len(history) == 0 || history[len(history)-1].ID != gotA.ID {
		fatalf("late joiner history does not end with %q (len=%d)", gotA.ID, len(history))
	}

	fmt.Printf("OK: a=%s b=%s message_id=%s history=%d\n", *userA, *userB, gotA.ID, len(history))
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan serverFrame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

// mustAuth authenticates c and returns the replayed history.
func mustAuth(parent context.Context, c *smokeClient, userID string, stepTimeout time.Duration) []v1.Message {
	mustWrite(parent, c.conn, v1.Inbound{Type: v1.TypeAuth, UserID: userID}, stepTimeout)

	c.mustReadUntilType(parent, v1.TypeAuthSuccess, stepTimeout)
	h := c.mustReadUntilType(parent, v1.TypeChatHistory, stepTimeout)
	if h.Messages == nil {
		fatalf("chat_history missing messages array (%s)", c.name)
	}
	return h.Messages
}

func mustAssertMessage(parent context.Context, c *smokeClient, sender, text string, stepTimeout time.Duration) v1.Message {
	f := c.mustReadUntilType(parent, v1.TypeMessage, stepTimeout)
	m := f.Message

	if m.UserID != sender {
		fatalf("message sender mismatch (%s): got=%q want=%q", c.name, m.UserID, sender)
	}
	if m.MessageType != v1.MessageTypeText {
		fatalf("messageType mismatch (%s): got=%q", c.name, m.MessageType)
	}
	if m.Content != text {
		fatalf("content mismatch (%s): got=%q want=%q", c.name, m.Content, text)
	}
	if strings.TrimSpace(m.ID) == "" {
		fatalf("message id missing (%s)", c.name)
	}
	if m.Timestamp.IsZero() {
		fatalf("message timestamp missing/zero (%s)", c.name)
	}
	return m
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var f serverFrame
			if err := json.Unmarshal(data, &f); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if strings.TrimSpace(f.Type) == "" {
				select {
				case c.errCh <- errors.New("frame without type"):
				default:
				}
				return
			}

			select {
			case c.inbox <- f:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) serverFrame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if f.Type == wantType {
				return f
			}
			if f.Type == v1.TypeError {
				fatalf("server error (%s): msg=%q details=%q", c.name, f.Text, f.Details)
			}
			fatalf("unexpected frame type (%s): got=%q want=%q", c.name, f.Type, wantType)
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, frame v1.Inbound, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
