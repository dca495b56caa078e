package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"relay/cmd/internal/blobstore"
	"relay/cmd/internal/history"
	"relay/cmd/internal/metrics"
	v1 "relay/shared/contracts/relay/v1"

	"github.com/stretchr/testify/require"
)

type testRelay struct {
	hub   *Hub
	log   *history.Log
	store *blobstore.MemoryStore
}

func newTestRelay(t *testing.T, cfg HubConfig, store blobstore.Store) testRelay {
	t.Helper()
	mem := blobstore.NewMemoryStore("https://relay.example.com")
	if store == nil {
		store = mem
	}
	hist := history.New(mem, "folder", history.WithLogger(discardLogger()))
	hub := NewHub(discardLogger(), NewRoster("pui", "loze"), hist, store, nil, cfg)
	return testRelay{hub: hub, log: hist, store: mem}
}

type testConn struct {
	t      *testing.T
	client *Client
	sess   *Session
}

func (r testRelay) connect(t *testing.T) *testConn {
	t.Helper()
	c := NewClient(fmt.Sprintf("s-%d", time.Now().UnixNano()), 64)
	return &testConn{t: t, client: c, sess: r.hub.NewSession(c)}
}

func (c *testConn) send(v any) error {
	c.t.Helper()
	b, err := json.Marshal(v)
	require.NoError(c.t, err)
	return c.sess.HandleFrame(context.Background(), b)
}

// next pops the next outbound frame as a generic map.
func (c *testConn) next() map[string]any {
	c.t.Helper()
	select {
	case b := <-c.client.Send:
		var m map[string]any
		require.NoError(c.t, json.Unmarshal(b, &m))
		return m
	default:
		c.t.Fatalf("expected an outbound frame for %s", c.client.SessionID)
		return nil
	}
}

func (c *testConn) empty() {
	c.t.Helper()
	require.Len(c.t, c.client.Send, 0)
}

func (c *testConn) auth(id string) {
	c.t.Helper()
	require.NoError(c.t, c.send(map[string]any{"type": "auth", "userId": id}))
	require.Equal(c.t, v1.TypeAuthSuccess, c.next()["type"])
	require.Equal(c.t, v1.TypeChatHistory, c.next()["type"])
}

func TestSession_TextRelayBetweenParticipants(t *testing.T) {
	req := require.New(t)
	r := newTestRelay(t, HubConfig{}, nil)

	a := r.connect(t)
	b := r.connect(t)

	// Given pui and loze are authenticated
	req.NoError(a.send(map[string]any{"type": "auth", "userId": "pui"}))
	ok := a.next()
	req.Equal("auth_success", ok["type"])
	req.Equal("Authentication successful", ok["message"])
	hist := a.next()
	req.Equal("chat_history", hist["type"])
	req.Empty(hist["messages"])
	b.auth("loze")

	// When pui sends text
	req.NoError(a.send(map[string]any{"type": "message", "messageType": "text", "content": "  hi\n\tthere"}))

	// Then both receive the same stamped message
	for _, c := range []*testConn{a, b} {
		m := c.next()
		req.Equal("message", m["type"])
		req.Equal("pui", m["userId"])
		req.Equal("text", m["messageType"])
		req.Equal("  hi\n\tthere", m["content"])
		req.NotEmpty(m["id"])
		_, err := time.Parse(time.RFC3339Nano, m["timestamp"].(string))
		req.NoError(err)
		c.empty()
	}

	// And it was persisted
	persisted := r.log.Load(context.Background())
	req.Len(persisted, 1)
	req.Equal("  hi\n\tthere", persisted[0].Content)
	req.Equal([]string{"loze", "pui"}, r.hub.Registry().ActiveIdentities())
}

func TestSession_AuthReplaysHistoryToJoinerOnly(t *testing.T) {
	req := require.New(t)
	r := newTestRelay(t, HubConfig{}, nil)

	a := r.connect(t)
	a.auth("pui")
	req.NoError(a.send(map[string]any{"type": "message", "messageType": "text", "content": "first"}))
	a.next()

	b := r.connect(t)
	req.NoError(b.send(map[string]any{"type": "auth", "userId": "loze"}))
	req.Equal("auth_success", b.next()["type"])

	hist := b.next()
	req.Equal("chat_history", hist["type"])
	msgs := hist["messages"].([]any)
	req.Len(msgs, 1)
	req.Equal("first", msgs[0].(map[string]any)["content"])

	a.empty()
}

func TestSession_InvalidUserIsRetryable(t *testing.T) {
	req := require.New(t)
	r := newTestRelay(t, HubConfig{}, nil)
	c := r.connect(t)

	err := c.send(map[string]any{"type": "auth", "userId": "mallory"})
	req.ErrorIs(err, ErrAuthRejected)
	frame := c.next()
	req.Equal("auth_error", frame["type"])
	req.Equal("Invalid user", frame["message"])
	req.Equal(StateUnauthenticated, c.sess.State())
	req.Empty(r.hub.Registry().ActiveIdentities())

	c.auth("pui")
	req.Equal(StateAuthenticated, c.sess.State())
}

func TestSession_AlreadyAuthenticated(t *testing.T) {
	r := newTestRelay(t, HubConfig{}, nil)
	c := r.connect(t)
	c.auth("pui")

	err := c.send(map[string]any{"type": "auth", "userId": "loze"})
	require.ErrorIs(t, err, ErrAlreadyAuthenticated)
	require.Equal(t, "Already authenticated", c.next()["message"])
	require.Equal(t, "pui", c.sess.Identity())
}

func TestSession_MessageBeforeAuth(t *testing.T) {
	req := require.New(t)
	r := newTestRelay(t, HubConfig{ContainerID: "folder"}, nil)

	listener := r.connect(t)
	listener.auth("loze")

	c := r.connect(t)
	err := c.send(map[string]any{"type": "message", "messageType": "media", "fileName": "a.png", "content": "aGk="})
	req.ErrorIs(err, ErrNotAuthenticated)

	frame := c.next()
	req.Equal("error", frame["type"])
	req.Equal("Not authenticated", frame["message"])

	listener.empty()
	req.Empty(r.log.Load(context.Background()))
}

func TestSession_MessageKindCheckedAfterAuth(t *testing.T) {
	r := newTestRelay(t, HubConfig{}, nil)
	c := r.connect(t)

	for _, raw := range []string{
		`{"type":"message"}`,
		`{"type":"message","messageType":"sticker"}`,
		`{"type":"message","messageType":"text","content":"   "}`,
	} {
		err := c.sess.HandleFrame(context.Background(), []byte(raw))
		require.ErrorIs(t, err, ErrNotAuthenticated, raw)
		require.Equal(t, "Not authenticated", c.next()["message"], raw)
	}
	require.Equal(t, StateUnauthenticated, c.sess.State())
}

func TestSession_UnknownFrameTypesShareOneMetricSeries(t *testing.T) {
	m := metrics.New()
	hub := NewHub(discardLogger(), NewRoster("pui"), nil, nil, m, HubConfig{})
	c := NewClient("s-noise", 1024)
	sess := hub.NewSession(c)

	for i := 0; i < 500; i++ {
		err := sess.HandleFrame(context.Background(), []byte(fmt.Sprintf(`{"type":"noise-%d"}`, i)))
		require.ErrorIs(t, err, ErrMalformedFrame)
		<-c.Send
	}

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	series := -1
	for _, f := range families {
		if f.GetName() == "relay_frames_received_total" {
			series = len(f.GetMetric())
		}
	}
	require.Equal(t, 1, series)
}

func TestSession_MalformedFrames(t *testing.T) {
	r := newTestRelay(t, HubConfig{}, nil)
	c := r.connect(t)
	c.auth("pui")

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "bad json", raw: `{"type":`, want: "Failed to process message: invalid JSON"},
		{name: "missing type", raw: `{}`, want: "Failed to process message: missing field: type"},
		{name: "unknown type", raw: `{"type":"typing"}`, want: `Failed to process message: unknown type: "typing"`},
		{name: "unknown kind", raw: `{"type":"message","messageType":"sticker"}`, want: `Failed to process message: unknown messageType: "sticker"`},
		{name: "empty text", raw: `{"type":"message","messageType":"text","content":"   "}`, want: "Failed to process message: missing field: content"},
		{name: "too long", raw: `{"type":"message","messageType":"text","content":"` + strings.Repeat("x", 4001) + `"}`, want: "Failed to process message: field content exceeds 4000 characters"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.sess.HandleFrame(context.Background(), []byte(tc.raw))
			require.ErrorIs(t, err, ErrMalformedFrame)

			frame := c.next()
			require.Equal(t, "error", frame["type"])
			require.True(t, strings.HasPrefix(frame["message"].(string), tc.want), frame["message"])
			c.empty()
		})
	}
	require.Equal(t, StateAuthenticated, c.sess.State())
}

func TestSession_MediaUploadAndBroadcast(t *testing.T) {
	req := require.New(t)
	r := newTestRelay(t, HubConfig{ContainerID: "folder"}, nil)
	fixed := time.UnixMilli(1732099200000)

	a := r.connect(t)
	a.sess.now = func() time.Time { return fixed }
	a.auth("pui")
	b := r.connect(t)
	b.auth("loze")

	png := []byte("\x89PNG\r\n\x1a\n0000")
	req.NoError(a.send(map[string]any{
		"type":        "message",
		"messageType": "media",
		"fileName":    "cat.png",
		"content":     "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}))

	var fileID string
	for _, c := range []*testConn{a, b} {
		m := c.next()
		req.Equal("media", m["messageType"])
		req.Equal("pui", m["userId"])
		req.Equal("cat.png", m["fileName"])
		req.Equal("image/png", m["mimeType"])
		req.NotEmpty(m["fileId"])
		req.Equal("https://relay.example.com/blobs/"+m["fileId"].(string), m["fileUrl"])
		req.Equal(m["fileUrl"], m["directUrl"])
		fileID = m["fileId"].(string)
	}

	blob, err := r.store.OpenBlob(context.Background(), fileID)
	req.NoError(err)
	req.Equal("1732099200000_cat.png", blob.Name)
	req.Equal(png, blob.Data)
	req.True(blob.Public)

	persisted := r.log.Load(context.Background())
	req.Len(persisted, 1)
	req.True(persisted[0].IsMedia())
}

type failingUploadStore struct {
	*blobstore.MemoryStore
}

func (failingUploadStore) Upload(context.Context, string, string, []byte, string) (blobstore.StorageRef, error) {
	return blobstore.StorageRef{}, &blobstore.RemoteError{
		Op: "upload", Code: http.StatusForbidden, Message: "insufficient permissions", Body: `{"error":"forbidden"}`,
	}
}

func TestSession_MediaUploadFailureIsLocal(t *testing.T) {
	req := require.New(t)
	r := newTestRelay(t, HubConfig{ContainerID: "folder"}, failingUploadStore{blobstore.NewMemoryStore("")})

	a := r.connect(t)
	a.auth("pui")
	b := r.connect(t)
	b.auth("loze")

	err := a.send(map[string]any{"type": "message", "messageType": "media", "fileName": "a.png", "mimeType": "image/png", "content": "aGk="})
	req.ErrorIs(err, ErrUploadFailed)

	frame := a.next()
	req.Equal("error", frame["type"])
	req.Equal("Upload failed: upload: insufficient permissions", frame["message"])
	req.Equal(`{"error":"forbidden"}`, frame["details"])

	b.empty()
	req.Empty(r.log.Load(context.Background()))
}

func TestSession_MediaRejectedWithoutContainer(t *testing.T) {
	r := newTestRelay(t, HubConfig{}, nil)
	c := r.connect(t)
	c.auth("pui")

	err := c.send(map[string]any{"type": "message", "messageType": "media", "fileName": "a.png", "content": "aGk="})
	require.ErrorIs(t, err, ErrUploadFailed)
	require.Equal(t, "Upload failed: media storage is not configured", c.next()["message"])
}

func TestSession_MediaTooLarge(t *testing.T) {
	r := newTestRelay(t, HubConfig{ContainerID: "folder", MaxMediaBytes: 4}, nil)
	c := r.connect(t)
	c.auth("pui")

	err := c.send(map[string]any{"type": "message", "messageType": "media", "fileName": "a.bin",
		"content": base64.StdEncoding.EncodeToString([]byte("0123456789"))})
	require.ErrorIs(t, err, ErrUploadFailed)
	require.Equal(t, "Upload failed: media exceeds 4 bytes", c.next()["message"])
}

// publishedStore signals once an uploaded blob has been made public.
type publishedStore struct {
	*blobstore.MemoryStore
	public chan string
}

func (s publishedStore) SetPublicRead(ctx context.Context, id string) error {
	if err := s.MemoryStore.SetPublicRead(ctx, id); err != nil {
		return err
	}
	s.public <- id
	return nil
}

func TestSession_MediaDiscardedWhenClosedDuringSettle(t *testing.T) {
	req := require.New(t)
	store := publishedStore{MemoryStore: blobstore.NewMemoryStore(""), public: make(chan string, 1)}
	r := newTestRelay(t, HubConfig{ContainerID: "folder", SettleDelay: time.Hour}, store)

	a := r.connect(t)
	a.auth("pui")
	b := r.connect(t)
	b.auth("loze")

	done := make(chan error, 1)
	go func() {
		done <- a.sess.HandleFrame(context.Background(),
			[]byte(`{"type":"message","messageType":"media","fileName":"a.txt","content":"aGk="}`))
	}()

	// Drop the connection while the handler waits out the settle delay.
	select {
	case <-store.public:
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not complete")
	}
	a.sess.Close()

	select {
	case err := <-done:
		req.ErrorIs(err, ErrClientClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("media handler did not return after close")
	}
	b.empty()
	req.Empty(r.log.Load(context.Background()))
	req.Equal([]string{"loze"}, r.hub.Registry().ActiveIdentities())
}

func TestSession_CloseDetachesOnlyOwnSlot(t *testing.T) {
	req := require.New(t)
	r := newTestRelay(t, HubConfig{}, nil)

	old := r.connect(t)
	old.auth("pui")
	fresh := r.connect(t)
	fresh.auth("pui")

	old.sess.Close()
	old.sess.Close()
	req.Equal(StateClosed, old.sess.State())
	req.Equal([]string{"pui"}, r.hub.Registry().ActiveIdentities())

	got, ok := r.hub.Registry().Lookup("pui")
	req.True(ok)
	req.Same(fresh.client, got)

	fresh.sess.Close()
	req.Empty(r.hub.Registry().ActiveIdentities())
}

func TestSession_RateLimitedKeepsConnection(t *testing.T) {
	r := newTestRelay(t, HubConfig{}, nil)
	c := r.connect(t)
	c.auth("pui")

	c.sess.RejectRateLimited()
	frame := c.next()
	require.Equal(t, "error", frame["type"])
	require.Equal(t, "Too many messages", frame["message"])
	require.Equal(t, StateAuthenticated, c.sess.State())
}

func TestSession_HistoryCapacityOverManyPublishes(t *testing.T) {
	r := newTestRelay(t, HubConfig{}, nil)
	c := r.connect(t)
	c.auth("pui")

	for i := 0; i < 101; i++ {
		require.NoError(t, c.send(map[string]any{"type": "message", "messageType": "text", "content": fmt.Sprintf("m%d", i)}))
		c.next()
	}

	got := r.log.Load(context.Background())
	require.Len(t, got, 100)
	require.Equal(t, "m1", got[0].Content)
	require.Equal(t, "m100", got[99].Content)
}
