package realtime

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func authedClient(id, session string) *Client {
	c := NewClient(session, 8)
	c.setIdentity(id)
	return c
}

func TestRoster(t *testing.T) {
	r := NewRoster(" pui", "loze", "", "pui")
	require.Equal(t, []string{"loze", "pui"}, r.Members())
	require.Equal(t, 2, r.Len())
	require.True(t, r.Contains("pui"))
	require.False(t, r.Contains("PUI"))
	require.False(t, r.Contains(""))

	var nilRoster *Roster
	require.False(t, nilRoster.Contains("pui"))
}

func TestRegistry_RejectsIdentitiesOutsideRoster(t *testing.T) {
	reg := NewRegistry(discardLogger(), NewRoster("pui", "loze"), nil)

	require.False(t, reg.Register("mallory", authedClient("mallory", "s1")))
	require.False(t, reg.Register("", authedClient("", "s2")))
	require.False(t, reg.Register("pui", nil))
	require.Empty(t, reg.ActiveIdentities())
}

func TestRegistry_LastWriterWins(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(discardLogger(), NewRoster("pui", "loze"), nil)

	old := authedClient("pui", "s-old")
	fresh := authedClient("pui", "s-new")

	// Given pui connected twice
	req.True(reg.Register("pui", old))
	req.True(reg.Register("pui", fresh))

	// Then only the newest connection is reachable and the old one is left open
	got, ok := reg.Lookup("pui")
	req.True(ok)
	req.Same(fresh, got)
	req.False(old.Closed())

	var reached []*Client
	n := reg.ForEachReady(func(c *Client) error {
		reached = append(reached, c)
		return nil
	})
	req.Equal(1, n)
	req.Equal([]*Client{fresh}, reached)

	// And the orphan closing late does not evict its replacement
	req.False(reg.Detach("pui", old))
	req.Equal([]string{"pui"}, reg.ActiveIdentities())
	req.True(reg.Detach("pui", fresh))
	req.Empty(reg.ActiveIdentities())
}

func TestRegistry_DeregisterIdempotent(t *testing.T) {
	reg := NewRegistry(discardLogger(), NewRoster("pui", "loze"), nil)
	require.True(t, reg.Register("loze", authedClient("loze", "s1")))

	reg.Deregister("loze")
	reg.Deregister("loze")
	reg.Deregister("never-registered")

	require.Empty(t, reg.ActiveIdentities())
	require.Equal(t, 0, reg.Len())
}

func TestRegistry_ForEachReady_SkipsAndDetachesClosed(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(discardLogger(), NewRoster("pui", "loze"), nil)

	pui := authedClient("pui", "s1")
	loze := authedClient("loze", "s2")
	req.True(reg.Register("pui", pui))
	req.True(reg.Register("loze", loze))

	loze.Close()

	n := reg.ForEachReady(func(c *Client) error { return nil })
	req.Equal(1, n)
	req.Equal([]string{"pui"}, reg.ActiveIdentities())
}

func TestRegistry_ForEachReady_ContinuesAfterError(t *testing.T) {
	reg := NewRegistry(discardLogger(), NewRoster("pui", "loze"), nil)
	require.True(t, reg.Register("pui", authedClient("pui", "s1")))
	require.True(t, reg.Register("loze", authedClient("loze", "s2")))

	calls := 0
	n := reg.ForEachReady(func(c *Client) error {
		calls++
		if c.Identity() == "pui" {
			return errors.New("boom")
		}
		return nil
	})
	require.Equal(t, 2, calls)
	require.Equal(t, 1, n)
}

func TestRegistry_ConcurrentRegisterAndIterate(t *testing.T) {
	reg := NewRegistry(discardLogger(), NewRoster("pui", "loze"), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := authedClient("pui", "s")
			reg.Register("pui", c)
			reg.Detach("pui", c)
		}()
		go func() {
			defer wg.Done()
			reg.ForEachReady(func(c *Client) error { return c.Enqueue([]byte("x")) })
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, reg.Len(), 1)
}

func TestClient_Enqueue(t *testing.T) {
	c := NewClient("s1", 1)
	require.False(t, c.Ready())

	require.NoError(t, c.Enqueue([]byte("a")))
	require.ErrorIs(t, c.Enqueue([]byte("b")), ErrSendQueueFull)

	c.setIdentity("pui")
	require.True(t, c.Ready())

	c.Close()
	c.Close()
	require.False(t, c.Ready())
	require.ErrorIs(t, c.Enqueue([]byte("c")), ErrClientClosed)
}
