package relay

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConnection() *Connection {
	c := &Connection{
		ID:            NewConnectionID(),
		subscriptions: make(map[string]struct{}),
	}
	c.userID.Store("")
	c.state.Store(StateOpen)
	return c
}

func TestNewConnectionID(t *testing.T) {
	id := NewConnectionID()
	assert.True(t, strings.HasPrefix(id, "conn_"))
	assert.NotEqual(t, id, NewConnectionID())
}

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	conn := testConnection()

	r.Register(conn)
	assert.Equal(t, 1, r.Count())

	got, ok := r.Get(conn.ID)
	require.True(t, ok)
	assert.Same(t, conn, got)

	r.Unregister(conn.ID)
	assert.Equal(t, 0, r.Count())
	_, ok = r.Get(conn.ID)
	assert.False(t, ok)

	// Unknown id is a no-op
	r.Unregister("conn_missing")
}

func TestRegistryByUser(t *testing.T) {
	r := NewRegistry()

	a := testConnection()
	a.SetUserID("user-1")
	b := testConnection()
	b.SetUserID("user-1")
	c := testConnection()
	c.SetUserID("user-2")
	anon := testConnection()

	for _, conn := range []*Connection{a, b, c, anon} {
		r.Register(conn)
	}

	assert.Len(t, r.ByUser("user-1"), 2)
	assert.Len(t, r.ByUser("user-2"), 1)
	assert.Empty(t, r.ByUser("user-3"))
	assert.Empty(t, r.ByUser(""), "empty user id never matches anonymous connections")
}

func TestRegistrySnapshotStableUnderRemoval(t *testing.T) {
	r := NewRegistry()
	conns := make([]*Connection, 20)
	for i := range conns {
		conns[i] = testConnection()
		r.Register(conns[i])
	}

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 20)

	// Concurrent removal must not disturb snapshot iteration
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, conn := range conns {
			r.Unregister(conn.ID)
		}
	}()

	seen := 0
	for _, conn := range snapshot {
		_ = conn.ID
		seen++
	}
	wg.Wait()

	assert.Equal(t, 20, seen)
	assert.Equal(t, 0, r.Count())
}

func TestConnectionSubscriptions(t *testing.T) {
	conn := testConnection()

	conn.Subscribe([]string{"compliance_validated", "document_processed"})
	assert.ElementsMatch(t, []string{"compliance_validated", "document_processed"}, conn.Subscriptions())

	// Duplicate subscribe is idempotent
	conn.Subscribe([]string{"compliance_validated"})
	assert.Len(t, conn.Subscriptions(), 2)

	conn.Unsubscribe([]string{"document_processed", "never_subscribed"})
	assert.ElementsMatch(t, []string{"compliance_validated"}, conn.Subscriptions())
}

func TestConnectionState(t *testing.T) {
	c := &Connection{subscriptions: make(map[string]struct{})}
	c.userID.Store("")

	assert.Equal(t, StateConnecting, c.State())
	c.markOpen()
	assert.Equal(t, StateOpen, c.State())
	assert.True(t, c.IsOpen())
}
