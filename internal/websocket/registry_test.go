package websocket

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanhub/pkg/types"
)

// fakeTransport records sends and can be told to fail.
type fakeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	failed bool
	closed bool
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return errors.New("transport closed")
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.Send(data)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdmit_UniqueIDs(t *testing.T) {
	r := NewRegistry("", discardLogger())

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := r.Admit(&fakeTransport{})
		_, dup := seen[id]
		require.False(t, dup, "Admit returned a repeated ID %s", id)
		seen[id] = struct{}{}
	}
}

func TestRegister_NoTokenConfigured(t *testing.T) {
	r := NewRegistry("", discardLogger())
	id := r.Admit(&fakeTransport{})

	info, err := r.Register(id, "station-1", types.RoleFirstScan, "")
	require.NoError(t, err)
	assert.Equal(t, "station-1", info.Name)
	assert.Equal(t, types.RoleFirstScan, info.Role)
	assert.NotEmpty(t, info.LastSeen)
}

func TestRegister_TokenChecked(t *testing.T) {
	r := NewRegistry("secret", discardLogger())
	id := r.Admit(&fakeTransport{})

	_, err := r.Register(id, "station-1", types.RoleFirstScan, "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// The connection stays unregistered: no role-filtered delivery, no
	// node listing.
	assert.Empty(t, r.ConnectionsWithRole([]types.Role{types.RoleFirstScan}))
	assert.Empty(t, r.Nodes())

	_, err = r.Register(id, "station-1", types.RoleFirstScan, "secret")
	assert.NoError(t, err)
}

func TestRegister_UnknownID(t *testing.T) {
	r := NewRegistry("", discardLogger())
	_, err := r.Register("nope", "station-1", types.RoleFirstScan, "")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestTouch(t *testing.T) {
	r := NewRegistry("", discardLogger())
	id := r.Admit(&fakeTransport{})
	_, err := r.Register(id, "station-1", types.RoleFirstScan, "")
	require.NoError(t, err)

	before, ok := r.Get(id)
	require.True(t, ok)

	r.Touch(id)
	after, ok := r.Get(id)
	require.True(t, ok)
	assert.GreaterOrEqual(t, after.LastSeen, before.LastSeen)

	// Unknown IDs are a no-op, the connection may already be gone.
	r.Touch("gone")
}

func TestRemove_Idempotent(t *testing.T) {
	r := NewRegistry("", discardLogger())
	id := r.Admit(&fakeTransport{})

	r.Remove(id)
	r.Remove(id)
	_, ok := r.Get(id)
	assert.False(t, ok)
}

func TestConnectionsWithRole(t *testing.T) {
	r := NewRegistry("", discardLogger())

	firstID := r.Admit(&fakeTransport{})
	_, err := r.Register(firstID, "first", types.RoleFirstScan, "")
	require.NoError(t, err)

	lastID := r.Admit(&fakeTransport{})
	_, err = r.Register(lastID, "last", types.RoleLastScan, "")
	require.NoError(t, err)

	admittedOnly := r.Admit(&fakeTransport{})

	// Role filter selects only registered connections of that role.
	firsts := r.ConnectionsWithRole([]types.Role{types.RoleFirstScan})
	require.Len(t, firsts, 1)
	assert.Equal(t, firstID, firsts[0].ID)

	both := r.ConnectionsWithRole([]types.Role{types.RoleFirstScan, types.RoleLastScan})
	assert.Len(t, both, 2)

	// Nil filter selects every live connection, admitted included.
	all := r.ConnectionsWithRole(nil)
	assert.Len(t, all, 3)
	ids := []string{all[0].ID, all[1].ID, all[2].ID}
	assert.Contains(t, ids, admittedOnly)

	// Order is stable across calls on an unchanged registry.
	assert.Equal(t, r.ConnectionsWithRole(nil), r.ConnectionsWithRole(nil))
}

func TestNodesAndStats(t *testing.T) {
	r := NewRegistry("", discardLogger())
	id := r.Admit(&fakeTransport{})
	_, err := r.Register(id, "station-1", types.RoleLastScan, "")
	require.NoError(t, err)
	r.Admit(&fakeTransport{})

	nodes := r.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "station-1", nodes[0].Name)

	stats := r.Stats()
	assert.Equal(t, 2, stats["total_connections"])
	assert.Equal(t, 1, stats["registered_connections"])
}

func TestShutdown_ClosesTransports(t *testing.T) {
	r := NewRegistry("", discardLogger())
	ft := &fakeTransport{}
	r.Admit(ft)

	r.Shutdown()
	assert.True(t, ft.closed)
	assert.Empty(t, r.ConnectionsWithRole(nil))
}
