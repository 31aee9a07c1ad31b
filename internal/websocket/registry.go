package websocket

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"scanhub/pkg/types"
)

// RegisteredConn pairs a connection ID with its transport for routing.
type RegisteredConn struct {
	ID        string
	Transport Transport
}

type entry struct {
	info       types.NodeInfo
	transport  Transport
	registered bool
}

// Registry tracks every live connection, its assigned identity and
// declared role. Identities are transient process memory; the transport
// handle is referenced here but owned by the protocol handler.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*entry
	token  string
	logger *slog.Logger
}

// NewRegistry creates a registry. token is the shared registration secret;
// when empty, registration requires no token.
func NewRegistry(token string, logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*entry),
		token:  token,
		logger: logger,
	}
}

// Admit allocates a fresh process-unique connection ID and tracks the
// transport with no role yet.
func (r *Registry) Admit(t Transport) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &entry{
		info:      types.NodeInfo{NodeID: id, LastSeen: types.NowISO()},
		transport: t,
	}
	r.logger.Info("connection admitted", "nodeId", id)
	return id
}

// Register binds a name and role to an admitted connection after checking
// the shared token. On ErrUnauthorized the caller must terminate the
// connection.
func (r *Registry) Register(id, name string, role types.Role, token string) (types.NodeInfo, error) {
	if r.token != "" && token != r.token {
		r.logger.Warn("registration rejected: invalid token", "nodeId", id)
		return types.NodeInfo{}, ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return types.NodeInfo{}, ErrUnknownConnection
	}
	e.info.Name = name
	e.info.Role = role
	e.info.LastSeen = types.NowISO()
	e.registered = true
	r.logger.Info("node registered", "nodeId", id, "name", name, "role", role)
	return e.info, nil
}

// Get returns the identity for a live connection ID.
func (r *Registry) Get(id string) (types.NodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.info, true
	}
	return types.NodeInfo{}, false
}

// Touch updates the liveness timestamp. No-op for unknown IDs, the
// connection may already be gone.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.info.LastSeen = types.NowISO()
	}
}

// Remove deletes the identity and the transport reference. Idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		delete(r.conns, id)
		r.logger.Info("connection removed", "nodeId", id)
	}
}

// ConnectionsWithRole returns the live connections matching the role
// filter. A nil filter selects every live connection, registered or not;
// otherwise only registered connections whose role is in the set are
// returned. Results are sorted by ID so a single snapshot is deterministic.
func (r *Registry) ConnectionsWithRole(roles []types.Role) []RegisteredConn {
	roleSet := make(map[types.Role]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RegisteredConn, 0, len(r.conns))
	for id, e := range r.conns {
		if roles != nil {
			if !e.registered {
				continue
			}
			if _, ok := roleSet[e.info.Role]; !ok {
				continue
			}
		}
		out = append(out, RegisteredConn{ID: id, Transport: e.transport})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Nodes returns the identities of all registered connections, sorted by ID.
func (r *Registry) Nodes() []types.NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.NodeInfo, 0, len(r.conns))
	for _, e := range r.conns {
		if e.registered {
			out = append(out, e.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Stats reports connection counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registered := 0
	for _, e := range r.conns {
		if e.registered {
			registered++
		}
	}
	return map[string]int{
		"total_connections":      len(r.conns),
		"registered_connections": registered,
	}
}

// Shutdown closes every tracked transport and clears the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.conns {
		_ = e.transport.Close()
		delete(r.conns, id)
	}
}
