// Package router fans messages out to the subset of live connections
// matching a role filter.
package router

import (
	"encoding/json"
	"log/slog"

	"scanhub/internal/websocket"
	"scanhub/pkg/types"
)

// Broadcaster delivers messages best-effort and unordered across
// connections. There is no retry; a connection that fails delivery is
// pruned from the registry after the pass.
type Broadcaster struct {
	registry *websocket.Registry
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster over the registry.
func NewBroadcaster(registry *websocket.Registry, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger}
}

// Broadcast serializes v once and attempts delivery to every connection
// matching roles (nil means all live connections). Failed connections are
// collected during the pass and removed afterwards, so a connection that
// fails mid-broadcast cannot receive a second frame in the same pass.
// Returns the number of successful deliveries.
func (b *Broadcaster) Broadcast(v any, roles []types.Role) int {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to serialize broadcast message", "error", err)
		return 0
	}

	conns := b.registry.ConnectionsWithRole(roles)
	delivered := 0
	var dead []websocket.RegisteredConn
	for _, rc := range conns {
		if err := rc.Transport.Send(data); err != nil {
			b.logger.Warn("broadcast delivery failed", "nodeId", rc.ID, "error", err)
			dead = append(dead, rc)
			continue
		}
		delivered++
	}

	for _, rc := range dead {
		b.registry.Remove(rc.ID)
		_ = rc.Transport.Close()
	}
	return delivered
}
