package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"scanhub/internal/roster"
	"scanhub/internal/store"
	"scanhub/pkg/types"
)

// Broadcaster delivers a message to every connection matching the role
// filter. Declared here so the handler does not depend on the router
// package directly.
type Broadcaster interface {
	Broadcast(v any, roles []types.Role) int
}

// Options tunes the per-connection transport behavior.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// DefaultOptions returns the transport settings used when none are
// configured.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   100,
	}
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		// Stations connect from arbitrary origins (kiosk browsers, native
		// clients); authentication happens at the protocol level.
		return true
	},
}

// Handler upgrades HTTP requests and runs the per-connection protocol
// state machine: Connected after admission, Registered after a successful
// register frame, Closed on disconnect, protocol error or bad token.
type Handler struct {
	registry    *Registry
	roster      *roster.Cache
	store       *store.Store
	broadcaster Broadcaster
	opts        Options
	logger      *slog.Logger
}

// NewHandler wires the protocol handler to the components it drives.
func NewHandler(registry *Registry, rosterCache *roster.Cache, st *store.Store, broadcaster Broadcaster, opts Options, logger *slog.Logger) *Handler {
	if opts.SendBuffer <= 0 {
		opts = DefaultOptions()
	}
	return &Handler{
		registry:    registry,
		roster:      rosterCache,
		store:       st,
		broadcaster: broadcaster,
		opts:        opts,
		logger:      logger,
	}
}

// HandleWebSocket upgrades the request, admits the connection and runs its
// message loop until the transport closes.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(wsConn, h.opts.SendBuffer, h.opts.WriteTimeout)
	nodeID := h.registry.Admit(conn)

	if err := conn.SendJSON(types.NewWelcome(nodeID)); err != nil {
		h.logger.Warn("failed to send welcome", "nodeId", nodeID, "error", err)
		h.registry.Remove(nodeID)
		_ = conn.Close()
		return
	}

	go h.readLoop(wsConn, conn, nodeID)
}

// readLoop processes inbound frames strictly in arrival order. Any
// transport-level read error ends the loop, removes the identity and
// closes the transport.
func (h *Handler) readLoop(ws *websocket.Conn, conn *Connection, nodeID string) {
	defer func() {
		h.registry.Remove(nodeID)
		_ = conn.Close()
	}()

	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	registered := false
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "nodeId", nodeID, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn("received invalid JSON frame", "nodeId", nodeID)
			_ = conn.SendJSON(types.NewErrorLog("invalid message: not a JSON object"))
			continue
		}

		switch env.Type {
		case types.MessageTypeRegister:
			ok := h.handleRegister(conn, nodeID, env)
			if !ok {
				return // unauthorized, connection terminated
			}
			registered = true

		case types.MessageTypeCacheRequest:
			if !h.requireRegistered(conn, registered, env.Type) {
				continue
			}
			_ = conn.SendJSON(types.NewCache(h.roster.CurrentSnapshot()))

		case types.MessageTypeStudentRecord:
			if !h.requireRegistered(conn, registered, env.Type) {
				continue
			}
			h.handleStudentRecord(conn, nodeID, env.Payload)

		case types.MessageTypeHeartbeat:
			h.registry.Touch(nodeID)

		default:
			_ = conn.SendJSON(types.NewLog(fmt.Sprintf("Unknown type %s", env.Type)))
		}
	}
}

// handleRegister validates the token and transitions the connection to
// Registered. Returns false when the connection must be terminated.
func (h *Handler) handleRegister(conn *Connection, nodeID string, env types.Envelope) bool {
	name := fmt.Sprintf("node-%s", nodeID)
	roleStr := ""
	if env.Node != nil {
		if env.Node.Name != "" {
			name = env.Node.Name
		}
		roleStr = env.Node.Role
	}
	role := types.ParseRole(roleStr)

	info, err := h.registry.Register(nodeID, name, role, env.Token)
	if err != nil {
		_ = conn.SendJSON(types.NewErrorLog("Unauthorized: invalid token"))
		return false
	}

	// A freshly registered station immediately gets the current roster.
	_ = conn.SendJSON(types.NewCache(h.roster.CurrentSnapshot()))
	_ = conn.SendJSON(types.NewLog(fmt.Sprintf("Registered %s (%s)", info.Name, info.Role)))
	return true
}

// handleStudentRecord validates, appends, merges and forwards one status
// update. Each message produces at most one log append, one state merge
// and one broadcast; a payload rejected by validation produces none.
func (h *Handler) handleStudentRecord(conn *Connection, nodeID string, raw json.RawMessage) {
	var payload types.StudentRecordPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			_ = conn.SendJSON(types.NewErrorLog("Error: malformed student record payload"))
			return
		}
	}

	valid, err := types.ValidateRecord(payload)
	if err != nil {
		h.logger.Warn("student record rejected", "nodeId", nodeID, "error", err)
		_ = conn.SendJSON(types.NewErrorLog(fmt.Sprintf("Error: %v", err)))
		return
	}

	event := store.NewEvent(valid, nodeID)
	if err := h.store.AppendEvent(event); err != nil {
		h.logger.Error("failed to append event", "nodeId", nodeID, "error", err)
		_ = conn.SendJSON(types.NewErrorLog("Error: failed to persist record"))
		return
	}

	if _, err := h.store.MergeStudentRecord(valid); err != nil {
		h.logger.Error("failed to merge student record", "nodeId", nodeID, "error", err)
		_ = conn.SendJSON(types.NewErrorLog("Error: failed to update state"))
		return
	}

	// Records flow to the complementary scanning role; the sender's own
	// role never receives its own forwarded record.
	senderRole := types.RoleFirstScan
	if info, ok := h.registry.Get(nodeID); ok {
		senderRole = info.Role
	}
	h.broadcaster.Broadcast(types.NewForwardRecord(valid), []types.Role{complementaryRole(senderRole)})
	h.logger.Info("student record processed", "nodeId", nodeID, "studentId", valid.StudentID)
}

// complementaryRole maps a scanning role to the role that consumes its
// updates. Records from last_scan stations flow back to first_scan;
// everything else flows forward to last_scan.
func complementaryRole(r types.Role) types.Role {
	if r == types.RoleLastScan {
		return types.RoleFirstScan
	}
	return types.RoleLastScan
}

func (h *Handler) requireRegistered(conn *Connection, registered bool, msgType string) bool {
	if registered {
		return true
	}
	_ = conn.SendJSON(types.NewErrorLog(fmt.Sprintf("Error: %s requires registration", msgType)))
	return false
}
