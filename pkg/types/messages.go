package types

import "encoding/json"

// Inbound message types.
const (
	MessageTypeRegister      = "register"
	MessageTypeCacheRequest  = "cache_request"
	MessageTypeStudentRecord = "student_record"
	MessageTypeHeartbeat     = "heartbeat"
)

// Outbound message types.
const (
	MessageTypeWelcome       = "welcome"
	MessageTypeCache         = "cache"
	MessageTypeCacheUpdate   = "cache_update"
	MessageTypeLog           = "log"
	MessageTypeForwardRecord = "forward_student_record"
	MessageTypeSystemReset   = "system_reset"
)

// Envelope is the tagged wrapper for every inbound frame. Type selects the
// variant; the remaining fields are populated per type and validated before
// use.
type Envelope struct {
	Type    string          `json:"type"`
	Node    *NodeRef        `json:"node,omitempty"`
	Token   string          `json:"token,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NodeRef identifies the registering station inside a register frame.
type NodeRef struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// WelcomeMessage is sent once, immediately after admission.
type WelcomeMessage struct {
	Type   string `json:"type"`
	NodeID string `json:"nodeId"`
}

// CacheMessage carries a full roster snapshot. Type is either cache
// (point-to-point reply) or cache_update (broadcast after ingestion).
type CacheMessage struct {
	Type     string             `json:"type"`
	Version  int                `json:"version"`
	Students []StudentRosterRow `json:"students"`
}

// LogMessage is a diagnostic or informational line pushed to a client.
type LogMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
	TS      string `json:"ts"`
}

// ForwardRecordMessage routes a merged student record to the complementary
// scanning role.
type ForwardRecordMessage struct {
	Type    string               `json:"type"`
	Payload StudentRecordPayload `json:"payload"`
	TS      string               `json:"ts"`
}

// SystemResetMessage announces that all server-side state was cleared.
type SystemResetMessage struct {
	Type string `json:"type"`
	TS   string `json:"ts"`
}

func NewWelcome(nodeID string) WelcomeMessage {
	return WelcomeMessage{Type: MessageTypeWelcome, NodeID: nodeID}
}

func NewCache(snapshot RosterSnapshot) CacheMessage {
	return CacheMessage{Type: MessageTypeCache, Version: snapshot.Version, Students: snapshot.Students}
}

func NewCacheUpdate(snapshot RosterSnapshot) CacheMessage {
	return CacheMessage{Type: MessageTypeCacheUpdate, Version: snapshot.Version, Students: snapshot.Students}
}

func NewLog(message string) LogMessage {
	return LogMessage{Type: MessageTypeLog, Message: message, TS: NowISO()}
}

func NewErrorLog(message string) LogMessage {
	return LogMessage{Type: MessageTypeLog, Message: message, Level: "error", TS: NowISO()}
}

func NewForwardRecord(payload StudentRecordPayload) ForwardRecordMessage {
	return ForwardRecordMessage{Type: MessageTypeForwardRecord, Payload: payload, TS: NowISO()}
}

func NewSystemReset() SystemResetMessage {
	return SystemResetMessage{Type: MessageTypeSystemReset, TS: NowISO()}
}
