package types

import (
	"strings"
	"time"
)

// Role classifies a scan station at registration time and determines
// which broadcast messages it receives.
type Role string

const (
	RoleFirstScan Role = "first_scan"
	RoleLastScan  Role = "last_scan"
	RoleOther     Role = "other"
)

// ParseRole maps a client-supplied role string to a known Role.
// An empty string defaults to first_scan, anything unrecognized to other.
func ParseRole(s string) Role {
	switch Role(strings.TrimSpace(s)) {
	case RoleFirstScan:
		return RoleFirstScan
	case RoleLastScan:
		return RoleLastScan
	case RoleOther:
		return RoleOther
	case "":
		return RoleFirstScan
	default:
		return RoleOther
	}
}

// NowISO returns the current UTC time as an RFC3339 string. All wire and
// stored timestamps use this format so a "since" bound can be applied by
// comparing timestamp strings lexicographically.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NodeInfo is the registry's view of a connected scan station.
type NodeInfo struct {
	NodeID   string `json:"nodeId"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	LastSeen string `json:"lastSeen"`
}

// StudentRosterRow is one student in the roster snapshot. Optional fields
// are pointers so absent values survive a persistence round trip.
type StudentRosterRow struct {
	StudentID          string  `json:"studentId"`
	FullName           *string `json:"fullName"`
	Grade              *string `json:"grade"`
	ClassName          *string `json:"className"`
	RegistrationStatus string  `json:"registrationStatus"`
	HomeworkStatus     string  `json:"homeworkStatus"`
	LastUpdatedAt      string  `json:"lastUpdatedAt"`
}

// RosterSnapshot is the full versioned roster. It is replaced wholesale on
// each ingestion; Version increments by exactly one per replacement.
type RosterSnapshot struct {
	Version  int                `json:"version"`
	Students []StudentRosterRow `json:"students"`
}

// StudentRecordPayload is the body of a student_record message.
type StudentRecordPayload struct {
	StudentID          string  `json:"studentId"`
	RegistrationStatus string  `json:"registrationStatus,omitempty"`
	HomeworkStatus     string  `json:"homeworkStatus,omitempty"`
	Comment            *string `json:"comment,omitempty"`
	Source             *string `json:"source,omitempty"`
}

// StudentState is the latest merged status for one student. It is a
// derived projection of the event log; each merge is last-write-wins by
// processing order and stamped with the server's clock, not the event's
// claimed time.
type StudentState struct {
	StudentID          string  `json:"studentId"`
	RegistrationStatus string  `json:"registrationStatus"`
	HomeworkStatus     string  `json:"homeworkStatus"`
	Comment            *string `json:"comment,omitempty"`
	Source             *string `json:"source,omitempty"`
	LastUpdatedAt      string  `json:"lastUpdatedAt"`
}

// Event is one immutable record in the append-only event log.
type Event struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Payload      StudentRecordPayload `json:"payload"`
	TS           string               `json:"ts"`
	SourceNodeID string               `json:"sourceNodeId"`
}

// EventTypeStudentRecord is the only event type currently written to the log.
const EventTypeStudentRecord = "student_record"
