package types

import "strings"

// Status values for registration and homework. Anything else normalizes
// to unknown.
const (
	StatusRegistered    = "registered"
	StatusNotRegistered = "not_registered"
	StatusDone          = "done"
	StatusNotDone       = "not_done"
	StatusUnknown       = "unknown"
)

// NormalizeRegistrationStatus lowercases and trims a registration status,
// mapping unrecognized values to unknown.
func NormalizeRegistrationStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusRegistered:
		return StatusRegistered
	case StatusNotRegistered:
		return StatusNotRegistered
	default:
		return StatusUnknown
	}
}

// NormalizeHomeworkStatus lowercases and trims a homework status, mapping
// unrecognized values to unknown.
func NormalizeHomeworkStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusDone:
		return StatusDone
	case StatusNotDone:
		return StatusNotDone
	default:
		return StatusUnknown
	}
}

// ValidateRecord checks and normalizes a student_record payload. The
// studentId is required; a payload without one is rejected before any
// event is appended. Statuses are normalized and the comment trimmed.
func ValidateRecord(p StudentRecordPayload) (StudentRecordPayload, error) {
	p.StudentID = strings.TrimSpace(p.StudentID)
	if p.StudentID == "" {
		return StudentRecordPayload{}, ErrMissingStudentID
	}

	p.RegistrationStatus = NormalizeRegistrationStatus(p.RegistrationStatus)
	p.HomeworkStatus = NormalizeHomeworkStatus(p.HomeworkStatus)
	if p.Comment != nil {
		trimmed := strings.TrimSpace(*p.Comment)
		p.Comment = &trimmed
	}
	return p, nil
}
