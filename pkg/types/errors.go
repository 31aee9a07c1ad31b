package types

import "errors"

var (
	// ErrMissingStudentID marks a student_record payload without a usable
	// studentId. Such payloads are rejected before the event is appended.
	ErrMissingStudentID = errors.New("student record is missing studentId")
)
