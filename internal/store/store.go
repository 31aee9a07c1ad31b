// Package store owns the durable side of the hub: the append-only event
// log (events.jsonl) and the latest-state table (state.json). The event
// log is the source of truth for audit and replay; the latest-state table
// is a derived, overwritable projection of it.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"scanhub/pkg/storage"
	"scanhub/pkg/types"
)

const (
	eventsFileName = "events.jsonl"
	stateFileName  = "state.json"
)

// Store persists events and latest student state under a single storage
// directory. All mutating operations hold mu so a read-modify-persist
// merge is one critical section; two near-simultaneous student_record
// events cannot lose each other's update.
type Store struct {
	mu         sync.Mutex
	eventsPath string
	statePath  string
	logger     *slog.Logger
}

// New creates the storage directory if needed and returns a Store over it.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
	}
	return &Store{
		eventsPath: filepath.Join(dir, eventsFileName),
		statePath:  filepath.Join(dir, stateFileName),
		logger:     logger,
	}, nil
}

// NewEvent builds an event record with a server-assigned ID and timestamp.
func NewEvent(payload types.StudentRecordPayload, sourceNodeID string) types.Event {
	return types.Event{
		ID:           uuid.NewString(),
		Type:         types.EventTypeStudentRecord,
		Payload:      payload,
		TS:           types.NowISO(),
		SourceNodeID: sourceNodeID,
	}
}

// AppendEvent writes one newline-delimited record to the end of the log.
func (s *Store) AppendEvent(event types.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := storage.AppendLine(s.eventsPath, line); err != nil {
		return err
	}
	s.logger.Debug("event appended", "eventId", event.ID, "studentId", event.Payload.StudentID)
	return nil
}

// MergeStudentRecord applies a last-write-wins update for the payload's
// studentId and persists the full state atomically. The stored record is
// stamped with the server's processing time, not the event's claimed time.
func (s *Store) MergeStudentRecord(payload types.StudentRecordPayload) (types.StudentState, error) {
	if payload.StudentID == "" {
		return types.StudentState{}, types.ErrMissingStudentID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadStateLocked()
	if err != nil {
		return types.StudentState{}, err
	}

	updated := types.StudentState{
		StudentID:          payload.StudentID,
		RegistrationStatus: types.NormalizeRegistrationStatus(payload.RegistrationStatus),
		HomeworkStatus:     types.NormalizeHomeworkStatus(payload.HomeworkStatus),
		Comment:            payload.Comment,
		Source:             payload.Source,
		LastUpdatedAt:      types.NowISO(),
	}
	state[payload.StudentID] = updated

	if err := storage.WriteJSONAtomic(s.statePath, state); err != nil {
		return types.StudentState{}, err
	}
	return updated, nil
}

// LoadState returns the full latest-state table. A missing state file
// yields an empty table.
func (s *Store) LoadState() (map[string]types.StudentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadStateLocked()
}

func (s *Store) loadStateLocked() (map[string]types.StudentState, error) {
	state := make(map[string]types.StudentState)
	err := storage.ReadJSON(s.statePath, &state)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return state, nil
}

// LoadEvents reads the event log in append order. When since is non-empty,
// only events whose timestamp is not less than since are returned, by
// lexicographic comparison of the RFC3339 strings. Unparseable lines are
// skipped, not fatal.
func (s *Store) LoadEvents(since string) ([]types.Event, error) {
	f, err := os.Open(s.eventsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []types.Event{}, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	events := []types.Event{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			s.logger.Warn("skipping malformed event log line", "error", err)
			continue
		}
		if since != "" && ev.TS < since {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

// EventsPath returns the path of the raw event log file.
func (s *Store) EventsPath() string {
	return s.eventsPath
}

// Reset clears the latest-state table and truncates the event log.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := storage.WriteJSONAtomic(s.statePath, map[string]types.StudentState{}); err != nil {
		return err
	}
	if err := os.WriteFile(s.eventsPath, nil, 0o644); err != nil {
		return fmt.Errorf("failed to truncate event log: %w", err)
	}
	s.logger.Info("store reset")
	return nil
}
