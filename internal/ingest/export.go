package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"scanhub/pkg/types"
)

// stateHeaders is the column order for CSV and workbook exports.
var stateHeaders = []string{"studentId", "registrationStatus", "homeworkStatus", "comment", "source", "lastUpdatedAt"}

// sortedStates returns the latest-state table as a slice ordered by
// studentId for deterministic export output.
func sortedStates(state map[string]types.StudentState) []types.StudentState {
	out := make([]types.StudentState, 0, len(state))
	for _, s := range state {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// ExportStateJSON renders the latest-state table as an indented JSON array.
func ExportStateJSON(state map[string]types.StudentState) ([]byte, error) {
	data, err := json.MarshalIndent(sortedStates(state), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state export: %w", err)
	}
	return data, nil
}

// ExportStateCSV renders the latest-state table as CSV with a header row.
func ExportStateCSV(state map[string]types.StudentState) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(stateHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, s := range sortedStates(state) {
		record := []string{
			s.StudentID,
			s.RegistrationStatus,
			s.HomeworkStatus,
			deref(s.Comment),
			deref(s.Source),
			s.LastUpdatedAt,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportStateWorkbook renders the latest-state table as an .xlsx workbook
// with a Students sheet and a Statistics sheet summarizing the status
// buckets.
func ExportStateWorkbook(state map[string]types.StudentState) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const studentsSheet = "Students"
	if err := f.SetSheetName("Sheet1", studentsSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(stateHeaders))
	for i, h := range stateHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(studentsSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write workbook header: %w", err)
	}

	states := sortedStates(state)
	for i, s := range states {
		row := []interface{}{
			s.StudentID,
			s.RegistrationStatus,
			s.HomeworkStatus,
			deref(s.Comment),
			deref(s.Source),
			s.LastUpdatedAt,
		}
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to compute cell reference: %w", err)
		}
		if err := f.SetSheetRow(studentsSheet, cellRef, &row); err != nil {
			return nil, fmt.Errorf("failed to write workbook row: %w", err)
		}
	}

	if err := writeStatisticsSheet(f, states); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeStatisticsSheet(f *excelize.File, states []types.StudentState) error {
	const sheet = "Statistics"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create statistics sheet: %w", err)
	}

	count := func(pred func(types.StudentState) bool) int {
		n := 0
		for _, s := range states {
			if pred(s) {
				n++
			}
		}
		return n
	}

	stats := [][]interface{}{
		{"Total Students", len(states)},
		{"Registered", count(func(s types.StudentState) bool { return s.RegistrationStatus == types.StatusRegistered })},
		{"Not Registered", count(func(s types.StudentState) bool { return s.RegistrationStatus == types.StatusNotRegistered })},
		{"Unknown Registration", count(func(s types.StudentState) bool { return s.RegistrationStatus == types.StatusUnknown })},
		{"Homework Done", count(func(s types.StudentState) bool { return s.HomeworkStatus == types.StatusDone })},
		{"Homework Not Done", count(func(s types.StudentState) bool { return s.HomeworkStatus == types.StatusNotDone })},
		{"Unknown Homework", count(func(s types.StudentState) bool { return s.HomeworkStatus == types.StatusUnknown })},
		{"Export Time", types.NowISO()},
	}
	for i, row := range stats {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to compute cell reference: %w", err)
		}
		r := row
		if err := f.SetSheetRow(sheet, cellRef, &r); err != nil {
			return fmt.Errorf("failed to write statistics row: %w", err)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
