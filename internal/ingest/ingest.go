// Package ingest turns uploaded tabular files (.xlsx or .csv) into roster
// rows. It is a stateless transform: column headers are matched against a
// small alias list, rows without a usable Student ID are dropped and
// reported, and optional fields default to null or unknown.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"scanhub/pkg/types"
)

var (
	// ErrMissingIDColumn means no Student-ID-like column was found; the
	// upload is rejected and no partial roster is applied.
	ErrMissingIDColumn = errors.New("Student ID column not found")

	// ErrUnsupportedFormat means the file extension is not .xlsx or .csv.
	ErrUnsupportedFormat = errors.New("unsupported file format: expected .xlsx or .csv")

	// ErrNoValidRows means every row was dropped during validation.
	ErrNoValidRows = errors.New("no valid student records found in file")
)

// Column aliases, matched case- and spacing-insensitively.
var (
	idAliases           = []string{"student id", "id", "studentid"}
	nameAliases         = []string{"name", "full name", "fullname"}
	gradeAliases        = []string{"grade"}
	classAliases        = []string{"class", "class name", "classname"}
	registrationAliases = []string{"registration", "registration status"}
	homeworkAliases     = []string{"homework", "homework status"}
)

// Result is the outcome of parsing one uploaded file. RowErrors describes
// rows that were dropped; they do not fail the upload as long as at least
// one valid row remains.
type Result struct {
	Rows      []types.StudentRosterRow
	RowErrors []string
}

// ParseFile dispatches on the file extension and parses the tabular
// content of r into roster rows.
func ParseFile(filename string, r io.Reader) (*Result, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return parseXLSX(r)
	case ".csv":
		return parseCSV(r)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func parseXLSX(r io.Reader) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoValidRows
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return parseTable(rows)
}

func parseCSV(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	return parseTable(rows)
}

// parseTable maps a header row plus data rows to roster rows.
func parseTable(rows [][]string) (*Result, error) {
	if len(rows) == 0 {
		return nil, ErrMissingIDColumn
	}

	cols := columnIndex(rows[0])
	idCol, ok := pick(cols, idAliases)
	if !ok {
		return nil, ErrMissingIDColumn
	}
	nameCol, _ := pick(cols, nameAliases)
	gradeCol, _ := pick(cols, gradeAliases)
	classCol, _ := pick(cols, classAliases)
	regCol, hasReg := pick(cols, registrationAliases)
	hwCol, hasHW := pick(cols, homeworkAliases)

	result := &Result{Rows: []types.StudentRosterRow{}}
	seen := make(map[string]struct{})
	for i, row := range rows[1:] {
		rowNum := i + 2 // 1-based, after the header

		id := strings.TrimSpace(cell(row, idCol))
		if id == "" {
			result.RowErrors = append(result.RowErrors, fmt.Sprintf("row %d: Student ID is empty", rowNum))
			continue
		}
		if _, dup := seen[id]; dup {
			result.RowErrors = append(result.RowErrors, fmt.Sprintf("row %d: duplicate Student ID %q", rowNum, id))
			continue
		}
		seen[id] = struct{}{}

		reg := types.StatusUnknown
		if hasReg {
			reg = types.NormalizeRegistrationStatus(cell(row, regCol))
		}
		hw := types.StatusUnknown
		if hasHW {
			hw = types.NormalizeHomeworkStatus(cell(row, hwCol))
		}

		result.Rows = append(result.Rows, types.StudentRosterRow{
			StudentID:          id,
			FullName:           optional(row, nameCol),
			Grade:              optional(row, gradeCol),
			ClassName:          optional(row, classCol),
			RegistrationStatus: reg,
			HomeworkStatus:     hw,
			LastUpdatedAt:      types.NowISO(),
		})
	}

	if len(result.Rows) == 0 {
		return result, ErrNoValidRows
	}
	return result, nil
}

// columnIndex maps normalized header names to column positions.
func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if key == "" {
			continue
		}
		if _, exists := cols[key]; !exists {
			cols[key] = i
		}
	}
	return cols
}

// normalizeHeader lowercases a header and collapses internal whitespace.
func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}

func pick(cols map[string]int, aliases []string) (int, bool) {
	for _, alias := range aliases {
		if idx, ok := cols[alias]; ok {
			return idx, true
		}
	}
	return -1, false
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func optional(row []string, idx int) *string {
	v := strings.TrimSpace(cell(row, idx))
	if v == "" {
		return nil
	}
	return &v
}
