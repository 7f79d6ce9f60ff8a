// Package validation prüft hochgeladene CSV-Dateien und wandelt gültige Zeilen in
// DrugCandidates um. Das Paket hat keine Seiteneffekte.
package validation

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"drug-analytics/models"
)

const (
	ColumnDrugName = "drug_name"
	ColumnTarget   = "target"
	ColumnEfficacy = "efficacy"

	DefaultMaxRows = 10000

	minEfficacy = 0.0
	maxEfficacy = 100.0
)

// RequiredColumns in der Reihenfolge, in der fehlende Spalten gemeldet werden.
var RequiredColumns = []string{ColumnDrugName, ColumnTarget, ColumnEfficacy}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decimalNumber lässt nur Dezimalschreibweise zu. strconv.ParseFloat akzeptiert zusätzlich
// Hex-Floats und Unterstriche.
var decimalNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// Config enthält die Grenzen des Validators.
type Config struct {
	MaxRows int
}

// Validator prüft CSV-Dateien gegen das Drug-Schema.
type Validator struct {
	maxRows int
}

// New erstellt einen Validator. MaxRows <= 0 fällt auf DefaultMaxRows zurück.
func New(cfg Config) *Validator {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	return &Validator{maxRows: cfg.MaxRows}
}

// Validate prüft data und liefert entweder alle Kandidaten oder einen *Error.
// Zeilenfehler werden für alle Zeilen gesammelt, sortiert nach Zeile und Spalte.
func (v *Validator) Validate(data []byte, encoding string) ([]models.DrugCandidate, error) {
	if !isUTF8Name(encoding) {
		return nil, fileError(KindEncoding, fmt.Sprintf("unsupported encoding %q: file must be UTF-8", encoding), -1)
	}
	if !utf8.Valid(data) {
		return nil, fileError(KindEncoding, "file must be a valid UTF-8 encoded CSV", -1)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fileError(KindHeader, "missing header row", -1)
	}
	if err != nil {
		return nil, fileError(KindMalformed, fmt.Sprintf("malformed CSV: %v", err), -1)
	}

	index := columnIndex(header)
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fileError(KindHeader, "missing columns: "+strings.Join(missing, ", "), -1)
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fileError(KindMalformed, fmt.Sprintf("malformed CSV: %v", err), -1)
	}

	total := len(rows)
	if total > v.maxRows {
		return nil, fileError(KindRowLimit, fmt.Sprintf("row limit exceeded: %d rows (max %d)", total, v.maxRows), total)
	}
	if total == 0 {
		return nil, fileError(KindEmpty, "empty file: no data rows", 0)
	}

	candidates := make([]models.DrugCandidate, 0, total)
	var issues []Issue
	for i, row := range rows {
		rowNum := i + 1
		candidate, rowIssues := validateRow(rowNum, row, index)
		if len(rowIssues) > 0 {
			issues = append(issues, rowIssues...)
			continue
		}
		candidates = append(candidates, candidate)
	}
	if len(issues) > 0 {
		return nil, &Error{Issues: issues, TotalRows: total}
	}
	return candidates, nil
}

func validateRow(rowNum int, row []string, index map[string]int) (models.DrugCandidate, []Issue) {
	field := func(name string) string {
		i := index[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var issues []Issue
	drugName := field(ColumnDrugName)
	if drugName == "" {
		issues = append(issues, rowIssue(rowNum, ColumnDrugName, "", "cannot be empty"))
	}
	target := field(ColumnTarget)
	if target == "" {
		issues = append(issues, rowIssue(rowNum, ColumnTarget, "", "cannot be empty"))
	}

	raw := field(ColumnEfficacy)
	var efficacy float64
	switch {
	case raw == "":
		issues = append(issues, rowIssue(rowNum, ColumnEfficacy, "", "cannot be empty"))
	default:
		f, err := strconv.ParseFloat(raw, 64)
		if !decimalNumber.MatchString(raw) || err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			issues = append(issues, rowIssue(rowNum, ColumnEfficacy, raw, "must be a number"))
		} else if f < minEfficacy || f > maxEfficacy {
			issues = append(issues, rowIssue(rowNum, ColumnEfficacy, raw, "must be between 0 and 100"))
		} else {
			// -0 wird als 0 gespeichert.
			efficacy = f + 0
		}
	}

	if len(issues) > 0 {
		return models.DrugCandidate{}, issues
	}
	return models.DrugCandidate{
		RowNumber: rowNum,
		DrugName:  drugName,
		Target:    target,
		Efficacy:  efficacy,
	}, nil
}

func columnIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	return index
}

func isUTF8Name(encoding string) bool {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}
