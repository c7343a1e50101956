package domain

import (
	"net/http"
	"sort"
)

// ValidationError is one per-cell problem found during reconciliation.
type ValidationError struct {
	Field      string `json:"field"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// NewUnprocessable builds a 422 cell error.
func NewUnprocessable(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message, StatusCode: http.StatusUnprocessableEntity}
}

// NewConflict builds a 409 cell error, used for overwrite protection.
func NewConflict(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message, StatusCode: http.StatusConflict}
}

// RowErrors groups the errors of one row.
type RowErrors struct {
	Row    int               `json:"row"`
	Errors []ValidationError `json:"errors"`
}

// ValidationErrors collects errors by row index.
type ValidationErrors struct {
	rows map[int][]ValidationError
}

// NewValidationErrors creates an empty collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{rows: make(map[int][]ValidationError)}
}

// Add records err against row. Nil errors are ignored.
func (v *ValidationErrors) Add(row int, err *ValidationError) {
	if err == nil {
		return
	}
	v.rows[row] = append(v.rows[row], *err)
}

// HasErrors reports whether anything was collected.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.rows) > 0
}

// Count returns the total number of collected errors.
func (v *ValidationErrors) Count() int {
	n := 0
	for _, errs := range v.rows {
		n += len(errs)
	}
	return n
}

// ForRow returns the errors recorded for one row.
func (v *ValidationErrors) ForRow(row int) []ValidationError {
	return v.rows[row]
}

// Rows returns the collected errors ordered by row index.
func (v *ValidationErrors) Rows() []RowErrors {
	indexes := make([]int, 0, len(v.rows))
	for idx := range v.rows {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]RowErrors, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, RowErrors{Row: idx, Errors: v.rows[idx]})
	}
	return out
}
