package reconcile

import (
	"context"
	"fmt"

	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/platform/apperr"
)

// ValidateFields runs the field validators over every dynamic cell.
func (e *Engine) ValidateFields(_ context.Context, s *Session) error {
	for _, row := range s.Rows {
		for _, col := range s.Columns.Phenotypes {
			var trait *domain.Trait
			if t, ok := s.Traits[col]; ok {
				trait = &t
			}
			s.Errors.Add(row.Index, e.validator.Validate(col, row.Cell(col), trait))
		}
		for _, col := range s.Columns.Timestamps {
			s.Errors.Add(row.Index, e.validator.Validate(col, row.Cell(col), nil))
		}
	}
	return nil
}

// Gate stops a commit that collected validation errors. Previews pass so the
// errors reach the caller with the rest of the result.
func (e *Engine) Gate(_ context.Context, s *Session) error {
	if !s.Commit || !s.Errors.HasErrors() {
		return nil
	}
	return apperr.Validation(fmt.Sprintf("import has %d validation errors", s.Errors.Count())).
		WithDetails(s.Errors.Rows())
}
