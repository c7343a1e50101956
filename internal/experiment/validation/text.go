package validation

import (
	"strings"

	"experiment_import_backend/internal/experiment/domain"
)

// TextValidator accepts any text except a literal "null".
type TextValidator struct{}

// Validate implements Validator.
func (TextValidator) Validate(field, value string, trait *domain.Trait) *domain.ValidationError {
	if checkedType(field, value, trait) != domain.DataTypeText {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(value), "null") {
		return domain.NewUnprocessable(field, "Text value cannot be null")
	}
	return nil
}
