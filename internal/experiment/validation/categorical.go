package validation

import (
	"strings"

	"experiment_import_backend/internal/experiment/domain"
)

// OrdinalValidator requires an exact category value.
type OrdinalValidator struct{}

// Validate implements Validator.
func (OrdinalValidator) Validate(field, value string, trait *domain.Trait) *domain.ValidationError {
	if checkedType(field, value, trait) != domain.DataTypeOrdinal {
		return nil
	}
	v := strings.TrimSpace(value)
	for _, c := range trait.Scale.ValidValues.Categories {
		if c.Value == v {
			return nil
		}
	}
	return domain.NewUnprocessable(field, "Undefined ordinal category detected")
}

// NominalValidator requires a category value, ignoring case.
type NominalValidator struct{}

// Validate implements Validator.
func (NominalValidator) Validate(field, value string, trait *domain.Trait) *domain.ValidationError {
	if checkedType(field, value, trait) != domain.DataTypeNominal {
		return nil
	}
	v := strings.TrimSpace(value)
	for _, c := range trait.Scale.ValidValues.Categories {
		if strings.EqualFold(c.Value, v) {
			return nil
		}
	}
	return domain.NewUnprocessable(field, "Undefined nominal category detected")
}
