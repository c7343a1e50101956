// Package validation checks imported cell values against trait metadata.
package validation

import (
	"strings"

	"experiment_import_backend/internal/experiment/columns"
	"experiment_import_backend/internal/experiment/domain"
)

// MissingValue is the sentinel for a deliberately empty cell.
const MissingValue = "NA"

// Validator checks one cell. A nil result means the value is acceptable.
type Validator interface {
	Validate(field, value string, trait *domain.Trait) *domain.ValidationError
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(field, value string, trait *domain.Trait) *domain.ValidationError

// Validate calls f.
func (f ValidatorFunc) Validate(field, value string, trait *domain.Trait) *domain.ValidationError {
	return f(field, value, trait)
}

// Composite runs validators in order and returns the first error.
type Composite struct {
	validators []Validator
}

// NewComposite builds a composite from the given validators.
func NewComposite(validators ...Validator) *Composite {
	return &Composite{validators: validators}
}

// Default returns the standard date, numeric, ordinal, nominal and text chain.
func Default() *Composite {
	return NewComposite(DateValidator{}, NumericValidator{}, OrdinalValidator{}, NominalValidator{}, TextValidator{})
}

// Validate implements Validator.
func (c *Composite) Validate(field, value string, trait *domain.Trait) *domain.ValidationError {
	for _, v := range c.validators {
		if err := v.Validate(field, value, trait); err != nil {
			return err
		}
	}
	return nil
}

// isBlank reports the shared skip rule for blank and NA cells.
func isBlank(value string) bool {
	v := strings.TrimSpace(value)
	return v == "" || v == MissingValue
}

// checkedType returns the data type to check against, or "" when the cell
// needs no type-specific check.
func checkedType(field, value string, trait *domain.Trait) string {
	if isBlank(value) || columns.IsTimestamp(field) {
		return ""
	}
	return trait.DataType()
}
