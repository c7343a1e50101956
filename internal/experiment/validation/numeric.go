package validation

import (
	"fmt"
	"strconv"
	"strings"

	"experiment_import_backend/internal/experiment/domain"
)

// NumericValidator checks NUMERICAL and DURATION traits.
type NumericValidator struct{}

// Validate implements Validator.
func (NumericValidator) Validate(field, value string, trait *domain.Trait) *domain.ValidationError {
	switch checkedType(field, value, trait) {
	case domain.DataTypeNumerical, domain.DataTypeDuration:
	default:
		return nil
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return domain.NewUnprocessable(field, "Non-numeric value detected")
	}

	scale := trait.Scale.ValidValues
	if (scale.Min != nil && n < *scale.Min) || (scale.Max != nil && n > *scale.Max) {
		return domain.NewUnprocessable(field, fmt.Sprintf("Value outside of min/max range detected. Level must be between %s-%s", bound(scale.Min), bound(scale.Max)))
	}
	return nil
}

func bound(v *float64) string {
	if v == nil {
		return "?"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
