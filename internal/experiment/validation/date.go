package validation

import (
	"strings"
	"time"

	"experiment_import_backend/internal/experiment/columns"
	"experiment_import_backend/internal/experiment/domain"
)

const dateLayout = "2006-01-02"

// DateValidator checks DATE traits and every timestamp column.
type DateValidator struct{}

// Validate implements Validator.
func (DateValidator) Validate(field, value string, trait *domain.Trait) *domain.ValidationError {
	if isBlank(value) {
		return nil
	}
	if columns.IsTimestamp(field) {
		if _, ok := ParseTimestamp(value); !ok {
			return domain.NewUnprocessable(field, "Incorrect datetime format detected. Expected YYYY-MM-DD or YYYY-MM-DDThh:mm:ss+hh:mm")
		}
		return nil
	}
	if checkedType(field, value, trait) != domain.DataTypeDate {
		return nil
	}
	if _, err := time.Parse(dateLayout, strings.TrimSpace(value)); err != nil {
		return domain.NewUnprocessable(field, "Incorrect date format detected. Expected YYYY-MM-DD")
	}
	return nil
}

// ParseTimestamp reads an observation timestamp. Bare dates are normalized to
// midnight UTC.
func ParseTimestamp(value string) (time.Time, bool) {
	v := strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts, true
	}
	if d, err := time.Parse(dateLayout, v); err == nil {
		return d.UTC(), true
	}
	return time.Time{}, false
}
