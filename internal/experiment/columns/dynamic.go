// Package columns partitions the free-form columns of an import table into
// phenotype columns and their timestamp columns.
package columns

import (
	"fmt"
	"sort"
	"strings"

	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/platform/apperr"
)

// TimestampPrefix marks the timestamp column of a phenotype column.
const TimestampPrefix = domain.TimestampPrefix

const reservedChars = ".[]"

// Columns is the result of a successful parse.
type Columns struct {
	Phenotypes []string
	Timestamps []string
}

// IsTimestamp reports whether name is a timestamp column.
func IsTimestamp(name string) bool {
	return strings.HasPrefix(name, TimestampPrefix)
}

// TimestampFor returns the timestamp column name of a phenotype column.
func TimestampFor(phenotype string) string {
	return TimestampPrefix + phenotype
}

// PhenotypeOf returns the phenotype a timestamp column belongs to.
func PhenotypeOf(timestamp string) string {
	return strings.TrimSpace(strings.TrimPrefix(timestamp, TimestampPrefix))
}

// HasTimestamp reports whether the phenotype has a timestamp column.
func (c Columns) HasTimestamp(phenotype string) bool {
	want := TimestampFor(phenotype)
	for _, ts := range c.Timestamps {
		if ts == want {
			return true
		}
	}
	return false
}

// Parse splits the dynamic column names. It fails with an unprocessable error,
// returning no columns, on reserved characters, duplicate names or a
// timestamp column without its phenotype column.
func Parse(dynamic []string) (Columns, error) {
	var (
		phenotypes []string
		timestamps []string
		reserved   []string
		duplicates []string
	)
	seen := make(map[string]struct{}, len(dynamic))

	for _, raw := range dynamic {
		name := domain.CanonicalColumn(raw)
		if name == "" {
			continue
		}
		if strings.ContainsAny(name, reservedChars) {
			reserved = append(reserved, name)
			continue
		}
		if _, dup := seen[name]; dup {
			duplicates = append(duplicates, name)
			continue
		}
		seen[name] = struct{}{}

		if IsTimestamp(name) {
			timestamps = append(timestamps, name)
			continue
		}
		phenotypes = append(phenotypes, name)
	}

	if len(reserved) > 0 {
		return Columns{}, apperr.Unprocessable(fmt.Sprintf(
			"column names cannot contain periods or square brackets: %s", strings.Join(reserved, ", ")))
	}
	if len(duplicates) > 0 {
		return Columns{}, apperr.Unprocessable(fmt.Sprintf(
			"duplicate column names: %s", strings.Join(duplicates, ", ")))
	}

	phenotypeSet := make(map[string]struct{}, len(phenotypes))
	for _, p := range phenotypes {
		phenotypeSet[p] = struct{}{}
	}
	var orphans []string
	for _, ts := range timestamps {
		if _, ok := phenotypeSet[PhenotypeOf(ts)]; !ok {
			orphans = append(orphans, ts)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		return Columns{}, apperr.Unprocessable(fmt.Sprintf(
			"timestamp columns without a matching phenotype column: %s", strings.Join(orphans, ", ")))
	}

	return Columns{Phenotypes: phenotypes, Timestamps: timestamps}, nil
}
