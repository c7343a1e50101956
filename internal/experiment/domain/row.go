package domain

import "strings"

// Fixed import template headers.
const (
	ColGermplasmName    = "Germplasm Name"
	ColGermplasmGID     = "Germplasm GID"
	ColTestOrCheck      = "Test (T) or Check (C)"
	ColExpTitle         = "Exp Title"
	ColExpDescription   = "Exp Description"
	ColExpUnit          = "Exp Unit"
	ColExpType          = "Exp Type"
	ColEnv              = "Env"
	ColEnvLocation      = "Env Location"
	ColEnvYear          = "Env Year"
	ColExpUnitID        = "Exp Unit ID"
	ColExpReplicate     = "Exp Replicate #"
	ColExpBlock         = "Exp Block #"
	ColRow              = "Row"
	ColColumn           = "Column"
	ColTreatmentFactors = "Treatment Factors"
	ColObsUnitID        = "ObsUnitID"
)

// FixedColumns lists the template headers in template order.
var FixedColumns = []string{
	ColGermplasmName, ColGermplasmGID, ColTestOrCheck, ColExpTitle, ColExpDescription,
	ColExpUnit, ColExpType, ColEnv, ColEnvLocation, ColEnvYear, ColExpUnitID,
	ColExpReplicate, ColExpBlock, ColRow, ColColumn, ColTreatmentFactors, ColObsUnitID,
}

// TimestampPrefix marks the timestamp column of a phenotype column.
const TimestampPrefix = "TS:"

// CanonicalColumn trims a dynamic header. A timestamp header also loses the
// spaces after its prefix, so "TS: Height" and "TS:Height" name one column.
func CanonicalColumn(name string) string {
	name = strings.TrimSpace(name)
	if rest, ok := strings.CutPrefix(name, TimestampPrefix); ok {
		return TimestampPrefix + strings.TrimSpace(rest)
	}
	return name
}

// IsFixedColumn reports whether name is one of the template headers.
func IsFixedColumn(name string) bool {
	for _, col := range FixedColumns {
		if col == name {
			return true
		}
	}
	return false
}

// ImportRow is one parsed row of the import table. Fields are read-only after
// NewImportRow returns.
type ImportRow struct {
	Index            int
	GermplasmName    string
	GermplasmGID     string
	TestOrCheck      string
	ExpTitle         string
	ExpDescription   string
	ExpUnit          string
	ExpType          string
	Env              string
	EnvLocation      string
	EnvYear          string
	ExpUnitID        string
	ExpReplicateNo   string
	ExpBlockNo       string
	Row              string
	Column           string
	TreatmentFactors string
	ObsUnitID        string

	dynamic map[string]string
}

// NewImportRow maps a header->cell record onto an ImportRow. Cells whose
// header is not a template column are kept as dynamic cells.
func NewImportRow(index int, cells map[string]string) ImportRow {
	get := func(key string) string { return strings.TrimSpace(cells[key]) }
	row := ImportRow{
		Index:            index,
		GermplasmName:    get(ColGermplasmName),
		GermplasmGID:     get(ColGermplasmGID),
		TestOrCheck:      get(ColTestOrCheck),
		ExpTitle:         get(ColExpTitle),
		ExpDescription:   get(ColExpDescription),
		ExpUnit:          get(ColExpUnit),
		ExpType:          get(ColExpType),
		Env:              get(ColEnv),
		EnvLocation:      get(ColEnvLocation),
		EnvYear:          get(ColEnvYear),
		ExpUnitID:        get(ColExpUnitID),
		ExpReplicateNo:   get(ColExpReplicate),
		ExpBlockNo:       get(ColExpBlock),
		Row:              get(ColRow),
		Column:           get(ColColumn),
		TreatmentFactors: get(ColTreatmentFactors),
		ObsUnitID:        get(ColObsUnitID),
		dynamic:          make(map[string]string),
	}
	for key, value := range cells {
		name := CanonicalColumn(key)
		if name == "" || IsFixedColumn(name) {
			continue
		}
		row.dynamic[name] = strings.TrimSpace(value)
	}
	return row
}

// Cell returns the value of a dynamic column.
func (r ImportRow) Cell(column string) string {
	return r.dynamic[column]
}

// DynamicColumns returns the dynamic column names present on the row.
func (r ImportRow) DynamicColumns() []string {
	out := make([]string, 0, len(r.dynamic))
	for name := range r.dynamic {
		out = append(out, name)
	}
	return out
}

// UserInput carries the per-request choices made by the uploader.
type UserInput struct {
	OverwritePermitted bool
	OverwriteReason    string
}
