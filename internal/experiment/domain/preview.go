package domain

// Entity names used in statistics, metrics and commit results.
const (
	EntityTrials       = "trials"
	EntityLocations    = "locations"
	EntityStudies      = "studies"
	EntityGermplasm    = "germplasm"
	EntityUnits        = "observationUnits"
	EntityDatasets     = "datasets"
	EntityObservations = "observations"
)

// EntityCounts is the new/mutated/existing tally of one entity type.
type EntityCounts struct {
	New      int `json:"new"`
	Mutated  int `json:"mutated"`
	Existing int `json:"existing"`
}

// Statistics maps entity type to its counts.
type Statistics map[string]EntityCounts

// RowPreview lists the state each entity of a row resolved to.
type RowPreview struct {
	Row          int              `json:"row"`
	Trial        State            `json:"trial,omitempty"`
	Location     State            `json:"location,omitempty"`
	Study        State            `json:"study,omitempty"`
	Germplasm    State            `json:"germplasm,omitempty"`
	Unit         State            `json:"observationUnit,omitempty"`
	Observations map[string]State `json:"observations,omitempty"`
}

// ImportPreview is the result of one run, preview or commit.
type ImportPreview struct {
	Workflow   string              `json:"workflow"`
	Commit     bool                `json:"commit"`
	Statistics Statistics          `json:"statistics"`
	Rows       []RowPreview        `json:"rows"`
	Errors     []RowErrors         `json:"errors,omitempty"`
	Committed  map[string][]string `json:"committed,omitempty"`
}

// BuildRowPreviews resolves each row's links to the current states.
func (s *PendingSet) BuildRowPreviews(rows []ImportRow) []RowPreview {
	out := make([]RowPreview, 0, len(rows))
	for _, row := range rows {
		preview := RowPreview{Row: row.Index}
		links, ok := s.LinkedRow(row.Index)
		if !ok {
			out = append(out, preview)
			continue
		}
		preview.Trial = stateOf(s.Trials, links.Trial)
		preview.Location = stateOf(s.Locations, links.Location)
		preview.Study = stateOf(s.Studies, links.Study)
		preview.Germplasm = stateOf(s.Germplasm, links.Germplasm)
		preview.Unit = stateOf(s.Units, links.Unit)
		if len(links.Observations) > 0 {
			preview.Observations = make(map[string]State, len(links.Observations))
			for column, hash := range links.Observations {
				preview.Observations[column] = stateOf(s.Observations, hash)
			}
		}
		out = append(out, preview)
	}
	return out
}

func stateOf[T any](l *Lookup[T], key string) State {
	if key == "" {
		return ""
	}
	if p, ok := l.Get(key); ok {
		return p.State
	}
	return ""
}
