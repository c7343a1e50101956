package brapi

import (
	"strings"

	"experiment_import_backend/internal/experiment/domain"
)

// descriptor tells a generic backend how to address one entity type.
type descriptor[T any] struct {
	path        string // BrAPI resource path, e.g. "trials"
	idField     string // search field for db ids
	nameField   string // search field for names; germplasm are named by GID
	bulkUpdate  bool   // PUT /{path} with an id->entity map
	id          func(*T) *string
	name        func(*T) string
	refs        func(*T) []domain.ExternalReference
	program     func(*T) string
	entityLabel string
}

var trialDescriptor = descriptor[domain.Trial]{
	path:        "trials",
	idField:     "trialDbIds",
	nameField:   "trialNames",
	id:          func(t *domain.Trial) *string { return &t.TrialDbID },
	name:        func(t *domain.Trial) string { return t.TrialName },
	refs:        func(t *domain.Trial) []domain.ExternalReference { return t.References },
	program:     func(t *domain.Trial) string { return t.ProgramDbID },
	entityLabel: domain.EntityTrials,
}

var locationDescriptor = descriptor[domain.Location]{
	path:        "locations",
	idField:     "locationDbIds",
	nameField:   "locationNames",
	id:          func(l *domain.Location) *string { return &l.LocationDbID },
	name:        func(l *domain.Location) string { return l.LocationName },
	refs:        func(l *domain.Location) []domain.ExternalReference { return l.References },
	entityLabel: domain.EntityLocations,
}

var studyDescriptor = descriptor[domain.Study]{
	path:        "studies",
	idField:     "studyDbIds",
	nameField:   "studyNames",
	id:          func(s *domain.Study) *string { return &s.StudyDbID },
	name:        func(s *domain.Study) string { return s.StudyName },
	refs:        func(s *domain.Study) []domain.ExternalReference { return s.References },
	entityLabel: domain.EntityStudies,
}

var germplasmDescriptor = descriptor[domain.Germplasm]{
	path:        "germplasm",
	idField:     "germplasmDbIds",
	nameField:   "accessionNumbers",
	id:          func(g *domain.Germplasm) *string { return &g.GermplasmDbID },
	name:        func(g *domain.Germplasm) string { return g.AccessionNumber },
	refs:        func(g *domain.Germplasm) []domain.ExternalReference { return g.References },
	entityLabel: domain.EntityGermplasm,
}

var unitDescriptor = descriptor[domain.ObservationUnit]{
	path:        "observationunits",
	idField:     "observationUnitDbIds",
	nameField:   "observationUnitNames",
	bulkUpdate:  true,
	id:          func(u *domain.ObservationUnit) *string { return &u.ObservationUnitDbID },
	name:        func(u *domain.ObservationUnit) string { return u.ObservationUnitName },
	refs:        func(u *domain.ObservationUnit) []domain.ExternalReference { return u.References },
	program:     func(u *domain.ObservationUnit) string { return u.ProgramDbID },
	entityLabel: domain.EntityUnits,
}

var datasetDescriptor = descriptor[domain.Dataset]{
	path:        "lists",
	idField:     "listDbIds",
	nameField:   "listNames",
	id:          func(d *domain.Dataset) *string { return &d.ListDbID },
	name:        func(d *domain.Dataset) string { return d.ListName },
	refs:        func(d *domain.Dataset) []domain.ExternalReference { return d.References },
	entityLabel: domain.EntityDatasets,
}

var observationDescriptor = descriptor[domain.Observation]{
	path:        "observations",
	idField:     "observationDbIds",
	bulkUpdate:  true,
	id:          func(o *domain.Observation) *string { return &o.ObservationDbID },
	name:        func(o *domain.Observation) string { return o.ObservationVariableName },
	refs:        func(o *domain.Observation) []domain.ExternalReference { return o.References },
	entityLabel: domain.EntityObservations,
}

// ReferenceSource namespaces the configured reference source per entity.
func ReferenceSource(base, entity string) string {
	return strings.TrimSuffix(base, "/") + "/" + entity
}

func hasReference(refs []domain.ExternalReference, ids map[string]struct{}) (string, bool) {
	for _, ref := range refs {
		if _, ok := ids[ref.ReferenceID]; ok {
			return ref.ReferenceID, true
		}
	}
	return "", false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
