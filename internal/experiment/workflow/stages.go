package workflow

import (
	"context"

	"experiment_import_backend/internal/experiment/action"
	"experiment_import_backend/internal/experiment/brapi"
	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/internal/experiment/reconcile"
	"experiment_import_backend/internal/experiment/saga"
)

// Stage names. Failures are tagged with these.
const (
	StageCollateReferences  = "collate-references"
	StageFetchUnits         = "fetch-observation-units"
	StageFetchExisting      = "fetch-existing-data"
	StageValidateRows       = "validate-rows"
	StageBuildPending       = "build-pending"
	StageValidateFields     = "validate-fields"
	StageValidationGate     = "validation-gate"
	StageCreateTrials       = "create-trials"
	StageUpdateTrials       = "update-trials"
	StageCreateLocations    = "create-locations"
	StageCreateStudies      = "create-studies"
	StageCreateUnits        = "create-observation-units"
	StageCreateDatasets     = "create-datasets"
	StageUpdateDatasets     = "update-datasets"
	StageCreateObservations = "create-observations"
	StageUpdateObservations = "update-observations"
)

// step lifts a reconciliation step into a stage without compensation; it
// only reads the remote store.
func step(name string, fn func(context.Context, *reconcile.Session) error) saga.Stage[*ImportContext] {
	return saga.Func[*ImportContext]{
		StageName: name,
		ProcessFn: func(ctx context.Context, c *ImportContext) error {
			return fn(ctx, c.Session)
		},
	}
}

func trialTarget(store brapi.Store) action.Target[*ImportContext, domain.Trial] {
	return action.Target[*ImportContext, domain.Trial]{
		Kind:   action.KindTrial,
		DAO:    store.Trials,
		Lookup: func(c *ImportContext) *domain.Lookup[domain.Trial] { return c.Pending.Trials },
		ID:     func(t *domain.Trial) *string { return &t.TrialDbID },
	}
}

func locationTarget(store brapi.Store) action.Target[*ImportContext, domain.Location] {
	return action.Target[*ImportContext, domain.Location]{
		Kind:   action.KindLocation,
		DAO:    store.Locations,
		Lookup: func(c *ImportContext) *domain.Lookup[domain.Location] { return c.Pending.Locations },
		ID:     func(l *domain.Location) *string { return &l.LocationDbID },
	}
}

func studyTarget(store brapi.Store) action.Target[*ImportContext, domain.Study] {
	return action.Target[*ImportContext, domain.Study]{
		Kind:    action.KindStudy,
		DAO:     store.Studies,
		Lookup:  func(c *ImportContext) *domain.Lookup[domain.Study] { return c.Pending.Studies },
		ID:      func(s *domain.Study) *string { return &s.StudyDbID },
		Prepare: linkStudyParents,
	}
}

func unitTarget(store brapi.Store) action.Target[*ImportContext, domain.ObservationUnit] {
	return action.Target[*ImportContext, domain.ObservationUnit]{
		Kind:    action.KindUnit,
		DAO:     store.Units,
		Lookup:  func(c *ImportContext) *domain.Lookup[domain.ObservationUnit] { return c.Pending.Units },
		ID:      func(u *domain.ObservationUnit) *string { return &u.ObservationUnitDbID },
		Prepare: linkUnitParents,
	}
}

func datasetTarget(store brapi.Store) action.Target[*ImportContext, domain.Dataset] {
	return action.Target[*ImportContext, domain.Dataset]{
		Kind:   action.KindDataset,
		DAO:    store.Datasets,
		Lookup: func(c *ImportContext) *domain.Lookup[domain.Dataset] { return c.Pending.Datasets },
		ID:     func(d *domain.Dataset) *string { return &d.ListDbID },
	}
}

func observationTarget(store brapi.Store) action.Target[*ImportContext, domain.Observation] {
	return action.Target[*ImportContext, domain.Observation]{
		Kind:    action.KindObservation,
		DAO:     store.Observations,
		Lookup:  func(c *ImportContext) *domain.Lookup[domain.Observation] { return c.Pending.Observations },
		ID:      func(o *domain.Observation) *string { return &o.ObservationDbID },
		Prepare: linkObservationParents,
	}
}

// linkStudyParents copies trial and location ids assigned by earlier create
// stages onto NEW studies.
func linkStudyParents(c *ImportContext) {
	set := c.Pending
	for _, row := range c.Rows {
		links, ok := set.LinkedRow(row.Index)
		if !ok {
			continue
		}
		study, ok := set.Studies.Get(links.Study)
		if !ok || study.State != domain.StateNew {
			continue
		}
		if trial, ok := set.Trials.Get(links.Trial); ok {
			study.Remote.TrialDbID = trial.Remote.TrialDbID
			study.Remote.TrialName = trial.Remote.TrialName
		}
		if location, ok := set.Locations.Get(links.Location); ok {
			study.Remote.LocationDbID = location.Remote.LocationDbID
		}
	}
}

func linkUnitParents(c *ImportContext) {
	set := c.Pending
	for _, row := range c.Rows {
		links, ok := set.LinkedRow(row.Index)
		if !ok {
			continue
		}
		unit, ok := set.Units.Get(links.Unit)
		if !ok || unit.State != domain.StateNew {
			continue
		}
		if study, ok := set.Studies.Get(links.Study); ok {
			unit.Remote.StudyDbID = study.Remote.StudyDbID
			unit.Remote.TrialDbID = study.Remote.TrialDbID
			unit.Remote.LocationDbID = study.Remote.LocationDbID
		}
	}
}

func linkObservationParents(c *ImportContext) {
	set := c.Pending
	for _, row := range c.Rows {
		links, ok := set.LinkedRow(row.Index)
		if !ok {
			continue
		}
		unit, unitOK := set.Units.Get(links.Unit)
		study, studyOK := set.Studies.Get(links.Study)
		for _, hash := range links.Observations {
			obs, ok := set.Observations.Get(hash)
			if !ok || obs.State != domain.StateNew {
				continue
			}
			if unitOK {
				obs.Remote.ObservationUnitDbID = unit.Remote.ObservationUnitDbID
			}
			if studyOK {
				obs.Remote.StudyDbID = study.Remote.StudyDbID
			}
		}
	}
}
