package reconcile

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/platform/apperr"
)

// remote classifies a failed read: typed errors pass through, anything else
// is an upstream failure.
func remote(op string, err error) error {
	if apperr.GetKind(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Upstream(op, err)
}

const msgUnitIdentity = "ObsUnitID is required, or Exp Title, Env and Exp Unit ID to match by name"

// CollateReferences gathers the distinct ObsUnitID references of the rows.
// Rows without one are matched later by experiment, environment and unit
// name, and must carry all three.
func (e *Engine) CollateReferences(_ context.Context, s *Session) error {
	seen := make(map[string]struct{})
	for _, row := range s.Rows {
		ref := row.ObsUnitID
		if ref == "" {
			if isNamedRow(row) {
				s.namedRows = append(s.namedRows, row)
				continue
			}
			s.Errors.Add(row.Index, domain.NewUnprocessable(domain.ColObsUnitID, msgUnitIdentity))
			continue
		}
		s.rowReference[row.Index] = ref
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		s.references = append(s.references, ref)
	}
	return nil
}

// FetchUnitsByReference loads the referenced observation units and fails
// with the exact set of references the store does not know.
func (e *Engine) FetchUnitsByReference(ctx context.Context, s *Session) error {
	if len(s.references) == 0 {
		return nil
	}
	units, err := e.store.Units.FetchByExternalReference(ctx, s.Program.ProgramDbID, s.references)
	if err != nil {
		return remote("fetch observation units", err)
	}

	wanted := make(map[string]struct{}, len(s.references))
	for _, ref := range s.references {
		wanted[ref] = struct{}{}
	}
	for _, unit := range units {
		for _, ref := range unit.References {
			if _, ok := wanted[ref.ReferenceID]; ok {
				s.unitsByRef[ref.ReferenceID] = unit
			}
		}
	}

	if len(units) == len(s.references) && len(s.unitsByRef) == len(s.references) {
		return nil
	}
	var missing []string
	for _, ref := range s.references {
		if _, ok := s.unitsByRef[ref]; !ok {
			missing = append(missing, ref)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return apperr.NotFound(fmt.Sprintf("observation units not found for ObsUnitID: %s", strings.Join(missing, ", "))).
		WithDetails(map[string]any{"missingObsUnitIds": missing})
}

// FetchExistingData loads the parents of the referenced units, every unit of
// the touched studies, the trials' datasets and the stored observations.
func (e *Engine) FetchExistingData(ctx context.Context, s *Session) error {
	programID := s.Program.ProgramDbID

	if err := e.fetchNamedStudies(ctx, s); err != nil {
		return err
	}

	studyIDs := keySet(s.studiesByID)
	refStudyIDs := make(map[string]struct{})
	for _, unit := range s.unitsByRef {
		studyIDs[unit.StudyDbID] = struct{}{}
		if _, ok := s.studiesByID[unit.StudyDbID]; !ok {
			refStudyIDs[unit.StudyDbID] = struct{}{}
		}
	}
	if len(studyIDs) == 0 {
		return nil
	}

	if len(refStudyIDs) > 0 {
		studies, err := e.store.Studies.FetchByDbID(ctx, programID, sortedKeys(refStudyIDs))
		if err != nil {
			return remote("fetch studies", err)
		}
		for _, st := range studies {
			s.studiesByID[st.StudyDbID] = st
		}
		if missing := missingKeys(studyIDs, s.studiesByID); len(missing) > 0 {
			return apperr.NotFound(fmt.Sprintf("studies not found: %s", strings.Join(missing, ", ")))
		}
	}

	trialIDs := make(map[string]struct{})
	locationIDs := make(map[string]struct{})
	for _, st := range s.studiesByID {
		trialIDs[st.TrialDbID] = struct{}{}
		if st.LocationDbID != "" {
			locationIDs[st.LocationDbID] = struct{}{}
		}
	}
	if missing := missingKeys(trialIDs, s.trialsByID); len(missing) > 0 {
		trials, err := e.store.Trials.FetchByDbID(ctx, programID, missing)
		if err != nil {
			return remote("fetch trials", err)
		}
		for _, tr := range trials {
			s.trialsByID[tr.TrialDbID] = tr
		}
	}
	if missing := missingKeys(trialIDs, s.trialsByID); len(missing) > 0 {
		return apperr.NotFound(fmt.Sprintf("trials not found: %s", strings.Join(missing, ", ")))
	}

	if len(locationIDs) > 0 {
		locations, err := e.store.Locations.FetchByDbID(ctx, programID, sortedKeys(locationIDs))
		if err != nil {
			return remote("fetch locations", err)
		}
		for _, loc := range locations {
			s.locationsByID[loc.LocationDbID] = loc
		}
	}

	units, err := e.store.Units.FetchByStudy(ctx, programID, sortedKeys(studyIDs))
	if err != nil {
		return remote("fetch study observation units", err)
	}
	germplasmIDs := make(map[string]struct{})
	for _, unit := range units {
		st := s.studiesByID[unit.StudyDbID]
		tr := s.trialsByID[st.TrialDbID]
		s.unitsByKey[experimentUnitKey(tr.TrialName, st.StudyName, unit.ObservationUnitName)] = unit
		if unit.GermplasmDbID != "" {
			germplasmIDs[unit.GermplasmDbID] = struct{}{}
		}
	}
	for _, unit := range s.unitsByRef {
		if unit.GermplasmDbID != "" {
			germplasmIDs[unit.GermplasmDbID] = struct{}{}
		}
	}
	if len(germplasmIDs) > 0 {
		germplasm, err := e.store.Germplasm.FetchByDbID(ctx, programID, sortedKeys(germplasmIDs))
		if err != nil {
			return remote("fetch germplasm", err)
		}
		for _, g := range germplasm {
			s.germplasmByID[g.GermplasmDbID] = g
		}
	}

	if err := e.fetchDatasets(ctx, s, slices.Collect(maps.Values(s.trialsByID))); err != nil {
		return err
	}

	unitIDs := make(map[string]struct{})
	for _, unit := range s.unitsByKey {
		unitIDs[unit.ObservationUnitDbID] = struct{}{}
	}
	for _, unit := range s.unitsByRef {
		unitIDs[unit.ObservationUnitDbID] = struct{}{}
	}
	return e.fetchStoredObservations(ctx, s, sortedKeys(unitIDs))
}

// fetchNamedStudies loads the trials and studies that rows without an
// ObsUnitID name. Stored names carry the program key and, for studies, the
// experiment number of their trial.
func (e *Engine) fetchNamedStudies(ctx context.Context, s *Session) error {
	if len(s.namedRows) == 0 {
		return nil
	}
	programID := s.Program.ProgramDbID
	key := s.Program.Key()

	titles := make(map[string]struct{})
	for _, row := range s.namedRows {
		titles[domain.DecorateName(row.ExpTitle, key, "")] = struct{}{}
	}
	trials, err := e.store.Trials.FetchByName(ctx, programID, sortedKeys(titles))
	if err != nil {
		return remote("fetch trials", err)
	}
	for _, tr := range trials {
		s.trialsByID[tr.TrialDbID] = tr
		s.trialsByName[domain.NaturalName(tr.TrialName)] = tr
	}

	studyNames := make(map[string]struct{})
	for _, row := range s.namedRows {
		if tr, ok := s.trialsByName[domain.NaturalName(row.ExpTitle)]; ok {
			studyNames[domain.DecorateName(row.Env, key, experimentNumber(tr))] = struct{}{}
		}
	}
	if len(studyNames) == 0 {
		return nil
	}
	studies, err := e.store.Studies.FetchByName(ctx, programID, sortedKeys(studyNames))
	if err != nil {
		return remote("fetch studies", err)
	}
	for _, st := range studies {
		if _, ok := s.trialsByID[st.TrialDbID]; ok {
			s.studiesByID[st.StudyDbID] = st
		}
	}
	return nil
}

func (e *Engine) fetchDatasets(ctx context.Context, s *Session, trials []domain.Trial) error {
	var refs []string
	for _, tr := range trials {
		if id := tr.AdditionalInfo.String(domain.InfoObservationDatasetID); id != "" {
			refs = append(refs, id)
		}
	}
	if len(refs) == 0 {
		return nil
	}
	datasets, err := e.store.Datasets.FetchByExternalReference(ctx, s.Program.ProgramDbID, refs)
	if err != nil {
		return remote("fetch datasets", err)
	}
	wanted := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		wanted[ref] = struct{}{}
	}
	for _, ds := range datasets {
		for _, ref := range ds.References {
			if _, ok := wanted[ref.ReferenceID]; ok {
				s.datasetsByRef[ref.ReferenceID] = ds
			}
		}
	}
	return nil
}

// fetchStoredObservations loads every stored observation of the given units
// for the mapped traits and indexes it by observation hash.
func (e *Engine) fetchStoredObservations(ctx context.Context, s *Session, unitIDs []string) error {
	traitIDs := s.TraitIDs()
	if len(unitIDs) == 0 || len(traitIDs) == 0 {
		return nil
	}
	observations, err := e.store.Observations.FetchByUnitsAndVariables(ctx, s.Program.ProgramDbID, unitIDs, traitIDs)
	if err != nil {
		return remote("fetch observations", err)
	}

	unitsByID := make(map[string]domain.ObservationUnit)
	for _, unit := range s.unitsByKey {
		unitsByID[unit.ObservationUnitDbID] = unit
	}
	for _, unit := range s.unitsByRef {
		unitsByID[unit.ObservationUnitDbID] = unit
	}
	variableNames := make(map[string]string, len(s.Traits))
	for _, t := range s.Traits {
		variableNames[t.ObservationVariableDbID] = t.ObservationVariableName
	}

	for _, obs := range observations {
		unit, ok := unitsByID[obs.ObservationUnitDbID]
		if !ok {
			continue
		}
		study := s.studiesByID[unit.StudyDbID]
		variable := obs.ObservationVariableName
		if name, ok := variableNames[obs.ObservationVariableDbID]; ok {
			variable = name
		}
		s.stored[domain.ObservationHash(unit.ObservationUnitName, variable, study.StudyName)] = obs
	}
	return nil
}

// BuildAppendPending classifies every entity of an append-dataset import.
func (e *Engine) BuildAppendPending(_ context.Context, s *Session) error {
	set := s.Pending
	for _, row := range s.Rows {
		unit, ok := e.resolveUnit(s, row)
		if !ok {
			continue
		}
		study := s.studiesByID[unit.StudyDbID]
		trial := s.trialsByID[study.TrialDbID]

		links := set.Row(row.Index)
		links.Trial = domain.NaturalName(trial.TrialName)
		if !set.Trials.Has(links.Trial) {
			set.Trials.Put(links.Trial, domain.ExistingPending(trial))
		}
		links.Study = domain.StudyKey(trial.TrialName, study.StudyName)
		if !set.Studies.Has(links.Study) {
			set.Studies.Put(links.Study, domain.ExistingPending(study))
		}
		if loc, ok := s.locationsByID[study.LocationDbID]; ok {
			links.Location = loc.LocationName
			if !set.Locations.Has(links.Location) {
				set.Locations.Put(links.Location, domain.ExistingPending(loc))
			}
		}
		if g, ok := s.germplasmByID[unit.GermplasmDbID]; ok {
			links.Germplasm = g.AccessionNumber
			if !set.Germplasm.Has(links.Germplasm) {
				set.Germplasm.Put(links.Germplasm, domain.ExistingPending(g))
			}
		}

		links.Unit = experimentUnitKey(trial.TrialName, study.StudyName, unit.ObservationUnitName)
		pendingUnit, ok := set.Units.Get(links.Unit)
		if !ok {
			pendingUnit = domain.ExistingPending(unit)
			set.Units.Put(links.Unit, pendingUnit)
		}
		if ref := s.rowReference[row.Index]; ref != "" {
			set.UnitsByRef.Put(ref, pendingUnit)
		}
	}

	for _, pendingTrial := range set.Trials.List() {
		e.stageDataset(s, pendingTrial)
	}
	e.classifyObservations(s)
	return nil
}

// resolveUnit finds the stored unit of a row by reference or natural key.
func (e *Engine) resolveUnit(s *Session, row domain.ImportRow) (domain.ObservationUnit, bool) {
	if ref := s.rowReference[row.Index]; ref != "" {
		unit, ok := s.unitsByRef[ref]
		return unit, ok
	}
	if !isNamedRow(row) {
		return domain.ObservationUnit{}, false
	}
	unit, ok := s.unitsByKey[experimentUnitKey(row.ExpTitle, row.Env, row.ExpUnitID)]
	if !ok {
		s.Errors.Add(row.Index, domain.NewUnprocessable(domain.ColExpUnitID, fmt.Sprintf(
			"observation unit %q not found in environment %q of experiment %q", row.ExpUnitID, row.Env, row.ExpTitle)))
	}
	return unit, ok
}

func isNamedRow(row domain.ImportRow) bool {
	return row.ExpTitle != "" && row.Env != "" && row.ExpUnitID != ""
}

func sortedKeys(set map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(set))
}

func missingKeys[T any](wanted map[string]struct{}, found map[string]T) []string {
	var missing []string
	for _, key := range sortedKeys(wanted) {
		if _, ok := found[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
