package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/platform/apperr"
)

// Mode selects how BuildExperimentPending treats an experiment title that
// already exists.
type Mode int

const (
	// ModeNewExperiment rejects rows whose experiment already exists.
	ModeNewExperiment Mode = iota
	// ModeAppendEnvironment requires the experiment to exist.
	ModeAppendEnvironment
)

const (
	levelRep   = "rep"
	levelBlock = "block"

	coordinateRow    = "GRID_ROW"
	coordinateColumn = "GRID_COL"

	entryTest  = "TEST"
	entryCheck = "CHECK"
)

type requiredField struct {
	column string
	value  func(domain.ImportRow) string
}

var requiredFields = []requiredField{
	{domain.ColGermplasmGID, func(r domain.ImportRow) string { return r.GermplasmGID }},
	{domain.ColExpTitle, func(r domain.ImportRow) string { return r.ExpTitle }},
	{domain.ColExpUnit, func(r domain.ImportRow) string { return r.ExpUnit }},
	{domain.ColExpType, func(r domain.ImportRow) string { return r.ExpType }},
	{domain.ColEnv, func(r domain.ImportRow) string { return r.Env }},
	{domain.ColEnvLocation, func(r domain.ImportRow) string { return r.EnvLocation }},
	{domain.ColEnvYear, func(r domain.ImportRow) string { return r.EnvYear }},
	{domain.ColExpUnitID, func(r domain.ImportRow) string { return r.ExpUnitID }},
	{domain.ColExpReplicate, func(r domain.ImportRow) string { return r.ExpReplicateNo }},
	{domain.ColExpBlock, func(r domain.ImportRow) string { return r.ExpBlockNo }},
}

// ValidateRows checks the template columns needed to create units.
func (e *Engine) ValidateRows(_ context.Context, s *Session) error {
	for _, row := range s.Rows {
		for _, f := range requiredFields {
			if f.value(row) == "" {
				s.Errors.Add(row.Index, domain.NewUnprocessable(f.column, "Missing required data"))
			}
		}
		if tc := row.TestOrCheck; tc != "" && !strings.EqualFold(tc, "T") && !strings.EqualFold(tc, "C") {
			s.Errors.Add(row.Index, domain.NewUnprocessable(domain.ColTestOrCheck, "Invalid entry type, expected T or C"))
		}
		if row.EnvYear != "" {
			if _, err := strconv.Atoi(row.EnvYear); err != nil {
				s.Errors.Add(row.Index, domain.NewUnprocessable(domain.ColEnvYear, "Env Year must be a whole year"))
			}
		}
		if row.ObsUnitID != "" {
			s.Errors.Add(row.Index, domain.NewUnprocessable(domain.ColObsUnitID, "ObsUnitID cannot be set on rows that create observation units"))
		}
	}
	return nil
}

// FetchExperimentData loads the trials, locations, germplasm, studies and
// units that rows creating experiments or environments may collide with.
func (e *Engine) FetchExperimentData(ctx context.Context, s *Session) error {
	programID := s.Program.ProgramDbID
	key := s.Program.Key()

	titles := make(map[string]struct{})
	locations := make(map[string]struct{})
	gids := make(map[string]struct{})
	for _, row := range s.Rows {
		if row.ExpTitle != "" {
			titles[domain.DecorateName(row.ExpTitle, key, "")] = struct{}{}
		}
		if row.EnvLocation != "" {
			locations[row.EnvLocation] = struct{}{}
		}
		if row.GermplasmGID != "" {
			gids[row.GermplasmGID] = struct{}{}
		}
	}

	if len(titles) > 0 {
		trials, err := e.store.Trials.FetchByName(ctx, programID, sortedKeys(titles))
		if err != nil {
			return remote("fetch trials", err)
		}
		for _, tr := range trials {
			s.trialsByName[domain.NaturalName(tr.TrialName)] = tr
			s.trialsByID[tr.TrialDbID] = tr
		}
	}
	if len(locations) > 0 {
		found, err := e.store.Locations.FetchByName(ctx, programID, sortedKeys(locations))
		if err != nil {
			return remote("fetch locations", err)
		}
		for _, loc := range found {
			s.locationsByNm[loc.LocationName] = loc
			s.locationsByID[loc.LocationDbID] = loc
		}
	}
	if len(gids) > 0 {
		found, err := e.store.Germplasm.FetchByName(ctx, programID, sortedKeys(gids))
		if err != nil {
			return remote("fetch germplasm", err)
		}
		for _, g := range found {
			s.germplasmGID[g.AccessionNumber] = g
		}
	}

	if len(s.trialsByID) == 0 {
		return nil
	}

	studyNames := make(map[string]struct{})
	for _, row := range s.Rows {
		tr, ok := s.trialsByName[domain.NaturalName(row.ExpTitle)]
		if !ok || row.Env == "" {
			continue
		}
		studyNames[domain.DecorateName(row.Env, key, experimentNumber(tr))] = struct{}{}
	}
	if len(studyNames) > 0 {
		studies, err := e.store.Studies.FetchByName(ctx, programID, sortedKeys(studyNames))
		if err != nil {
			return remote("fetch studies", err)
		}
		for _, st := range studies {
			tr, ok := s.trialsByID[st.TrialDbID]
			if !ok {
				continue
			}
			s.studiesByID[st.StudyDbID] = st
			s.studiesByKey[domain.StudyKey(tr.TrialName, st.StudyName)] = st
		}
	}

	if len(s.studiesByID) > 0 {
		units, err := e.store.Units.FetchByStudy(ctx, programID, sortedKeys(keySet(s.studiesByID)))
		if err != nil {
			return remote("fetch study observation units", err)
		}
		for _, unit := range units {
			st := s.studiesByID[unit.StudyDbID]
			tr := s.trialsByID[st.TrialDbID]
			s.unitsByKey[experimentUnitKey(tr.TrialName, st.StudyName, unit.ObservationUnitName)] = unit
		}
	}

	trials := make([]domain.Trial, 0, len(s.trialsByID))
	for _, id := range sortedKeys(keySet(s.trialsByID)) {
		trials = append(trials, s.trialsByID[id])
	}
	return e.fetchDatasets(ctx, s, trials)
}

// BuildExperimentPending classifies the trials, locations, studies and units
// described by the rows and stages their observations.
func (e *Engine) BuildExperimentPending(ctx context.Context, s *Session, mode Mode) error {
	set := s.Pending
	for _, row := range s.Rows {
		if len(s.Errors.ForRow(row.Index)) > 0 {
			continue
		}
		links := set.Row(row.Index)

		trialKey := domain.NaturalName(row.ExpTitle)
		trial, ok := set.Trials.Get(trialKey)
		if !ok {
			stored, exists := s.trialsByName[trialKey]
			switch {
			case exists && mode == ModeNewExperiment:
				s.Errors.Add(row.Index, domain.NewConflict(domain.ColExpTitle, "Experiment Title already exists"))
				continue
			case !exists && mode == ModeAppendEnvironment:
				return apperr.NotFound(fmt.Sprintf("experiment %q not found", row.ExpTitle))
			case exists:
				trial = domain.ExistingPending(stored)
			default:
				created, err := e.newTrial(ctx, s, row)
				if err != nil {
					return err
				}
				trial = created
			}
			set.Trials.Put(trialKey, trial)
		}
		links.Trial = trialKey
		expNo := experimentNumber(trial.Remote)

		location, ok := set.Locations.Get(row.EnvLocation)
		if !ok {
			if stored, exists := s.locationsByNm[row.EnvLocation]; exists {
				location = domain.ExistingPending(stored)
			} else {
				location = domain.NewPending(domain.Location{LocationName: row.EnvLocation})
				location.Remote.References = []domain.ExternalReference{e.reference(domain.EntityLocations, location.LocalID.String())}
			}
			set.Locations.Put(row.EnvLocation, location)
		}
		links.Location = row.EnvLocation

		studyKey := domain.StudyKey(row.ExpTitle, row.Env)
		study, ok := set.Studies.Get(studyKey)
		if !ok {
			if stored, exists := s.studiesByKey[studyKey]; exists {
				study = domain.ExistingPending(stored)
			} else {
				study = e.newStudy(s, row, trial.Remote, location.Remote, expNo)
			}
			set.Studies.Put(studyKey, study)
		}
		links.Study = studyKey

		germplasm, ok := s.germplasmGID[row.GermplasmGID]
		if !ok {
			s.Errors.Add(row.Index, domain.NewUnprocessable(domain.ColGermplasmGID, fmt.Sprintf("Germplasm GID %s does not exist", row.GermplasmGID)))
			continue
		}
		if !set.Germplasm.Has(row.GermplasmGID) {
			set.Germplasm.Put(row.GermplasmGID, domain.ExistingPending(germplasm))
		}
		links.Germplasm = row.GermplasmGID

		unitKey := experimentUnitKey(row.ExpTitle, row.Env, row.ExpUnitID)
		if _, exists := s.unitsByKey[unitKey]; exists {
			s.Errors.Add(row.Index, domain.NewConflict(domain.ColExpUnitID, "Exp Unit ID already exists in this environment"))
			continue
		}
		if set.Units.Has(unitKey) {
			s.Errors.Add(row.Index, domain.NewConflict(domain.ColExpUnitID, "Exp Unit ID is repeated within this environment"))
			continue
		}
		set.Units.Put(unitKey, e.newUnit(s, row, trial.Remote, study.Remote, germplasm, expNo))
		links.Unit = unitKey
	}

	for _, trial := range set.Trials.List() {
		e.stageDataset(s, trial)
	}
	e.classifyObservations(s)
	return nil
}

// newTrial creates a pending trial. Experiment numbers are only allocated
// when the run commits so previews never consume the sequence.
func (e *Engine) newTrial(ctx context.Context, s *Session, row domain.ImportRow) (*domain.PendingImportObject[domain.Trial], error) {
	var expNo string
	if s.Commit && e.sequencer != nil {
		n, err := e.sequencer.NextExperimentNumber(ctx, s.Program.ProgramDbID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "allocate experiment number", err)
		}
		expNo = strconv.Itoa(n)
	}
	info := domain.AdditionalInfo{
		domain.InfoExperimentType: row.ExpType,
		domain.InfoCreatedBy:      s.UserID,
	}
	if expNo != "" {
		info[domain.InfoExperimentNumber] = expNo
	}
	trial := domain.NewPending(domain.Trial{
		TrialName:        domain.DecorateName(row.ExpTitle, s.Program.Key(), ""),
		TrialDescription: row.ExpDescription,
		ProgramDbID:      s.Program.ProgramDbID,
		ProgramName:      s.Program.ProgramName,
		CommonCropName:   s.Program.CropName,
		Active:           true,
		AdditionalInfo:   info,
	})
	trial.Remote.References = []domain.ExternalReference{e.reference(domain.EntityTrials, trial.LocalID.String())}
	return trial, nil
}

func (e *Engine) newStudy(s *Session, row domain.ImportRow, trial domain.Trial, location domain.Location, expNo string) *domain.PendingImportObject[domain.Study] {
	study := domain.NewPending(domain.Study{
		StudyName:    domain.DecorateName(row.Env, s.Program.Key(), expNo),
		StudyType:    row.ExpType,
		TrialDbID:    trial.TrialDbID,
		TrialName:    trial.TrialName,
		LocationDbID: location.LocationDbID,
		LocationName: location.LocationName,
		Seasons:      []string{row.EnvYear},
		Active:       true,
		AdditionalInfo: domain.AdditionalInfo{
			domain.InfoCreatedBy: s.UserID,
		},
	})
	study.Remote.References = []domain.ExternalReference{e.reference(domain.EntityStudies, study.LocalID.String())}
	return study
}

func (e *Engine) newUnit(s *Session, row domain.ImportRow, trial domain.Trial, study domain.Study, g domain.Germplasm, expNo string) *domain.PendingImportObject[domain.ObservationUnit] {
	position := domain.Position{
		EntryType: entryTest,
		ObservationLevel: domain.ObservationLevel{
			LevelName: strings.ToLower(row.ExpUnit),
			LevelCode: row.ExpUnitID,
		},
		ObservationLevelRelationships: []domain.ObservationLevel{
			{LevelName: levelRep, LevelCode: row.ExpReplicateNo},
			{LevelName: levelBlock, LevelCode: row.ExpBlockNo},
		},
	}
	if strings.EqualFold(row.TestOrCheck, "C") {
		position.EntryType = entryCheck
	}
	if row.Row != "" {
		position.PositionCoordinateX = row.Row
		position.PositionCoordinateXType = coordinateRow
	}
	if row.Column != "" {
		position.PositionCoordinateY = row.Column
		position.PositionCoordinateYType = coordinateColumn
	}

	unit := domain.NewPending(domain.ObservationUnit{
		ObservationUnitName: domain.DecorateName(row.ExpUnitID, s.Program.Key(), expNo),
		ProgramDbID:         s.Program.ProgramDbID,
		TrialDbID:           trial.TrialDbID,
		TrialName:           trial.TrialName,
		StudyDbID:           study.StudyDbID,
		StudyName:           study.StudyName,
		LocationDbID:        study.LocationDbID,
		GermplasmDbID:       g.GermplasmDbID,
		GermplasmName:       g.GermplasmName,
		Position:            position,
		AdditionalInfo: domain.AdditionalInfo{
			domain.InfoObservationLevel: row.ExpUnit,
			domain.InfoTestOrCheck:      position.EntryType,
			domain.InfoCreatedBy:        s.UserID,
		},
	})
	if row.TreatmentFactors != "" {
		unit.Remote.Treatments = []domain.Treatment{{Factor: row.TreatmentFactors}}
	}
	unit.Remote.References = []domain.ExternalReference{e.reference(domain.EntityUnits, unit.LocalID.String())}
	return unit
}

// experimentUnitKey qualifies a unit key by its experiment so environments
// of different experiments may share names.
func experimentUnitKey(trialName, envName, unitName string) string {
	return domain.UnitKey(domain.StudyKey(trialName, envName), unitName)
}

func keySet[T any](m map[string]T) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

// CounterSequencer allocates experiment numbers in memory.
type CounterSequencer struct {
	mu   sync.Mutex
	next map[string]int
}

// NewCounterSequencer creates an in-memory sequencer.
func NewCounterSequencer() *CounterSequencer {
	return &CounterSequencer{next: make(map[string]int)}
}

// NextExperimentNumber returns the next number for the program, starting at 1.
func (c *CounterSequencer) NextExperimentNumber(_ context.Context, programDbID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next[programDbID]++
	return c.next[programDbID], nil
}
