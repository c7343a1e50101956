package reconcile

import (
	"fmt"
	"slices"
	"time"

	"experiment_import_backend/internal/experiment/columns"
	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/internal/experiment/validation"
)

const datasetBaseName = "Observation Dataset"

// stageDataset attaches the observation dataset of a trial to the pending
// set. A trial without one gets a NEW dataset and is linked to it through
// its additional info.
func (e *Engine) stageDataset(s *Session, trial *domain.PendingImportObject[domain.Trial]) {
	traitIDs := s.TraitIDs()
	if len(traitIDs) == 0 {
		return
	}
	key := domain.NaturalName(trial.Remote.TrialName)
	if s.Pending.Datasets.Has(key) {
		return
	}

	if ref := trial.Remote.AdditionalInfo.String(domain.InfoObservationDatasetID); ref != "" {
		if ds, ok := s.datasetsByRef[ref]; ok {
			pending := domain.ExistingPending(ds)
			var missing []string
			for _, id := range traitIDs {
				if !slices.Contains(ds.Data, id) {
					missing = append(missing, id)
				}
			}
			if len(missing) > 0 {
				pending.Mutate(func(d *domain.Dataset) {
					d.Data = append(slices.Clone(d.Data), missing...)
				})
			}
			s.Pending.Datasets.Put(key, pending)
			return
		}
	}

	pending := domain.NewPending(domain.Dataset{
		ListName:       domain.DecorateName(datasetBaseName, s.Program.Key(), experimentNumber(trial.Remote)),
		ListType:       domain.DatasetListType,
		ListOwnerName:  s.UserID,
		Data:           traitIDs,
		AdditionalInfo: domain.AdditionalInfo{"datasetType": "observationDataset"},
	})
	datasetID := pending.LocalID.String()
	pending.Remote.References = []domain.ExternalReference{e.reference(domain.EntityDatasets, datasetID)}
	s.Pending.Datasets.Put(key, pending)

	trial.Mutate(func(t *domain.Trial) {
		info := t.AdditionalInfo.Clone()
		if info == nil {
			info = domain.AdditionalInfo{}
		}
		info[domain.InfoObservationDatasetID] = datasetID
		t.AdditionalInfo = info
	})
}

// classifyObservations diffs every row x phenotype cell against the stored
// observations. When several rows hash to the same observation the last row
// processed wins.
func (e *Engine) classifyObservations(s *Session) {
	set := s.Pending
	for _, row := range s.Rows {
		links, ok := set.LinkedRow(row.Index)
		if !ok || links.Unit == "" {
			continue
		}
		unit, ok := set.Units.Get(links.Unit)
		if !ok {
			continue
		}
		study, ok := set.Studies.Get(links.Study)
		if !ok {
			continue
		}

		for _, col := range s.Columns.Phenotypes {
			value := row.Cell(col)
			if value == "" {
				continue
			}
			trait, ok := s.Traits[col]
			if !ok {
				continue
			}

			var (
				ts   time.Time
				tsOK bool
			)
			if s.Columns.HasTimestamp(col) {
				if raw := row.Cell(columns.TimestampFor(col)); raw != "" {
					ts, tsOK = validation.ParseTimestamp(raw)
				}
			}

			hash := domain.ObservationHash(unit.Remote.ObservationUnitName, s.variableName(col), study.Remote.StudyName)
			links.Observations[col] = hash

			stored, hit := s.stored[hash]
			if !hit {
				set.Observations.Put(hash, e.newObservation(s, row, unit.Remote, study.Remote, trait, value, ts, tsOK))
				continue
			}
			if !changed(stored, value, ts, tsOK) {
				set.Observations.Put(hash, domain.ExistingPending(stored))
				continue
			}
			if s.Commit && s.Input.OverwritePermitted {
				set.Observations.Put(hash, overwrite(stored, value, ts, tsOK, s.Input.OverwriteReason))
				continue
			}
			s.Errors.Add(row.Index, domain.NewConflict(col, fmt.Sprintf(
				"Value already exists for this observation (stored value %q); overwriting is not permitted", stored.Value)))
			set.Observations.Put(hash, domain.ExistingPending(stored))
		}
	}
}

func changed(stored domain.Observation, value string, ts time.Time, tsOK bool) bool {
	if stored.Value != value {
		return true
	}
	if !tsOK {
		return false
	}
	return stored.ObservationTimeStamp == nil || !stored.ObservationTimeStamp.Equal(ts)
}

func overwrite(stored domain.Observation, value string, ts time.Time, tsOK bool, reason string) *domain.PendingImportObject[domain.Observation] {
	pending := domain.ExistingPending(stored)
	pending.Mutate(func(o *domain.Observation) {
		info := o.AdditionalInfo.Clone()
		if info == nil {
			info = domain.AdditionalInfo{}
		}
		info[domain.InfoPreviousValue] = o.Value
		if reason != "" {
			info[domain.InfoOverwriteReason] = reason
		}
		o.AdditionalInfo = info
		o.Value = value
		if tsOK {
			stamp := ts
			o.ObservationTimeStamp = &stamp
		}
	})
	return pending
}

func (e *Engine) newObservation(s *Session, row domain.ImportRow, unit domain.ObservationUnit, study domain.Study, trait domain.Trait, value string, ts time.Time, tsOK bool) *domain.PendingImportObject[domain.Observation] {
	pending := domain.NewPending(domain.Observation{
		ObservationUnitDbID:     unit.ObservationUnitDbID,
		ObservationUnitName:     unit.ObservationUnitName,
		ObservationVariableDbID: trait.ObservationVariableDbID,
		ObservationVariableName: trait.ObservationVariableName,
		StudyDbID:               study.StudyDbID,
		GermplasmDbID:           unit.GermplasmDbID,
		GermplasmName:           unit.GermplasmName,
		Value:                   value,
		Season:                  row.EnvYear,
		AdditionalInfo:          domain.AdditionalInfo{domain.InfoCreatedBy: s.UserID},
	})
	if tsOK {
		stamp := ts
		pending.Remote.ObservationTimeStamp = &stamp
	}
	pending.Remote.References = []domain.ExternalReference{e.reference(domain.EntityObservations, pending.LocalID.String())}
	return pending
}

// experimentNumber reads the sequence stored on a trial.
func experimentNumber(t domain.Trial) string {
	switch v := t.AdditionalInfo[domain.InfoExperimentNumber].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int(v))
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}
