// Package reconcile classifies import rows against the remote BrAPI store.
// Each exported Engine method is the body of one pipeline stage and reads or
// extends the Session it is given.
package reconcile

import (
	"context"

	"experiment_import_backend/internal/experiment/brapi"
	"experiment_import_backend/internal/experiment/columns"
	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/internal/experiment/validation"
	"experiment_import_backend/platform/logger"
)

// Request is the immutable input of one import run.
type Request struct {
	Program domain.Program
	UserID  string
	Commit  bool
	Input   domain.UserInput
	Rows    []domain.ImportRow
	Columns columns.Columns
	// Traits maps each phenotype column to its ontology term.
	Traits map[string]domain.Trait
}

// Session is the state one import run builds up. Stages may add to its
// lookups but never remove keys.
type Session struct {
	Request
	Pending *domain.PendingSet
	Errors  *domain.ValidationErrors

	references   []string
	rowReference map[int]string
	namedRows    []domain.ImportRow

	unitsByRef    map[string]domain.ObservationUnit
	unitsByKey    map[string]domain.ObservationUnit
	studiesByID   map[string]domain.Study
	trialsByID    map[string]domain.Trial
	trialsByName  map[string]domain.Trial
	locationsByID map[string]domain.Location
	locationsByNm map[string]domain.Location
	studiesByKey  map[string]domain.Study
	germplasmByID map[string]domain.Germplasm
	germplasmGID  map[string]domain.Germplasm
	datasetsByRef map[string]domain.Dataset
	stored        map[string]domain.Observation
}

// NewSession creates the state of one run.
func NewSession(req Request) *Session {
	return &Session{
		Request:       req,
		Pending:       domain.NewPendingSet(),
		Errors:        domain.NewValidationErrors(),
		rowReference:  make(map[int]string),
		unitsByRef:    make(map[string]domain.ObservationUnit),
		unitsByKey:    make(map[string]domain.ObservationUnit),
		studiesByID:   make(map[string]domain.Study),
		trialsByID:    make(map[string]domain.Trial),
		trialsByName:  make(map[string]domain.Trial),
		locationsByID: make(map[string]domain.Location),
		locationsByNm: make(map[string]domain.Location),
		studiesByKey:  make(map[string]domain.Study),
		germplasmByID: make(map[string]domain.Germplasm),
		germplasmGID:  make(map[string]domain.Germplasm),
		datasetsByRef: make(map[string]domain.Dataset),
		stored:        make(map[string]domain.Observation),
	}
}

// TraitIDs returns the db ids of every mapped trait, in column order.
func (s *Session) TraitIDs() []string {
	ids := make([]string, 0, len(s.Traits))
	for _, col := range s.Columns.Phenotypes {
		if t, ok := s.Traits[col]; ok {
			ids = append(ids, t.ObservationVariableDbID)
		}
	}
	return ids
}

// variableName is the name used in the observation hash for a column.
func (s *Session) variableName(column string) string {
	if t, ok := s.Traits[column]; ok && t.ObservationVariableName != "" {
		return t.ObservationVariableName
	}
	return column
}

// Sequencer hands out per-program experiment numbers.
type Sequencer interface {
	NextExperimentNumber(ctx context.Context, programDbID string) (int, error)
}

// Engine performs the reconciliation steps against one BrAPI store.
type Engine struct {
	store           brapi.Store
	validator       validation.Validator
	sequencer       Sequencer
	referenceSource string
	log             *logger.Logger
}

// NewEngine creates an engine.
func NewEngine(store brapi.Store, v validation.Validator, seq Sequencer, referenceSource string, log *logger.Logger) *Engine {
	return &Engine{store: store, validator: v, sequencer: seq, referenceSource: referenceSource, log: log}
}

// Store returns the BrAPI store the engine reads from.
func (e *Engine) Store() brapi.Store {
	return e.store
}

func (e *Engine) reference(entity, id string) domain.ExternalReference {
	return domain.ExternalReference{ReferenceID: id, ReferenceSource: brapi.ReferenceSource(e.referenceSource, entity)}
}
