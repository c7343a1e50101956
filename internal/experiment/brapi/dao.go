// Package brapi provides the data access objects the import pipeline uses to
// read and write the remote BrAPI store, with an HTTP and an in-memory backend.
package brapi

import (
	"context"

	"experiment_import_backend/internal/experiment/domain"
)

// EntityDAO reads and writes one BrAPI entity type within a program.
type EntityDAO[T any] interface {
	FetchByExternalReference(ctx context.Context, programDbID string, referenceIDs []string) ([]T, error)
	FetchByDbID(ctx context.Context, programDbID string, dbIDs []string) ([]T, error)
	FetchByName(ctx context.Context, programDbID string, names []string) ([]T, error)
	BatchCreate(ctx context.Context, items []T) ([]T, error)
	BatchUpdate(ctx context.Context, items []T) ([]T, error)
	BatchDelete(ctx context.Context, items []T) error
}

// ObservationUnitDAO adds study-scoped reads to the unit DAO.
type ObservationUnitDAO interface {
	EntityDAO[domain.ObservationUnit]
	FetchByStudy(ctx context.Context, programDbID string, studyDbIDs []string) ([]domain.ObservationUnit, error)
}

// ObservationDAO adds unit x variable reads to the observation DAO.
type ObservationDAO interface {
	EntityDAO[domain.Observation]
	FetchByUnitsAndVariables(ctx context.Context, programDbID string, unitDbIDs, variableDbIDs []string) ([]domain.Observation, error)
}

// OntologyDAO resolves column names to traits.
type OntologyDAO interface {
	FetchTraitsByName(ctx context.Context, programDbID string, names []string) ([]domain.Trait, error)
}

// ProgramDAO reads programs.
type ProgramDAO interface {
	GetProgram(ctx context.Context, programDbID string) (domain.Program, error)
}

// Store bundles the DAOs of one BrAPI backend.
type Store struct {
	Programs     ProgramDAO
	Ontology     OntologyDAO
	Trials       EntityDAO[domain.Trial]
	Locations    EntityDAO[domain.Location]
	Studies      EntityDAO[domain.Study]
	Germplasm    EntityDAO[domain.Germplasm]
	Units        ObservationUnitDAO
	Datasets     EntityDAO[domain.Dataset]
	Observations ObservationDAO
}
