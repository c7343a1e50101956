package brapi

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/platform/apperr"

	"github.com/google/uuid"
)

// Operations that can be made to fail in a MemoryStore.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpFetch  = "fetch"
)

// MemoryStore is an in-process BrAPI backend used in development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	programs map[string]domain.Program
	traits   map[string][]domain.Trait
	failures map[string]error
	calls    []string

	trials       *table[domain.Trial]
	locations    *table[domain.Location]
	studies      *table[domain.Study]
	germplasm    *table[domain.Germplasm]
	units        *table[domain.ObservationUnit]
	datasets     *table[domain.Dataset]
	observations *table[domain.Observation]
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		programs: make(map[string]domain.Program),
		traits:   make(map[string][]domain.Trait),
		failures: make(map[string]error),
	}
	m.trials = newTable(m, trialDescriptor)
	m.locations = newTable(m, locationDescriptor)
	m.studies = newTable(m, studyDescriptor)
	m.germplasm = newTable(m, germplasmDescriptor)
	m.units = newTable(m, unitDescriptor)
	m.datasets = newTable(m, datasetDescriptor)
	m.observations = newTable(m, observationDescriptor)
	return m
}

// Store exposes the memory backend through the DAO interfaces.
func (m *MemoryStore) Store() Store {
	return Store{
		Programs:     memoryPrograms{m},
		Ontology:     memoryOntology{m},
		Trials:       m.trials,
		Locations:    m.locations,
		Studies:      m.studies,
		Germplasm:    m.germplasm,
		Units:        memoryUnits{m.units},
		Datasets:     m.datasets,
		Observations: memoryObservations{m.observations},
	}
}

// AddProgram registers a program.
func (m *MemoryStore) AddProgram(p domain.Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[p.ProgramDbID] = p
}

// AddTraits registers ontology terms for a program.
func (m *MemoryStore) AddTraits(programDbID string, traits ...domain.Trait) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traits[programDbID] = append(m.traits[programDbID], traits...)
}

// Seed helpers insert records as if they already existed remotely.

func (m *MemoryStore) SeedTrials(items ...domain.Trial) []domain.Trial { return m.trials.seed(items) }
func (m *MemoryStore) SeedLocations(items ...domain.Location) []domain.Location {
	return m.locations.seed(items)
}
func (m *MemoryStore) SeedStudies(items ...domain.Study) []domain.Study { return m.studies.seed(items) }
func (m *MemoryStore) SeedGermplasm(items ...domain.Germplasm) []domain.Germplasm {
	return m.germplasm.seed(items)
}
func (m *MemoryStore) SeedUnits(items ...domain.ObservationUnit) []domain.ObservationUnit {
	return m.units.seed(items)
}
func (m *MemoryStore) SeedDatasets(items ...domain.Dataset) []domain.Dataset {
	return m.datasets.seed(items)
}
func (m *MemoryStore) SeedObservations(items ...domain.Observation) []domain.Observation {
	return m.observations.seed(items)
}

// FailOn makes every later call of op on entity return err. A nil err clears
// the failure.
func (m *MemoryStore) FailOn(entity, op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entity + "/" + op
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

// Calls returns the write calls made so far as "entity/op" strings.
func (m *MemoryStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Count returns how many records of entity are stored.
func (m *MemoryStore) Count(entity string) int {
	switch entity {
	case domain.EntityTrials:
		return m.trials.count()
	case domain.EntityLocations:
		return m.locations.count()
	case domain.EntityStudies:
		return m.studies.count()
	case domain.EntityGermplasm:
		return m.germplasm.count()
	case domain.EntityUnits:
		return m.units.count()
	case domain.EntityDatasets:
		return m.datasets.count()
	case domain.EntityObservations:
		return m.observations.count()
	default:
		return 0
	}
}

// Observations returns every stored observation.
func (m *MemoryStore) Observations() []domain.Observation {
	return m.observations.all()
}

// Trials returns every stored trial.
func (m *MemoryStore) Trials() []domain.Trial {
	return m.trials.all()
}

func (m *MemoryStore) check(entity, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op != OpFetch {
		m.calls = append(m.calls, entity+"/"+op)
	}
	if err, ok := m.failures[entity+"/"+op]; ok {
		return err
	}
	return nil
}

type table[T any] struct {
	store *MemoryStore
	desc  descriptor[T]
	mu    sync.Mutex
	order []string
	rows  map[string]T
}

func newTable[T any](store *MemoryStore, desc descriptor[T]) *table[T] {
	return &table[T]{store: store, desc: desc, rows: make(map[string]T)}
}

func (t *table[T]) seed(items []T) []T {
	out, _ := t.insert(items)
	return out
}

func (t *table[T]) insert(items []T) ([]T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]T, 0, len(items))
	for _, item := range items {
		id := t.desc.id(&item)
		if *id == "" {
			*id = uuid.NewString()
		}
		if _, exists := t.rows[*id]; exists {
			return nil, fmt.Errorf("%s %s already exists", t.desc.entityLabel, *id)
		}
		t.order = append(t.order, *id)
		t.rows[*id] = item
		out = append(out, item)
	}
	return out, nil
}

func (t *table[T]) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

func (t *table[T]) all() []T {
	return t.filter(func(*T) bool { return true })
}

func (t *table[T]) filter(keep func(*T) bool) []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []T
	for _, id := range t.order {
		item, ok := t.rows[id]
		if !ok {
			continue
		}
		if keep(&item) {
			out = append(out, item)
		}
	}
	return out
}

func (t *table[T]) inProgram(item *T, programDbID string) bool {
	if t.desc.program == nil || programDbID == "" {
		return true
	}
	return t.desc.program(item) == programDbID
}

func (t *table[T]) FetchByExternalReference(_ context.Context, programDbID string, referenceIDs []string) ([]T, error) {
	if err := t.store.check(t.desc.entityLabel, OpFetch); err != nil {
		return nil, err
	}
	ids := toSet(referenceIDs)
	return t.filter(func(item *T) bool {
		_, ok := hasReference(t.desc.refs(item), ids)
		return ok && t.inProgram(item, programDbID)
	}), nil
}

func (t *table[T]) FetchByDbID(_ context.Context, programDbID string, dbIDs []string) ([]T, error) {
	if err := t.store.check(t.desc.entityLabel, OpFetch); err != nil {
		return nil, err
	}
	ids := toSet(dbIDs)
	return t.filter(func(item *T) bool {
		_, ok := ids[*t.desc.id(item)]
		return ok && t.inProgram(item, programDbID)
	}), nil
}

func (t *table[T]) FetchByName(_ context.Context, programDbID string, names []string) ([]T, error) {
	if err := t.store.check(t.desc.entityLabel, OpFetch); err != nil {
		return nil, err
	}
	wanted := toSet(names)
	return t.filter(func(item *T) bool {
		_, ok := wanted[t.desc.name(item)]
		return ok && t.inProgram(item, programDbID)
	}), nil
}

func (t *table[T]) BatchCreate(_ context.Context, items []T) ([]T, error) {
	if err := t.store.check(t.desc.entityLabel, OpCreate); err != nil {
		return nil, err
	}
	return t.insert(items)
}

func (t *table[T]) BatchUpdate(_ context.Context, items []T) ([]T, error) {
	if err := t.store.check(t.desc.entityLabel, OpUpdate); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range items {
		id := *t.desc.id(&items[i])
		if _, ok := t.rows[id]; !ok {
			return nil, apperr.NotFound(fmt.Sprintf("%s %s not found", t.desc.entityLabel, id))
		}
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		t.rows[*t.desc.id(&item)] = item
		out = append(out, item)
	}
	return out, nil
}

func (t *table[T]) BatchDelete(_ context.Context, items []T) error {
	if err := t.store.check(t.desc.entityLabel, OpDelete); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, item := range items {
		delete(t.rows, *t.desc.id(&item))
	}
	return nil
}

type memoryUnits struct{ *table[domain.ObservationUnit] }

func (u memoryUnits) FetchByStudy(_ context.Context, programDbID string, studyDbIDs []string) ([]domain.ObservationUnit, error) {
	if err := u.store.check(domain.EntityUnits, OpFetch); err != nil {
		return nil, err
	}
	ids := toSet(studyDbIDs)
	return u.filter(func(item *domain.ObservationUnit) bool {
		_, ok := ids[item.StudyDbID]
		return ok && u.inProgram(item, programDbID)
	}), nil
}

type memoryObservations struct{ *table[domain.Observation] }

func (o memoryObservations) FetchByUnitsAndVariables(_ context.Context, _ string, unitDbIDs, variableDbIDs []string) ([]domain.Observation, error) {
	if err := o.store.check(domain.EntityObservations, OpFetch); err != nil {
		return nil, err
	}
	units := toSet(unitDbIDs)
	variables := toSet(variableDbIDs)
	return o.filter(func(item *domain.Observation) bool {
		_, unitOK := units[item.ObservationUnitDbID]
		_, varOK := variables[item.ObservationVariableDbID]
		return unitOK && varOK
	}), nil
}

type memoryPrograms struct{ m *MemoryStore }

func (p memoryPrograms) GetProgram(_ context.Context, programDbID string) (domain.Program, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	program, ok := p.m.programs[programDbID]
	if !ok {
		return domain.Program{}, apperr.NotFound("program not found")
	}
	return program, nil
}

type memoryOntology struct{ m *MemoryStore }

func (o memoryOntology) FetchTraitsByName(_ context.Context, programDbID string, names []string) ([]domain.Trait, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	var out []domain.Trait
	for _, name := range names {
		for _, trait := range o.m.traits[programDbID] {
			if strings.EqualFold(trait.ObservationVariableName, name) {
				out = append(out, trait)
				break
			}
		}
	}
	return out, nil
}
