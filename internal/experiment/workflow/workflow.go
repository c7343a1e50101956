package workflow

import (
	"context"
	"fmt"

	"experiment_import_backend/internal/experiment/action"
	"experiment_import_backend/internal/experiment/reconcile"
	"experiment_import_backend/internal/experiment/saga"
	"experiment_import_backend/platform/apperr"
)

// Workflow identifiers.
const (
	NewExperimentID     = "new-experiment"
	AppendEnvironmentID = "append-environment"
	AppendDatasetID     = "append-dataset"
)

// Descriptor is the public description of a workflow.
type Descriptor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Workflow is one way of importing rows. Stages keep per-run state, so every
// run gets a fresh chain from Chain.
type Workflow struct {
	id     string
	name   string
	stages func() []saga.Stage[*ImportContext]
}

// New creates a workflow from a stage factory.
func New(id, name string, stages func() []saga.Stage[*ImportContext]) *Workflow {
	return &Workflow{id: id, name: name, stages: stages}
}

// ID returns the workflow identifier.
func (w *Workflow) ID() string { return w.id }

// Name returns the display name.
func (w *Workflow) Name() string { return w.name }

// Chain builds a new chain for one run.
func (w *Workflow) Chain() *saga.Chain[*ImportContext] {
	return saga.NewChain(w.stages()...)
}

// NewExperiment creates trials, environments, units and their observations.
func NewExperiment(e *reconcile.Engine) *Workflow {
	return New(NewExperimentID, "Create new experiment", experimentStages(e, reconcile.ModeNewExperiment))
}

// AppendEnvironment adds environments to an existing experiment.
func AppendEnvironment(e *reconcile.Engine) *Workflow {
	return New(AppendEnvironmentID, "Create new experiment environment", experimentStages(e, reconcile.ModeAppendEnvironment))
}

// AppendDataset adds or overwrites observations on existing units.
func AppendDataset(e *reconcile.Engine) *Workflow {
	store := e.Store()
	return New(AppendDatasetID, "Append experimental dataset", func() []saga.Stage[*ImportContext] {
		return []saga.Stage[*ImportContext]{
			saga.Begin[*ImportContext](),
			step(StageCollateReferences, e.CollateReferences),
			step(StageFetchUnits, e.FetchUnitsByReference),
			step(StageFetchExisting, e.FetchExistingData),
			step(StageBuildPending, e.BuildAppendPending),
			step(StageValidateFields, e.ValidateFields),
			step(StageValidationGate, e.Gate),
			action.UpdateStage(StageUpdateTrials, trialTarget(store)),
			action.CreateStage(StageCreateDatasets, datasetTarget(store)),
			action.UpdateStage(StageUpdateDatasets, datasetTarget(store)),
			action.CreateStage(StageCreateObservations, observationTarget(store)),
			action.UpdateStage(StageUpdateObservations, observationTarget(store)),
		}
	})
}

func experimentStages(e *reconcile.Engine, mode reconcile.Mode) func() []saga.Stage[*ImportContext] {
	store := e.Store()
	build := func(ctx context.Context, s *reconcile.Session) error {
		return e.BuildExperimentPending(ctx, s, mode)
	}
	return func() []saga.Stage[*ImportContext] {
		return []saga.Stage[*ImportContext]{
			saga.Begin[*ImportContext](),
			step(StageValidateRows, e.ValidateRows),
			step(StageFetchExisting, e.FetchExperimentData),
			step(StageBuildPending, build),
			step(StageValidateFields, e.ValidateFields),
			step(StageValidationGate, e.Gate),
			action.CreateStage(StageCreateTrials, trialTarget(store)),
			action.UpdateStage(StageUpdateTrials, trialTarget(store)),
			action.CreateStage(StageCreateLocations, locationTarget(store)),
			action.CreateStage(StageCreateStudies, studyTarget(store)),
			action.CreateStage(StageCreateUnits, unitTarget(store)),
			action.CreateStage(StageCreateDatasets, datasetTarget(store)),
			action.UpdateStage(StageUpdateDatasets, datasetTarget(store)),
			action.CreateStage(StageCreateObservations, observationTarget(store)),
		}
	}
}

// Selector is the ordered registry of workflows.
type Selector struct {
	workflows []*Workflow
}

// NewSelector registers workflows in the given order. Identifiers must be
// unique.
func NewSelector(workflows ...*Workflow) (*Selector, error) {
	seen := make(map[string]struct{}, len(workflows))
	for _, w := range workflows {
		if _, dup := seen[w.ID()]; dup {
			return nil, fmt.Errorf("workflow %q registered twice", w.ID())
		}
		seen[w.ID()] = struct{}{}
	}
	return &Selector{workflows: workflows}, nil
}

// Default registers the three import workflows.
func Default(e *reconcile.Engine) *Selector {
	s, _ := NewSelector(NewExperiment(e), AppendEnvironment(e), AppendDataset(e))
	return s
}

// Select returns the workflow with the given id.
func (s *Selector) Select(id string) (*Workflow, error) {
	for _, w := range s.workflows {
		if w.ID() == id {
			return w, nil
		}
	}
	return nil, apperr.BadRequest(fmt.Sprintf("unknown workflow %q", id))
}

// Descriptors lists the registered workflows in order.
func (s *Selector) Descriptors() []Descriptor {
	out := make([]Descriptor, len(s.workflows))
	for i, w := range s.workflows {
		out[i] = Descriptor{ID: w.ID(), Name: w.Name(), Order: i}
	}
	return out
}
