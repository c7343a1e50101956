package action

import (
	"context"
	"errors"
	"testing"

	"experiment_import_backend/internal/experiment/brapi"
	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/internal/experiment/saga"
	"experiment_import_backend/platform/logger"
	"experiment_import_backend/platform/metrics"
)

type recordingSink struct {
	reports []Progress
}

func (s *recordingSink) Report(_ context.Context, p Progress) error {
	s.reports = append(s.reports, p)
	return nil
}

type testEnv struct {
	commit    bool
	batcher   *Batcher
	set       *domain.PendingSet
	committed map[string][]string
}

func (e *testEnv) Committing() bool  { return e.commit }
func (e *testEnv) Batcher() *Batcher { return e.batcher }
func (e *testEnv) RecordCommitted(entity string, ids ...string) {
	e.committed[entity] = append(e.committed[entity], ids...)
}

func newEnv(commit bool, size int, sink ProgressSink) *testEnv {
	return &testEnv{
		commit:    commit,
		batcher:   NewBatcher(size, sink, logger.Discard(), metrics.New()),
		set:       domain.NewPendingSet(),
		committed: make(map[string][]string),
	}
}

func observationTarget(store brapi.Store) Target[*testEnv, domain.Observation] {
	return Target[*testEnv, domain.Observation]{
		Kind:   KindObservation,
		DAO:    store.Observations,
		Lookup: func(e *testEnv) *domain.Lookup[domain.Observation] { return e.set.Observations },
		ID:     func(o *domain.Observation) *string { return &o.ObservationDbID },
	}
}

func TestCreateChunksAndReportsProgress(t *testing.T) {
	sink := &recordingSink{}
	b := NewBatcher(2, sink, logger.Discard(), nil)
	mem := brapi.NewMemoryStore()

	items := make([]domain.Observation, 5)
	created, err := Create(context.Background(), b, KindObservation, mem.Store().Observations, items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 5 {
		t.Fatalf("expected 5 created, got %d", len(created))
	}
	if len(sink.reports) != 3 {
		t.Fatalf("expected 3 progress reports, got %d", len(sink.reports))
	}
	last := sink.reports[2]
	if last.Finished != 5 || last.Remaining != 0 {
		t.Fatalf("unexpected final progress %+v", last)
	}
	if sink.reports[0].Finished != 2 || sink.reports[0].Remaining != 3 {
		t.Fatalf("unexpected first progress %+v", sink.reports[0])
	}
}

func TestCreateStopsBetweenChunksOnCancel(t *testing.T) {
	mem := brapi.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	sink := sinkFunc(func(context.Context, Progress) error {
		cancel()
		return nil
	})
	b := NewBatcher(1, sink, logger.Discard(), nil)

	created, err := Create(ctx, b, KindObservation, mem.Store().Observations, make([]domain.Observation, 3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(created) != 1 || mem.Count(domain.EntityObservations) != 1 {
		t.Fatal("the chunk already sent must complete and be returned")
	}
}

type sinkFunc func(context.Context, Progress) error

func (f sinkFunc) Report(ctx context.Context, p Progress) error { return f(ctx, p) }

func TestCreateStageSkipsInPreview(t *testing.T) {
	mem := brapi.NewMemoryStore()
	env := newEnv(false, 10, nil)
	env.set.Observations.Put("h1", domain.NewPending(domain.Observation{Value: "1"}))

	stage := CreateStage("create-observations", observationTarget(mem.Store()))
	if err := stage.Process(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.Count(domain.EntityObservations) != 0 {
		t.Fatal("preview must not write")
	}
}

func TestCreateStageCompensationDeletesCreated(t *testing.T) {
	mem := brapi.NewMemoryStore()
	env := newEnv(true, 10, nil)
	pending := domain.NewPending(domain.Observation{Value: "1"})
	env.set.Observations.Put("h1", pending)

	stage := CreateStage("create-observations", observationTarget(mem.Store()))
	if err := stage.Process(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending.Remote.ObservationDbID == "" || len(env.committed[domain.EntityObservations]) != 1 {
		t.Fatal("created id must be copied back and recorded")
	}
	if pending.State != domain.StateNew {
		t.Fatal("created objects stay NEW")
	}

	failure := &saga.MiddlewareError{Stage: "later", Err: errors.New("boom")}
	stage.Compensate(context.Background(), env, failure)
	if mem.Count(domain.EntityObservations) != 0 {
		t.Fatal("compensation must delete what was created")
	}
	if pending.Remote.ObservationDbID != "" {
		t.Fatal("compensation must rewind the pending object")
	}
	if !failure.RolledBackCleanly() {
		t.Fatalf("unexpected rollback errors %v", failure.RollbackErrs)
	}
}

// shortEchoObservations stores every item but echoes only the first one.
type shortEchoObservations struct {
	brapi.ObservationDAO
}

func (d shortEchoObservations) BatchCreate(ctx context.Context, items []domain.Observation) ([]domain.Observation, error) {
	created, err := d.ObservationDAO.BatchCreate(ctx, items)
	if err != nil {
		return nil, err
	}
	return created[:1], errors.New("sent 2, got 1 back")
}

func TestCreateStageKeepsShortEchoForRollback(t *testing.T) {
	mem := brapi.NewMemoryStore()
	store := mem.Store()
	store.Observations = shortEchoObservations{ObservationDAO: store.Observations}
	env := newEnv(true, 10, nil)
	env.set.Observations.Put("h1", domain.NewPending(domain.Observation{Value: "1"}))
	env.set.Observations.Put("h2", domain.NewPending(domain.Observation{Value: "2"}))

	stage := CreateStage("create-observations", observationTarget(store))
	if err := stage.Process(context.Background(), env); err == nil {
		t.Fatal("expected the short echo to fail the stage")
	}
	if len(env.committed[domain.EntityObservations]) != 1 {
		t.Fatalf("expected the echoed record to be recorded, got %v", env.committed)
	}

	failure := &saga.MiddlewareError{Stage: "create-observations", Err: errors.New("short echo")}
	stage.Compensate(context.Background(), env, failure)
	if mem.Count(domain.EntityObservations) != 1 {
		t.Fatalf("expected the echoed record to be deleted, %d left", mem.Count(domain.EntityObservations))
	}
	if !failure.RolledBackCleanly() {
		t.Fatalf("unexpected rollback errors %v", failure.RollbackErrs)
	}
}

func TestUpdateStageCompensationRestoresSnapshot(t *testing.T) {
	mem := brapi.NewMemoryStore()
	stored := mem.SeedObservations(domain.Observation{Value: "1"})[0]
	env := newEnv(true, 10, nil)
	pending := domain.ExistingPending(stored)
	pending.Mutate(func(o *domain.Observation) { o.Value = "2" })
	env.set.Observations.Put("h1", pending)

	stage := UpdateStage("update-observations", observationTarget(mem.Store()))
	if err := stage.Process(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.Observations()[0].Value != "2" {
		t.Fatal("update must reach the store")
	}

	mem.FailOn(domain.EntityObservations, brapi.OpUpdate, nil)
	stage.Compensate(context.Background(), env, &saga.MiddlewareError{Stage: "later", Err: errors.New("boom")})
	if mem.Observations()[0].Value != "1" {
		t.Fatal("compensation must re-put the stored value")
	}
	if pending.State != domain.StateExisting || pending.Remote.Value != "1" {
		t.Fatal("compensation must restore the pending object")
	}
}

func TestCompensationFailureIsRecorded(t *testing.T) {
	mem := brapi.NewMemoryStore()
	env := newEnv(true, 10, nil)
	env.set.Observations.Put("h1", domain.NewPending(domain.Observation{Value: "1"}))

	stage := CreateStage("create-observations", observationTarget(mem.Store()))
	if err := stage.Process(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mem.FailOn(domain.EntityObservations, brapi.OpDelete, errors.New("delete refused"))

	failure := &saga.MiddlewareError{Stage: "later", Err: errors.New("boom")}
	stage.Compensate(context.Background(), env, failure)
	if failure.RolledBackCleanly() {
		t.Fatal("failed delete must be recorded on the failure")
	}
}
