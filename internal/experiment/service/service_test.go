package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"experiment_import_backend/internal/events"
	"experiment_import_backend/internal/experiment/brapi"
	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/internal/experiment/reconcile"
	"experiment_import_backend/internal/experiment/repository"
	"experiment_import_backend/internal/experiment/transport"
	"experiment_import_backend/internal/experiment/validation"
	"experiment_import_backend/internal/experiment/workflow"
	"experiment_import_backend/internal/scheduler"
	"experiment_import_backend/platform/apperr"
	"experiment_import_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	testProgramID   = "prog-1"
	errUnexpected   = "unexpected error: %v"
	errExpectedKind = "expected %s error, got %v"
)

var testProgram = domain.Program{ProgramDbID: testProgramID, ProgramName: "Blueberry", Abbreviation: "BB"}

type fakeRepo struct {
	mu       sync.Mutex
	imports  map[uuid.UUID]repository.Import
	progress []repository.ProgressParams
	next     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{imports: make(map[uuid.UUID]repository.Import)}
}

func (r *fakeRepo) CreateImport(_ context.Context, p repository.CreateImportParams) (repository.Import, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp := repository.Import{ID: p.ID, ProgramID: p.ProgramID, UserID: p.UserID, Workflow: p.Workflow, Commit: p.Commit, Status: p.Status}
	r.imports[p.ID] = imp
	return imp, nil
}

func (r *fakeRepo) UpdateProgress(_ context.Context, p repository.ProgressParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.imports[p.ID]
	if !ok {
		return apperr.NotFound("experiment import not found")
	}
	imp.Status, imp.Finished, imp.Remaining, imp.Message = p.Status, p.Finished, p.Remaining, p.Message
	r.imports[p.ID] = imp
	r.progress = append(r.progress, p)
	return nil
}

func (r *fakeRepo) FinishImport(_ context.Context, p repository.FinishParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.imports[p.ID]
	if !ok {
		return apperr.NotFound("experiment import not found")
	}
	imp.Status, imp.Message, imp.Result, imp.Remaining = p.Status, p.Message, p.Result, 0
	r.imports[p.ID] = imp
	return nil
}

func (r *fakeRepo) GetImport(_ context.Context, programID string, id uuid.UUID) (repository.Import, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.imports[id]
	if !ok || imp.ProgramID != programID {
		return repository.Import{}, apperr.NotFound("experiment import not found")
	}
	return imp, nil
}

func (r *fakeRepo) NextExperimentNumber(context.Context, string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	return r.next, nil
}

func (r *fakeRepo) only(t *testing.T) repository.Import {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.imports) != 1 {
		t.Fatalf("expected one import record, got %d", len(r.imports))
	}
	for _, imp := range r.imports {
		return imp
	}
	return repository.Import{}
}

type fakeScheduler struct {
	payloads []scheduler.ExperimentImportCommitPayload
	err      error
}

func (f *fakeScheduler) EnqueueExperimentImportCommit(_ context.Context, p scheduler.ExperimentImportCommitPayload) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, p)
	return nil
}

type harness struct {
	svc      *Service
	mem      *brapi.MemoryStore
	repo     *fakeRepo
	bus      *events.InMemoryBus
	mu       sync.Mutex
	finished []events.ExperimentImportFinished
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := brapi.NewMemoryStore()
	mem.AddProgram(testProgram)
	mem.AddTraits(testProgramID, domain.Trait{
		ObservationVariableDbID: "var-height",
		ObservationVariableName: "Plant Height",
		Scale:                   &domain.Scale{DataType: domain.DataTypeNumerical},
	})
	mem.SeedGermplasm(domain.Germplasm{GermplasmName: "Duke", AccessionNumber: "101"})

	repo := newFakeRepo()
	engine := reconcile.NewEngine(mem.Store(), validation.Default(), repo, "breeding-insight.org", logger.Discard())
	bus := events.NewInMemoryBus(logger.Discard())

	h := &harness{mem: mem, repo: repo, bus: bus}
	bus.Subscribe(events.ExperimentImportFinished{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.finished = append(h.finished, e.(events.ExperimentImportFinished))
		return nil
	}))
	h.svc = New(mem.Store(), workflow.Default(engine), repo, bus, 2, logger.Discard())
	return h
}

func (h *harness) outcomes() []string {
	h.bus.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.finished))
	for i, e := range h.finished {
		out[i] = e.Outcome
	}
	return out
}

func experimentRequest(commit bool, cells ...map[string]string) transport.ImportRequest {
	return transport.ImportRequest{
		Workflow: workflow.NewExperimentID,
		Commit:   commit,
		Headers: []string{
			domain.ColGermplasmGID, domain.ColExpTitle, domain.ColExpUnit, domain.ColExpType, domain.ColEnv,
			domain.ColEnvLocation, domain.ColEnvYear, domain.ColExpUnitID, domain.ColExpReplicate,
			domain.ColExpBlock, "Plant Height",
		},
		Rows: cells,
	}
}

func experimentRow(env, unit string) map[string]string {
	return map[string]string{
		domain.ColGermplasmGID: "101",
		domain.ColExpTitle:     "Spring Trial",
		domain.ColExpUnit:      "Plot",
		domain.ColExpType:      "Phenotyping",
		domain.ColEnv:          env,
		domain.ColEnvLocation:  "Field 9",
		domain.ColEnvYear:      "2024",
		domain.ColExpUnitID:    unit,
		domain.ColExpReplicate: "1",
		domain.ColExpBlock:     "1",
		"Plant Height":         "12",
	}
}

func TestWorkflowsListed(t *testing.T) {
	h := newHarness(t)
	items := h.svc.Workflows().Items
	if len(items) != 3 || items[0].ID != workflow.NewExperimentID || items[2].Order != 2 {
		t.Fatalf("unexpected workflows %+v", items)
	}
}

func TestRunPreviewRecordsResult(t *testing.T) {
	h := newHarness(t)
	resp, err := h.svc.Run(context.Background(), testProgramID, uuid.New(), experimentRequest(false, experimentRow("E1", "U1")))
	if err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if resp.Preview.Statistics[domain.EntityObservations].New != 1 {
		t.Fatalf("expected one new observation, got %+v", resp.Preview.Statistics)
	}
	if resp.Preview.Committed != nil {
		t.Fatalf("preview must not report committed ids")
	}

	imp := h.repo.only(t)
	if imp.ID != resp.ImportID || imp.Status != repository.StatusSucceeded || len(imp.Result) == 0 {
		t.Fatalf("unexpected import record %+v", imp)
	}
	if h.mem.Count(domain.EntityObservations) != 0 {
		t.Fatalf("preview must not write")
	}
	if got := h.outcomes(); len(got) != 1 || got[0] != events.ImportOutcomeSuccess {
		t.Fatalf("unexpected outcomes %v", got)
	}
}

func TestRunCommitCreatesExperiment(t *testing.T) {
	h := newHarness(t)
	resp, err := h.svc.Run(context.Background(), testProgramID, uuid.New(),
		experimentRequest(true, experimentRow("E1", "U1"), experimentRow("E1", "U2")))
	if err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if len(resp.Preview.Committed[domain.EntityObservations]) != 2 {
		t.Fatalf("unexpected committed ids %v", resp.Preview.Committed)
	}
	if h.mem.Count(domain.EntityUnits) != 2 {
		t.Fatalf("expected two units to be written")
	}
	if len(h.repo.progress) == 0 {
		t.Fatalf("expected progress reports during the commit")
	}
}

func TestRunRejectsUnknownWorkflow(t *testing.T) {
	h := newHarness(t)
	req := experimentRequest(false, experimentRow("E1", "U1"))
	req.Workflow = "append-everything"

	_, err := h.svc.Run(context.Background(), testProgramID, uuid.New(), req)
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf(errExpectedKind, "bad request", err)
	}
	if len(h.repo.imports) != 0 {
		t.Fatalf("unknown workflow must not create a record")
	}
}

func TestRunReportsMissingTraits(t *testing.T) {
	h := newHarness(t)
	req := experimentRequest(false, experimentRow("E1", "U1"))
	req.Headers = append(req.Headers, "Berry Weight")

	_, err := h.svc.Run(context.Background(), testProgramID, uuid.New(), req)
	if !apperr.Is(err, apperr.KindUnprocessable) {
		t.Fatalf(errExpectedKind, "unprocessable", err)
	}
	var appErr *apperr.Error
	errors.As(err, &appErr)
	details, _ := appErr.Details.(map[string]any)
	missing, _ := details["missingTraits"].([]string)
	if len(missing) != 1 || missing[0] != "Berry Weight" {
		t.Fatalf("unexpected details %v", appErr.Details)
	}
	if imp := h.repo.only(t); imp.Status != repository.StatusFailed {
		t.Fatalf("expected failed record, got %s", imp.Status)
	}
}

func TestRunRejectsReservedColumnNames(t *testing.T) {
	h := newHarness(t)
	req := experimentRequest(false, experimentRow("E1", "U1"))
	req.Headers = append(req.Headers, "Height.cm")

	_, err := h.svc.Run(context.Background(), testProgramID, uuid.New(), req)
	if !apperr.Is(err, apperr.KindUnprocessable) {
		t.Fatalf(errExpectedKind, "unprocessable", err)
	}
}

func TestRunUnknownProgram(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Run(context.Background(), "prog-404", uuid.New(), experimentRequest(false, experimentRow("E1", "U1")))
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf(errExpectedKind, "not found", err)
	}
}

func TestRunCommitBlockedByValidation(t *testing.T) {
	h := newHarness(t)
	row := experimentRow("E1", "U1")
	row[domain.ColEnv] = ""

	_, err := h.svc.Run(context.Background(), testProgramID, uuid.New(), experimentRequest(true, row))
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf(errExpectedKind, "validation", err)
	}
	if h.mem.Count(domain.EntityTrials) != 0 {
		t.Fatalf("gated commit must not write")
	}
	if got := h.outcomes(); len(got) != 1 || got[0] != events.ImportOutcomeValidation {
		t.Fatalf("unexpected outcomes %v", got)
	}
}

func TestRunRemoteFailureIsUpstream(t *testing.T) {
	h := newHarness(t)
	h.mem.FailOn(domain.EntityObservations, brapi.OpCreate, errors.New("brapi unavailable"))

	_, err := h.svc.Run(context.Background(), testProgramID, uuid.New(), experimentRequest(true, experimentRow("E1", "U1")))
	if !apperr.Is(err, apperr.KindUpstream) {
		t.Fatalf(errExpectedKind, "upstream", err)
	}
	if h.mem.Count(domain.EntityUnits) != 0 {
		t.Fatalf("units must be rolled back")
	}
	if imp := h.repo.only(t); imp.Status != repository.StatusFailed || imp.Message == "" {
		t.Fatalf("unexpected import record %+v", imp)
	}
}

func TestRunIncompleteRollbackIsInternal(t *testing.T) {
	h := newHarness(t)
	h.mem.FailOn(domain.EntityObservations, brapi.OpCreate, errors.New("brapi unavailable"))
	h.mem.FailOn(domain.EntityUnits, brapi.OpDelete, errors.New("delete refused"))

	_, err := h.svc.Run(context.Background(), testProgramID, uuid.New(), experimentRequest(true, experimentRow("E1", "U1")))
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf(errExpectedKind, "internal", err)
	}
	var appErr *apperr.Error
	errors.As(err, &appErr)
	details, _ := appErr.Details.(map[string]any)
	if details["stage"] != workflow.StageCreateObservations {
		t.Fatalf("expected failure stage in details, got %v", details)
	}
	if rollback, _ := details["rollbackErrors"].([]string); len(rollback) == 0 {
		t.Fatalf("expected rollback errors in details, got %v", details)
	}
}

func TestSubmitQueuesCommitAndRunQueuedFinishesIt(t *testing.T) {
	h := newHarness(t)
	queue := &fakeScheduler{}
	h.svc.SetCommitScheduler(queue)
	if !h.svc.QueuesCommits() {
		t.Fatalf("expected commits to be queued")
	}

	userID := uuid.New()
	accepted, err := h.svc.Submit(context.Background(), testProgramID, userID, experimentRequest(true, experimentRow("E1", "U1")))
	if err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if accepted.Status != repository.StatusQueued || len(queue.payloads) != 1 {
		t.Fatalf("unexpected submit result %+v, %d payloads", accepted, len(queue.payloads))
	}
	if imp := h.repo.only(t); imp.Status != repository.StatusQueued || !imp.Commit {
		t.Fatalf("unexpected queued record %+v", imp)
	}

	p := queue.payloads[0]
	err = h.svc.RunQueued(context.Background(), events.ExperimentImportCommitRequested{
		BaseEvent: events.NewBaseEvent(),
		ImportID:  accepted.ImportID,
		ProgramID: p.ProgramID,
		UserID:    userID,
		Workflow:  p.Workflow,
		Headers:   p.Headers,
		Rows:      p.Rows,
	})
	if err != nil {
		t.Fatalf(errUnexpected, err)
	}

	status, err := h.svc.GetStatus(context.Background(), testProgramID, accepted.ImportID)
	if err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if status.Status != repository.StatusSucceeded || len(status.Result) == 0 {
		t.Fatalf("unexpected status %+v", status)
	}
	if h.mem.Count(domain.EntityObservations) != 1 {
		t.Fatalf("expected the queued commit to write one observation")
	}
}

func TestSubmitRecordsEnqueueFailure(t *testing.T) {
	h := newHarness(t)
	h.svc.SetCommitScheduler(&fakeScheduler{err: errors.New("redis down")})

	_, err := h.svc.Submit(context.Background(), testProgramID, uuid.New(), experimentRequest(true, experimentRow("E1", "U1")))
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf(errExpectedKind, "internal", err)
	}
	if imp := h.repo.only(t); imp.Status != repository.StatusFailed {
		t.Fatalf("expected failed record, got %s", imp.Status)
	}
}

func TestSubmitWithoutScheduler(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Submit(context.Background(), testProgramID, uuid.New(), experimentRequest(true, experimentRow("E1", "U1")))
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf(errExpectedKind, "internal", err)
	}
}

func TestGetStatusIsScopedToProgram(t *testing.T) {
	h := newHarness(t)
	resp, err := h.svc.Run(context.Background(), testProgramID, uuid.New(), experimentRequest(false, experimentRow("E1", "U1")))
	if err != nil {
		t.Fatalf(errUnexpected, err)
	}
	if _, err := h.svc.GetStatus(context.Background(), "prog-2", resp.ImportID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf(errExpectedKind, "not found", err)
	}
}
