// Package service runs experiment imports: it parses the uploaded table,
// resolves the program and its traits, drives the selected workflow chain and
// records the outcome on the import record.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"experiment_import_backend/internal/events"
	"experiment_import_backend/internal/experiment/action"
	"experiment_import_backend/internal/experiment/brapi"
	"experiment_import_backend/internal/experiment/columns"
	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/internal/experiment/reconcile"
	"experiment_import_backend/internal/experiment/repository"
	"experiment_import_backend/internal/experiment/saga"
	"experiment_import_backend/internal/experiment/transport"
	"experiment_import_backend/internal/experiment/workflow"
	"experiment_import_backend/internal/scheduler"
	"experiment_import_backend/platform/apperr"
	"experiment_import_backend/platform/logger"
	"experiment_import_backend/platform/metrics"
	"experiment_import_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	msgMissingTraits    = "phenotype columns have no matching ontology term"
	msgAsyncUnavailable = "asynchronous commits are not configured"
)

// Service handles experiment import business logic.
type Service struct {
	store     brapi.Store
	selector  *workflow.Selector
	repo      repository.Repository
	bus       events.Publisher
	batchSize int
	log       *logger.Logger

	scheduler scheduler.CommitScheduler
	metrics   *metrics.Recorder
}

// New creates a new experiment import service.
func New(store brapi.Store, selector *workflow.Selector, repo repository.Repository, bus events.Publisher, batchSize int, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		selector:  selector,
		repo:      repo,
		bus:       bus,
		batchSize: batchSize,
		log:       log,
	}
}

// SetCommitScheduler enables queued commits.
func (s *Service) SetCommitScheduler(cs scheduler.CommitScheduler) {
	s.scheduler = cs
}

// SetMetrics attaches the metrics recorder.
func (s *Service) SetMetrics(m *metrics.Recorder) {
	s.metrics = m
}

// QueuesCommits reports whether commits are handed to the worker.
func (s *Service) QueuesCommits() bool {
	return s.scheduler != nil
}

// job is one run of a workflow.
type job struct {
	id        uuid.UUID
	programID string
	userID    uuid.UUID
	commit    bool
	input     domain.UserInput
	headers   []string
	rows      []map[string]string
}

// Workflows lists the registered workflows in order.
func (s *Service) Workflows() transport.WorkflowListResponse {
	descriptors := s.selector.Descriptors()
	items := make([]transport.WorkflowResponse, len(descriptors))
	for i, d := range descriptors {
		items[i] = transport.WorkflowResponse{ID: d.ID, Name: d.Name, Order: d.Order}
	}
	return transport.WorkflowListResponse{Items: items}
}

// Run executes a preview or commit in the calling goroutine.
func (s *Service) Run(ctx context.Context, programID string, userID uuid.UUID, req transport.ImportRequest) (transport.ImportResponse, error) {
	wf, err := s.selector.Select(req.Workflow)
	if err != nil {
		return transport.ImportResponse{}, err
	}

	j := job{
		id:        uuid.New(),
		programID: programID,
		userID:    userID,
		commit:    req.Commit,
		input:     req.UserInput(),
		headers:   req.Headers,
		rows:      req.Rows,
	}

	if _, err := s.repo.CreateImport(ctx, repository.CreateImportParams{
		ID:        j.id,
		ProgramID: programID,
		UserID:    userID,
		Workflow:  wf.ID(),
		Commit:    j.commit,
		Status:    repository.StatusRunning,
	}); err != nil {
		return transport.ImportResponse{}, err
	}

	preview, err := s.process(ctx, wf, j)
	if err != nil {
		return transport.ImportResponse{}, err
	}

	return transport.ImportResponse{
		ImportID: j.id,
		Status:   repository.StatusSucceeded,
		Preview:  preview,
	}, nil
}

// Submit registers a commit and queues it for the worker.
func (s *Service) Submit(ctx context.Context, programID string, userID uuid.UUID, req transport.ImportRequest) (transport.ImportAcceptedResponse, error) {
	if s.scheduler == nil {
		return transport.ImportAcceptedResponse{}, apperr.Internal(msgAsyncUnavailable)
	}

	wf, err := s.selector.Select(req.Workflow)
	if err != nil {
		return transport.ImportAcceptedResponse{}, err
	}

	id := uuid.New()
	if _, err := s.repo.CreateImport(ctx, repository.CreateImportParams{
		ID:        id,
		ProgramID: programID,
		UserID:    userID,
		Workflow:  wf.ID(),
		Commit:    true,
		Status:    repository.StatusQueued,
	}); err != nil {
		return transport.ImportAcceptedResponse{}, err
	}

	payload := scheduler.ExperimentImportCommitPayload{
		ImportID:           id.String(),
		ProgramID:          programID,
		UserID:             userID.String(),
		Workflow:           wf.ID(),
		OverwritePermitted: req.OverwritePermitted,
		OverwriteReason:    req.OverwriteReason,
		Headers:            req.Headers,
		Rows:               req.Rows,
	}
	if err := s.scheduler.EnqueueExperimentImportCommit(ctx, payload); err != nil {
		s.markFailed(ctx, id, "queue commit: "+err.Error())
		return transport.ImportAcceptedResponse{}, apperr.Wrap(apperr.KindInternal, "queue import commit", err)
	}

	return transport.ImportAcceptedResponse{ImportID: id, Status: repository.StatusQueued}, nil
}

// RunQueued executes a commit handed over by the worker. Failures are
// recorded on the import record, so only bookkeeping errors are returned.
func (s *Service) RunQueued(ctx context.Context, e events.ExperimentImportCommitRequested) error {
	wf, err := s.selector.Select(e.Workflow)
	if err != nil {
		s.markFailed(ctx, e.ImportID, err.Error())
		return nil
	}

	if err := s.repo.UpdateProgress(ctx, repository.ProgressParams{
		ID:     e.ImportID,
		Status: repository.StatusRunning,
	}); err != nil {
		return err
	}

	_, err = s.process(ctx, wf, job{
		id:        e.ImportID,
		programID: e.ProgramID,
		userID:    e.UserID,
		commit:    true,
		input:     domain.UserInput{OverwritePermitted: e.OverwritePermitted, OverwriteReason: sanitize.Text(e.OverwriteReason)},
		headers:   e.Headers,
		rows:      e.Rows,
	})
	if err != nil {
		s.log.Warn("queued experiment import failed", "import_id", e.ImportID.String(), "error", err)
	}
	return nil
}

// GetStatus returns the stored progress and result of an import.
func (s *Service) GetStatus(ctx context.Context, programID string, id uuid.UUID) (transport.ImportStatusResponse, error) {
	imp, err := s.repo.GetImport(ctx, programID, id)
	if err != nil {
		return transport.ImportStatusResponse{}, err
	}
	return transport.ImportStatusResponse{
		ImportID:  imp.ID,
		ProgramID: imp.ProgramID,
		Workflow:  imp.Workflow,
		Commit:    imp.Commit,
		Status:    imp.Status,
		Finished:  imp.Finished,
		Remaining: imp.Remaining,
		Message:   imp.Message,
		Result:    imp.Result,
		CreatedAt: imp.CreatedAt,
		UpdatedAt: imp.UpdatedAt,
	}, nil
}

func (s *Service) process(ctx context.Context, wf *workflow.Workflow, j job) (domain.ImportPreview, error) {
	log := s.log.WithImport(j.id.String(), j.programID, wf.ID())
	start := time.Now()

	preview, err := s.execute(ctx, wf, j, log)
	err = classify(err)

	s.finish(ctx, wf, j, preview, err, log)
	log.Info("experiment import finished",
		"commit", j.commit,
		"outcome", outcomeOf(err),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return preview, err
}

func (s *Service) execute(ctx context.Context, wf *workflow.Workflow, j job, log *logger.Logger) (domain.ImportPreview, error) {
	preview := domain.ImportPreview{Workflow: wf.ID(), Commit: j.commit}

	cols, err := columns.Parse(dynamicHeaders(j.headers))
	if err != nil {
		return preview, err
	}

	program, err := s.store.Programs.GetProgram(ctx, j.programID)
	if err != nil {
		return preview, err
	}

	traits, err := s.traits(ctx, program.ProgramDbID, cols.Phenotypes)
	if err != nil {
		return preview, err
	}

	rows := make([]domain.ImportRow, len(j.rows))
	for i, cells := range j.rows {
		rows[i] = domain.NewImportRow(i, cells)
	}

	session := reconcile.NewSession(reconcile.Request{
		Program: program,
		UserID:  j.userID.String(),
		Commit:  j.commit,
		Input:   j.input,
		Rows:    rows,
		Columns: cols,
		Traits:  traits,
	})
	batcher := action.NewBatcher(s.batchSize, progressSink{repo: s.repo, id: j.id}, log, s.metrics)
	ic := workflow.NewImportContext(j.id, session, batcher)

	runErr := wf.Chain().WithObserver(stageObserver{log: log, metrics: s.metrics}).Run(ctx, ic)

	preview.Statistics = session.Pending.Statistics()
	preview.Rows = session.Pending.BuildRowPreviews(rows)
	preview.Errors = session.Errors.Rows()
	if runErr == nil && j.commit {
		preview.Committed = ic.Committed()
	}
	return preview, runErr
}

// traits maps every phenotype column to its ontology term, matching names
// case-insensitively.
func (s *Service) traits(ctx context.Context, programID string, phenotypes []string) (map[string]domain.Trait, error) {
	out := make(map[string]domain.Trait, len(phenotypes))
	if len(phenotypes) == 0 {
		return out, nil
	}

	found, err := s.store.Ontology.FetchTraitsByName(ctx, programID, phenotypes)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]domain.Trait, len(found))
	for _, t := range found {
		byName[strings.ToLower(t.ObservationVariableName)] = t
	}

	var missing []string
	for _, col := range phenotypes {
		t, ok := byName[strings.ToLower(col)]
		if !ok {
			missing = append(missing, col)
			continue
		}
		out[col] = t
	}
	if len(missing) > 0 {
		return nil, apperr.Unprocessable(msgMissingTraits).WithDetails(map[string]any{"missingTraits": missing})
	}
	return out, nil
}

func (s *Service) finish(ctx context.Context, wf *workflow.Workflow, j job, preview domain.ImportPreview, err error, log *logger.Logger) {
	ctx = context.WithoutCancel(ctx)
	outcome := outcomeOf(err)

	params := repository.FinishParams{ID: j.id, Status: repository.StatusSucceeded}
	if err != nil {
		params.Status = repository.StatusFailed
		params.Message = err.Error()
	}
	if result, mErr := json.Marshal(preview); mErr == nil {
		params.Result = result
	} else {
		log.Error("marshal import result", "error", mErr)
	}
	if fErr := s.repo.FinishImport(ctx, params); fErr != nil {
		log.DatabaseError("finish_import", fErr)
	}

	s.metrics.ImportFinished(wf.ID(), j.commit, outcome)
	for entity, counts := range preview.Statistics {
		s.metrics.PendingClassified(entity, string(domain.StateNew), counts.New)
		s.metrics.PendingClassified(entity, string(domain.StateMutated), counts.Mutated)
		s.metrics.PendingClassified(entity, string(domain.StateExisting), counts.Existing)
	}

	if s.bus == nil {
		return
	}
	finished := events.ExperimentImportFinished{
		BaseEvent: events.NewBaseEvent(),
		ImportID:  j.id,
		ProgramID: j.programID,
		UserID:    j.userID.String(),
		Workflow:  wf.ID(),
		Commit:    j.commit,
		Outcome:   outcome,
		Message:   params.Message,
	}
	if len(preview.Committed) > 0 {
		finished.CreatedCount = make(map[string]int, len(preview.Committed))
		for entity, ids := range preview.Committed {
			finished.CreatedCount[entity] = len(ids)
		}
	}
	s.bus.Publish(ctx, finished)
}

func (s *Service) markFailed(ctx context.Context, id uuid.UUID, message string) {
	err := s.repo.FinishImport(context.WithoutCancel(ctx), repository.FinishParams{
		ID:      id,
		Status:  repository.StatusFailed,
		Message: message,
	})
	if err != nil {
		s.log.DatabaseError("finish_import", err)
	}
}

// classify maps a chain failure onto the error kinds callers act on. Typed
// errors raised by a stage pass through; untyped ones came from the remote
// store. A failed rollback is always fatal.
func classify(err error) error {
	var failure *saga.MiddlewareError
	if !errors.As(err, &failure) {
		return err
	}

	if !failure.RolledBackCleanly() {
		rollback := make([]string, len(failure.RollbackErrs))
		for i, rbErr := range failure.RollbackErrs {
			rollback[i] = rbErr.Error()
		}
		return apperr.Wrap(apperr.KindInternal,
			fmt.Sprintf("import failed at %s and could not be rolled back", failure.Stage), failure).
			WithDetails(map[string]any{
				"stage":          failure.Stage,
				"cause":          failure.Err.Error(),
				"rollbackErrors": rollback,
			})
	}

	if apperr.GetKind(failure.Err) != apperr.KindUnknown {
		return failure
	}
	return apperr.Upstream(fmt.Sprintf("import failed at %s", failure.Stage), failure).
		WithDetails(map[string]any{"stage": failure.Stage})
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return events.ImportOutcomeSuccess
	case apperr.Is(err, apperr.KindValidation):
		return events.ImportOutcomeValidation
	default:
		return events.ImportOutcomeFailed
	}
}

// dynamicHeaders drops the template headers, keeping upload order.
func dynamicHeaders(headers []string) []string {
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		name := strings.TrimSpace(h)
		if name == "" || domain.IsFixedColumn(name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

type progressSink struct {
	repo repository.Repository
	id   uuid.UUID
}

func (p progressSink) Report(ctx context.Context, progress action.Progress) error {
	return p.repo.UpdateProgress(ctx, repository.ProgressParams{
		ID:        p.id,
		Status:    repository.StatusRunning,
		Finished:  progress.Finished,
		Remaining: progress.Remaining,
		Message:   progress.Message,
	})
}

type stageObserver struct {
	log     *logger.Logger
	metrics *metrics.Recorder
}

func (o stageObserver) StageFinished(stage string, elapsed time.Duration, err error) {
	o.log.ImportStage(stage, elapsed, err)
	if err != nil {
		o.metrics.StageFailed(stage)
	}
}

func (o stageObserver) StageCompensated(stage string, rollbackErrs int) {
	if rollbackErrs > 0 {
		o.log.Error("stage rollback incomplete", "stage", stage, "failures", rollbackErrs)
	}
}
