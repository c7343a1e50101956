package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"experiment_import_backend/internal/experiment/brapi"
	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/internal/experiment/reconcile"
	"experiment_import_backend/internal/experiment/repository"
	"experiment_import_backend/internal/experiment/service"
	"experiment_import_backend/internal/experiment/transport"
	"experiment_import_backend/internal/experiment/validation"
	"experiment_import_backend/internal/experiment/workflow"
	"experiment_import_backend/internal/scheduler"
	"experiment_import_backend/platform/apperr"
	"experiment_import_backend/platform/httpkit"
	"experiment_import_backend/platform/logger"
	"experiment_import_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	testProgramID    = "prog-1"
	importsPath      = "/programs/" + testProgramID + "/experiment-imports"
	errUnexpectedFmt = "expected status %d, got %d: %s"
)

type memoryRepo struct {
	mu      sync.Mutex
	imports map[uuid.UUID]repository.Import
}

func (r *memoryRepo) CreateImport(_ context.Context, p repository.CreateImportParams) (repository.Import, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp := repository.Import{ID: p.ID, ProgramID: p.ProgramID, UserID: p.UserID, Workflow: p.Workflow, Commit: p.Commit, Status: p.Status}
	r.imports[p.ID] = imp
	return imp, nil
}

func (r *memoryRepo) UpdateProgress(_ context.Context, p repository.ProgressParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp := r.imports[p.ID]
	imp.Status, imp.Finished, imp.Remaining = p.Status, p.Finished, p.Remaining
	r.imports[p.ID] = imp
	return nil
}

func (r *memoryRepo) FinishImport(_ context.Context, p repository.FinishParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp := r.imports[p.ID]
	imp.Status, imp.Message, imp.Result = p.Status, p.Message, p.Result
	r.imports[p.ID] = imp
	return nil
}

func (r *memoryRepo) GetImport(_ context.Context, programID string, id uuid.UUID) (repository.Import, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.imports[id]
	if !ok || imp.ProgramID != programID {
		return repository.Import{}, apperr.NotFound("experiment import not found")
	}
	return imp, nil
}

func (r *memoryRepo) NextExperimentNumber(context.Context, string) (int, error) {
	return 1, nil
}

type queueStub struct{ payloads int }

func (q *queueStub) EnqueueExperimentImportCommit(context.Context, scheduler.ExperimentImportCommitPayload) error {
	q.payloads++
	return nil
}

func newTestRouter(t *testing.T, queue scheduler.CommitScheduler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := brapi.NewMemoryStore()
	mem.AddProgram(domain.Program{ProgramDbID: testProgramID, ProgramName: "Blueberry", Abbreviation: "BB"})
	mem.AddTraits(testProgramID, domain.Trait{
		ObservationVariableDbID: "var-height",
		ObservationVariableName: "Plant Height",
		Scale:                   &domain.Scale{DataType: domain.DataTypeNumerical},
	})
	mem.SeedGermplasm(domain.Germplasm{GermplasmName: "Duke", AccessionNumber: "101"})

	repo := &memoryRepo{imports: make(map[uuid.UUID]repository.Import)}
	engine := reconcile.NewEngine(mem.Store(), validation.Default(), repo, "breeding-insight.org", logger.Discard())
	svc := service.New(mem.Store(), workflow.Default(engine), repo, nil, 100, logger.Discard())
	if queue != nil {
		svc.SetCommitScheduler(queue)
	}

	val := validator.New()
	if err := val.RegisterValidation("workflowid", transport.ValidateWorkflowID); err != nil {
		t.Fatalf("register validation: %v", err)
	}
	h := New(svc, val)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, uuid.New())
		c.Next()
	})
	group := router.Group("/programs/:programId/experiment-imports")
	group.GET("/workflows", h.ListWorkflows)
	group.GET("/:importId", h.GetImport)
	group.POST("", h.Import)
	return router
}

func importBody(t *testing.T, workflowID string, commit bool) *bytes.Buffer {
	t.Helper()
	req := transport.ImportRequest{
		Workflow: workflowID,
		Commit:   commit,
		Headers: []string{
			domain.ColGermplasmGID, domain.ColExpTitle, domain.ColExpUnit, domain.ColExpType, domain.ColEnv,
			domain.ColEnvLocation, domain.ColEnvYear, domain.ColExpUnitID, domain.ColExpReplicate,
			domain.ColExpBlock, "Plant Height",
		},
		Rows: []map[string]string{{
			domain.ColGermplasmGID: "101",
			domain.ColExpTitle:     "Spring Trial",
			domain.ColExpUnit:      "Plot",
			domain.ColExpType:      "Phenotyping",
			domain.ColEnv:          "E1",
			domain.ColEnvLocation:  "Field 9",
			domain.ColEnvYear:      "2024",
			domain.ColExpUnitID:    "U1",
			domain.ColExpReplicate: "1",
			domain.ColExpBlock:     "1",
			"Plant Height":         "12",
		}},
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewBuffer(data)
}

func serve(router *gin.Engine, method, path string, body *bytes.Buffer) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListWorkflows(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := serve(router, http.MethodGet, importsPath+"/workflows", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf(errUnexpectedFmt, http.StatusOK, rec.Code, rec.Body.String())
	}
	var resp transport.WorkflowListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 3 || resp.Items[0].ID != workflow.NewExperimentID {
		t.Fatalf("unexpected workflows %+v", resp.Items)
	}
}

func TestImportPreviewThenStatus(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := serve(router, http.MethodPost, importsPath, importBody(t, workflow.NewExperimentID, false))
	if rec.Code != http.StatusOK {
		t.Fatalf(errUnexpectedFmt, http.StatusOK, rec.Code, rec.Body.String())
	}
	var resp transport.ImportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Preview.Statistics[domain.EntityUnits].New != 1 {
		t.Fatalf("unexpected statistics %+v", resp.Preview.Statistics)
	}

	rec = serve(router, http.MethodGet, importsPath+"/"+resp.ImportID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf(errUnexpectedFmt, http.StatusOK, rec.Code, rec.Body.String())
	}
	var status transport.ImportStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != repository.StatusSucceeded {
		t.Fatalf("unexpected status %q", status.Status)
	}
}

func TestImportRejectsMalformedWorkflowID(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := serve(router, http.MethodPost, importsPath, importBody(t, "New Experiment!", false))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf(errUnexpectedFmt, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
}

func TestImportRejectsUnknownWorkflow(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := serve(router, http.MethodPost, importsPath, importBody(t, "append-everything", false))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf(errUnexpectedFmt, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
}

func TestImportRejectsInvalidJSON(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := serve(router, http.MethodPost, importsPath, bytes.NewBufferString("{"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf(errUnexpectedFmt, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
}

func TestImportCommitIsQueued(t *testing.T) {
	queue := &queueStub{}
	router := newTestRouter(t, queue)
	rec := serve(router, http.MethodPost, importsPath, importBody(t, workflow.NewExperimentID, true))
	if rec.Code != http.StatusAccepted {
		t.Fatalf(errUnexpectedFmt, http.StatusAccepted, rec.Code, rec.Body.String())
	}
	if queue.payloads != 1 {
		t.Fatalf("expected one queued commit, got %d", queue.payloads)
	}
}

func TestGetImportRejectsBadID(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := serve(router, http.MethodGet, importsPath+"/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf(errUnexpectedFmt, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
}

func TestGetImportNotFound(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := serve(router, http.MethodGet, importsPath+"/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf(errUnexpectedFmt, http.StatusNotFound, rec.Code, rec.Body.String())
	}
}
