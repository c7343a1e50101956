// Package experiment provides the experiment import bounded context module.
package experiment

import (
	"context"
	"fmt"

	"experiment_import_backend/internal/events"
	"experiment_import_backend/internal/experiment/brapi"
	"experiment_import_backend/internal/experiment/handler"
	"experiment_import_backend/internal/experiment/reconcile"
	"experiment_import_backend/internal/experiment/repository"
	"experiment_import_backend/internal/experiment/service"
	"experiment_import_backend/internal/experiment/transport"
	"experiment_import_backend/internal/experiment/validation"
	"experiment_import_backend/internal/experiment/workflow"
	apphttp "experiment_import_backend/internal/http"
	"experiment_import_backend/internal/scheduler"
	"experiment_import_backend/platform/config"
	"experiment_import_backend/platform/logger"
	"experiment_import_backend/platform/metrics"
	"experiment_import_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ModuleConfig combines the config interfaces the module reads.
type ModuleConfig interface {
	config.BrAPIConfig
	config.ImportConfig
}

// Module is the experiment import module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    repository.Repository
}

// NewModule creates and initializes the experiment import module. Without a
// BrAPI base URL the module runs against an in-memory store.
func NewModule(pool *pgxpool.Pool, bus events.Bus, val *validator.Validator, cfg ModuleConfig, rec *metrics.Recorder, log *logger.Logger) (*Module, error) {
	if err := val.RegisterValidation("workflowid", transport.ValidateWorkflowID); err != nil {
		return nil, fmt.Errorf("register workflowid validation: %w", err)
	}

	var store brapi.Store
	if cfg.IsBrAPIEnabled() {
		store = brapi.NewClient(cfg, log).Store()
		log.Info("brapi client initialized", "baseURL", cfg.GetBrAPIBaseURL())
	} else {
		store = brapi.NewMemoryStore().Store()
		log.Warn("BRAPI_BASE_URL not configured; experiment imports use an in-memory store")
	}

	repo := repository.New(pool)
	engine := reconcile.NewEngine(store, validation.Default(), repo, cfg.GetBrAPIReferenceSource(), log)
	svc := service.New(store, workflow.Default(engine), repo, bus, cfg.GetImportBatchSize(), log)
	svc.SetMetrics(rec)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		repo:    repo,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "experiment"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// SetCommitScheduler hands commits to the background worker.
func (m *Module) SetCommitScheduler(cs scheduler.CommitScheduler) {
	m.service.SetCommitScheduler(cs)
}

// RegisterRoutes mounts experiment import routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/programs/:programId/experiment-imports")
	group.GET("/workflows", m.handler.ListWorkflows)
	group.GET("/:importId", m.handler.GetImport)
	group.POST("", ctx.ImportRateLimiter.RateLimit(), m.handler.Import)
}

// RegisterHandlers subscribes the module to queued commit requests.
func (m *Module) RegisterHandlers(bus events.Subscriber) {
	bus.Subscribe(events.ExperimentImportCommitRequested{}.EventName(), m)
}

// Handle implements events.Handler for queued commits.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.ExperimentImportCommitRequested)
	if !ok {
		return nil
	}
	return m.service.RunQueued(ctx, e)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
