package scheduler

import (
	"context"
	"fmt"

	"experiment_import_backend/internal/events"
	"experiment_import_backend/platform/config"
	"experiment_import_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	bus    events.Publisher
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, bus events.Publisher, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		bus:    bus,
		log:    log,
	}

	mux.HandleFunc(TaskExperimentImportCommit, w.handleExperimentImportCommit)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleExperimentImportCommit(ctx context.Context, task *asynq.Task) error {
	if w.bus == nil {
		return nil
	}

	event, err := commitRequestedEvent(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	return w.bus.PublishSync(ctx, event)
}

func commitRequestedEvent(task *asynq.Task) (events.ExperimentImportCommitRequested, error) {
	payload, err := ParseExperimentImportCommitPayload(task)
	if err != nil {
		return events.ExperimentImportCommitRequested{}, err
	}

	importID, err := uuid.Parse(payload.ImportID)
	if err != nil {
		return events.ExperimentImportCommitRequested{}, err
	}

	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return events.ExperimentImportCommitRequested{}, err
	}

	return events.ExperimentImportCommitRequested{
		BaseEvent:          events.NewBaseEvent(),
		ImportID:           importID,
		ProgramID:          payload.ProgramID,
		UserID:             userID,
		Workflow:           payload.Workflow,
		OverwritePermitted: payload.OverwritePermitted,
		OverwriteReason:    payload.OverwriteReason,
		Headers:            payload.Headers,
		Rows:               payload.Rows,
	}, nil
}
