// Package action turns staged pending objects into batched BrAPI writes.
package action

import (
	"context"
	"fmt"
	"time"

	"experiment_import_backend/internal/experiment/brapi"
	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/platform/logger"
	"experiment_import_backend/platform/metrics"
)

// Kind is the closed set of entity types the importer writes.
type Kind int

const (
	KindTrial Kind = iota
	KindLocation
	KindStudy
	KindGermplasm
	KindUnit
	KindDataset
	KindObservation
)

// Entity returns the entity name used in statistics and metrics.
func (k Kind) Entity() string {
	switch k {
	case KindTrial:
		return domain.EntityTrials
	case KindLocation:
		return domain.EntityLocations
	case KindStudy:
		return domain.EntityStudies
	case KindGermplasm:
		return domain.EntityGermplasm
	case KindUnit:
		return domain.EntityUnits
	case KindDataset:
		return domain.EntityDatasets
	case KindObservation:
		return domain.EntityObservations
	default:
		return "unknown"
	}
}

func (k Kind) String() string { return k.Entity() }

// Progress is one report of a batched write.
type Progress struct {
	Finished  int
	Remaining int
	Message   string
}

// ProgressSink receives progress after every posted chunk.
type ProgressSink interface {
	Report(ctx context.Context, p Progress) error
}

// NopSink discards progress.
type NopSink struct{}

func (NopSink) Report(context.Context, Progress) error { return nil }

// Batcher posts writes in fixed-size chunks, one chunk at a time.
type Batcher struct {
	size    int
	sink    ProgressSink
	log     *logger.Logger
	metrics *metrics.Recorder
}

// NewBatcher creates a batcher. A non-positive size sends everything at once.
func NewBatcher(size int, sink ProgressSink, log *logger.Logger, m *metrics.Recorder) *Batcher {
	if sink == nil {
		sink = NopSink{}
	}
	return &Batcher{size: size, sink: sink, log: log, metrics: m}
}

// Log returns the batcher's logger.
func (b *Batcher) Log() *logger.Logger {
	return b.log
}

func (b *Batcher) chunks(n int) [][2]int {
	size := b.size
	if size <= 0 || size > n {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		out = append(out, [2]int{start, end})
	}
	return out
}

// run sends items chunk by chunk. A started chunk is never interrupted; the
// caller's cancellation is only honoured between chunks. It returns every
// record the store handed back, including those of a failed chunk.
func run[T any](ctx context.Context, b *Batcher, operation string, kind Kind, items []T, send func(context.Context, []T) ([]T, error)) ([]T, error) {
	total := len(items)
	done := make([]T, 0, total)
	for _, bounds := range b.chunks(total) {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		chunk := items[bounds[0]:bounds[1]]

		start := time.Now()
		out, err := send(context.WithoutCancel(ctx), chunk)
		elapsed := time.Since(start)
		b.log.BrAPICall(operation, kind.Entity(), len(chunk), elapsed, err)
		b.metrics.ObserveBrAPI(operation, kind.Entity(), elapsed)
		done = append(done, out...)
		if err != nil {
			return done, fmt.Errorf("%s %s: %w", operation, kind.Entity(), err)
		}

		p := Progress{
			Finished:  bounds[1],
			Remaining: total - bounds[1],
			Message:   fmt.Sprintf("%s %s", operationVerb(operation), kind.Entity()),
		}
		if err := b.sink.Report(ctx, p); err != nil {
			b.log.Warn("progress report failed", "error", err)
		}
	}
	return done, nil
}

func operationVerb(operation string) string {
	switch operation {
	case brapi.OpCreate:
		return "Creating"
	case brapi.OpUpdate:
		return "Updating"
	case brapi.OpDelete:
		return "Deleting"
	default:
		return operation
	}
}

// Create posts items in chunks and returns the created records.
func Create[T any](ctx context.Context, b *Batcher, kind Kind, dao brapi.EntityDAO[T], items []T) ([]T, error) {
	return run(ctx, b, brapi.OpCreate, kind, items, dao.BatchCreate)
}

// Update puts items in chunks and returns the updated records.
func Update[T any](ctx context.Context, b *Batcher, kind Kind, dao brapi.EntityDAO[T], items []T) ([]T, error) {
	return run(ctx, b, brapi.OpUpdate, kind, items, dao.BatchUpdate)
}

// Delete removes items in chunks.
func Delete[T any](ctx context.Context, b *Batcher, kind Kind, dao brapi.EntityDAO[T], items []T) error {
	_, err := run(ctx, b, brapi.OpDelete, kind, items, func(ctx context.Context, chunk []T) ([]T, error) {
		return chunk, dao.BatchDelete(ctx, chunk)
	})
	return err
}
