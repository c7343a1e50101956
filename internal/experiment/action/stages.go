package action

import (
	"context"

	"experiment_import_backend/internal/experiment/brapi"
	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/internal/experiment/saga"
)

// Env is what the write stages need from a workflow context.
type Env interface {
	Committing() bool
	Batcher() *Batcher
	RecordCommitted(entity string, ids ...string)
}

// Target binds one entity kind to its DAO and pending lookup.
type Target[C Env, T any] struct {
	Kind   Kind
	DAO    brapi.EntityDAO[T]
	Lookup func(C) *domain.Lookup[T]
	ID     func(*T) *string
	// Prepare copies freshly assigned parent ids onto members before posting.
	Prepare func(C)
}

// CreateStage posts every NEW member of the target and deletes them again on
// compensation.
func CreateStage[C Env, T any](name string, target Target[C, T]) saga.Stage[C] {
	return &createStage[C, T]{name: name, target: target}
}

type createStage[C Env, T any] struct {
	name    string
	target  Target[C, T]
	created []*domain.PendingImportObject[T]
	before  []T
}

func (s *createStage[C, T]) Name() string { return s.name }

func (s *createStage[C, T]) Process(ctx context.Context, c C) error {
	if !c.Committing() {
		return nil
	}
	if s.target.Prepare != nil {
		s.target.Prepare(c)
	}
	members := s.target.Lookup(c).InState(domain.StateNew)
	if len(members) == 0 {
		return nil
	}

	items := make([]T, len(members))
	for i, p := range members {
		items[i] = p.Remote
	}

	created, err := Create(ctx, c.Batcher(), s.target.Kind, s.target.DAO, items)
	for i := range min(len(created), len(members)) {
		p := members[i]
		s.before = append(s.before, p.Remote)
		*s.target.ID(&p.Remote) = *s.target.ID(&created[i])
		s.created = append(s.created, p)
		c.RecordCommitted(s.target.Kind.Entity(), *s.target.ID(&p.Remote))
	}
	return err
}

func (s *createStage[C, T]) Compensate(ctx context.Context, c C, failure *saga.MiddlewareError) {
	if len(s.created) == 0 {
		return
	}
	items := make([]T, len(s.created))
	for i, p := range s.created {
		items[i] = p.Remote
	}

	err := Delete(ctx, c.Batcher(), s.target.Kind, s.target.DAO, items)
	c.Batcher().Log().Compensation(s.name, len(items), err)
	c.Batcher().metrics.Compensated(s.name, err)
	failure.RecordRollback(s.name, err)
	if err != nil {
		return
	}
	for i, p := range s.created {
		p.Remote = s.before[i]
	}
	s.created, s.before = nil, nil
}

// UpdateStage puts every MUTATED member of the target and re-puts the stored
// snapshots on compensation.
func UpdateStage[C Env, T any](name string, target Target[C, T]) saga.Stage[C] {
	return &updateStage[C, T]{name: name, target: target}
}

type updateStage[C Env, T any] struct {
	name    string
	target  Target[C, T]
	updated []*domain.PendingImportObject[T]
}

func (s *updateStage[C, T]) Name() string { return s.name }

func (s *updateStage[C, T]) Process(ctx context.Context, c C) error {
	if !c.Committing() {
		return nil
	}
	if s.target.Prepare != nil {
		s.target.Prepare(c)
	}
	members := s.target.Lookup(c).InState(domain.StateMutated)
	if len(members) == 0 {
		return nil
	}

	items := make([]T, len(members))
	for i, p := range members {
		items[i] = p.Remote
	}

	updated, err := Update(ctx, c.Batcher(), s.target.Kind, s.target.DAO, items)
	n := min(len(updated), len(members))
	for _, p := range members[:n] {
		s.updated = append(s.updated, p)
		c.RecordCommitted(s.target.Kind.Entity(), *s.target.ID(&p.Remote))
	}
	return err
}

func (s *updateStage[C, T]) Compensate(ctx context.Context, c C, failure *saga.MiddlewareError) {
	if len(s.updated) == 0 {
		return
	}
	var originals []T
	for _, p := range s.updated {
		if p.Original != nil {
			originals = append(originals, *p.Original)
		}
	}

	_, err := Update(ctx, c.Batcher(), s.target.Kind, s.target.DAO, originals)
	c.Batcher().Log().Compensation(s.name, len(originals), err)
	c.Batcher().metrics.Compensated(s.name, err)
	failure.RecordRollback(s.name, err)
	if err != nil {
		return
	}
	for _, p := range s.updated {
		p.Restore()
	}
	s.updated = nil
}
