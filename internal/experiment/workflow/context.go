// Package workflow assembles the reconciliation steps and write stages into
// the saga chains of each import workflow.
package workflow

import (
	"maps"
	"slices"

	"experiment_import_backend/internal/experiment/action"
	"experiment_import_backend/internal/experiment/reconcile"

	"github.com/google/uuid"
)

// ImportContext is the state one chain run threads through its stages. It is
// owned by a single run and never shared.
type ImportContext struct {
	*reconcile.Session
	ImportID uuid.UUID

	batcher   *action.Batcher
	committed map[string][]string
}

// NewImportContext wraps a reconciliation session for one run.
func NewImportContext(importID uuid.UUID, session *reconcile.Session, batcher *action.Batcher) *ImportContext {
	return &ImportContext{
		Session:   session,
		ImportID:  importID,
		batcher:   batcher,
		committed: make(map[string][]string),
	}
}

// Committing reports whether write stages should reach the remote store.
func (c *ImportContext) Committing() bool { return c.Commit }

// Batcher returns the batcher used for remote writes.
func (c *ImportContext) Batcher() *action.Batcher { return c.batcher }

// RecordCommitted notes remote ids written during the run.
func (c *ImportContext) RecordCommitted(entity string, ids ...string) {
	c.committed[entity] = append(c.committed[entity], ids...)
}

// Committed returns a copy of the written ids by entity.
func (c *ImportContext) Committed() map[string][]string {
	out := make(map[string][]string, len(c.committed))
	for _, entity := range slices.Sorted(maps.Keys(c.committed)) {
		out[entity] = slices.Clone(c.committed[entity])
	}
	return out
}

var _ action.Env = (*ImportContext)(nil)
