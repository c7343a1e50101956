// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"experiment_import_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Publisher   = events.Publisher
	Subscriber  = events.Subscriber
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = events.NewInMemoryBus
)

// =============================================================================
// Experiment Import Events
// =============================================================================

// Import outcomes carried by ExperimentImportFinished.
const (
	ImportOutcomeSuccess    = "success"
	ImportOutcomeValidation = "validation"
	ImportOutcomeFailed     = "failed"
)

// ExperimentImportFinished is published once per import run, preview or commit.
type ExperimentImportFinished struct {
	BaseEvent
	ImportID     uuid.UUID      `json:"importId"`
	ProgramID    string         `json:"programId"`
	UserID       string         `json:"userId"`
	Workflow     string         `json:"workflow"`
	Commit       bool           `json:"commit"`
	Outcome      string         `json:"outcome"`
	Message      string         `json:"message,omitempty"`
	CreatedCount map[string]int `json:"createdCount,omitempty"`
}

func (e ExperimentImportFinished) EventName() string { return "experiment.import.finished" }

// ExperimentImportCommitRequested asks the experiment module to run a queued
// commit. The import record already exists with status queued.
type ExperimentImportCommitRequested struct {
	BaseEvent
	ImportID           uuid.UUID           `json:"importId"`
	ProgramID          string              `json:"programId"`
	UserID             uuid.UUID           `json:"userId"`
	Workflow           string              `json:"workflow"`
	OverwritePermitted bool                `json:"overwritePermitted"`
	OverwriteReason    string              `json:"overwriteReason,omitempty"`
	Headers            []string            `json:"headers"`
	Rows               []map[string]string `json:"rows"`
}

func (e ExperimentImportCommitRequested) EventName() string {
	return "experiment.import.commit_requested"
}
