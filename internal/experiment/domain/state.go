package domain

import "github.com/google/uuid"

// State is the lifecycle state of a pending import object.
type State string

const (
	StateExisting State = "EXISTING"
	StateNew      State = "NEW"
	StateMutated  State = "MUTATED"
)

// PendingImportObject tracks one entity from classification to commit.
// Original holds the stored value captured before the first mutation.
type PendingImportObject[T any] struct {
	State    State     `json:"state"`
	LocalID  uuid.UUID `json:"localId"`
	Remote   T         `json:"remote"`
	Original *T        `json:"-"`
}

// NewPending wraps an entity that does not exist remotely yet.
func NewPending[T any](remote T) *PendingImportObject[T] {
	return &PendingImportObject[T]{State: StateNew, LocalID: uuid.New(), Remote: remote}
}

// ExistingPending wraps an entity fetched from the remote store.
func ExistingPending[T any](remote T) *PendingImportObject[T] {
	return &PendingImportObject[T]{State: StateExisting, LocalID: uuid.New(), Remote: remote}
}

// Mutate applies fn to the remote value. The first mutation of an EXISTING
// object snapshots the stored value and moves it to MUTATED; NEW objects stay
// NEW since nothing remote needs restoring.
func (p *PendingImportObject[T]) Mutate(fn func(*T)) {
	if p.State == StateExisting {
		snapshot := p.Remote
		p.Original = &snapshot
		p.State = StateMutated
	}
	fn(&p.Remote)
}

// Restore rewinds a MUTATED object to its snapshot.
func (p *PendingImportObject[T]) Restore() {
	if p.State != StateMutated || p.Original == nil {
		return
	}
	p.Remote = *p.Original
	p.Original = nil
	p.State = StateExisting
}
