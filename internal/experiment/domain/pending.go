package domain

// Lookup is an insertion-ordered map of pending objects. It has no removal:
// a key stays once a stage has populated it.
type Lookup[T any] struct {
	keys  []string
	items map[string]*PendingImportObject[T]
}

// NewLookup creates an empty lookup.
func NewLookup[T any]() *Lookup[T] {
	return &Lookup[T]{items: make(map[string]*PendingImportObject[T])}
}

// Put stores p under key. A second Put on the same key replaces the value
// but keeps the original position.
func (l *Lookup[T]) Put(key string, p *PendingImportObject[T]) {
	if _, ok := l.items[key]; !ok {
		l.keys = append(l.keys, key)
	}
	l.items[key] = p
}

// Get returns the object stored under key.
func (l *Lookup[T]) Get(key string) (*PendingImportObject[T], bool) {
	p, ok := l.items[key]
	return p, ok
}

// Has reports whether key is populated.
func (l *Lookup[T]) Has(key string) bool {
	_, ok := l.items[key]
	return ok
}

// Len returns the number of keys.
func (l *Lookup[T]) Len() int {
	return len(l.keys)
}

// Keys returns the keys in insertion order.
func (l *Lookup[T]) Keys() []string {
	out := make([]string, len(l.keys))
	copy(out, l.keys)
	return out
}

// List returns every object in insertion order.
func (l *Lookup[T]) List() []*PendingImportObject[T] {
	out := make([]*PendingImportObject[T], 0, len(l.keys))
	for _, key := range l.keys {
		out = append(out, l.items[key])
	}
	return out
}

// InState returns the objects currently in state s, in insertion order.
// The same object may be stored under several keys; it is returned once.
func (l *Lookup[T]) InState(s State) []*PendingImportObject[T] {
	seen := make(map[*PendingImportObject[T]]struct{})
	var out []*PendingImportObject[T]
	for _, key := range l.keys {
		p := l.items[key]
		if p.State != s {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Counts tallies distinct objects by state.
func (l *Lookup[T]) Counts() EntityCounts {
	var c EntityCounts
	c.New = len(l.InState(StateNew))
	c.Mutated = len(l.InState(StateMutated))
	c.Existing = len(l.InState(StateExisting))
	return c
}

// RowLinks records which pending objects one import row resolved to.
type RowLinks struct {
	Trial        string
	Location     string
	Study        string
	Unit         string
	Germplasm    string
	Observations map[string]string // column -> observation hash
}

// PendingSet owns every pending object of one import run.
type PendingSet struct {
	Trials       *Lookup[Trial]
	Locations    *Lookup[Location]
	Studies      *Lookup[Study]
	Germplasm    *Lookup[Germplasm]
	Units        *Lookup[ObservationUnit]
	UnitsByRef   *Lookup[ObservationUnit]
	Datasets     *Lookup[Dataset]
	Observations *Lookup[Observation]

	rows map[int]*RowLinks
}

// NewPendingSet creates an empty set.
func NewPendingSet() *PendingSet {
	return &PendingSet{
		Trials:       NewLookup[Trial](),
		Locations:    NewLookup[Location](),
		Studies:      NewLookup[Study](),
		Germplasm:    NewLookup[Germplasm](),
		Units:        NewLookup[ObservationUnit](),
		UnitsByRef:   NewLookup[ObservationUnit](),
		Datasets:     NewLookup[Dataset](),
		Observations: NewLookup[Observation](),
		rows:         make(map[int]*RowLinks),
	}
}

// Row returns the links of row, creating them on first use.
func (s *PendingSet) Row(index int) *RowLinks {
	links, ok := s.rows[index]
	if !ok {
		links = &RowLinks{Observations: make(map[string]string)}
		s.rows[index] = links
	}
	return links
}

// LinkedRow returns the links of row without creating them.
func (s *PendingSet) LinkedRow(index int) (*RowLinks, bool) {
	links, ok := s.rows[index]
	return links, ok
}

// Statistics summarizes the set per entity type.
func (s *PendingSet) Statistics() Statistics {
	return Statistics{
		EntityTrials:       s.Trials.Counts(),
		EntityLocations:    s.Locations.Counts(),
		EntityStudies:      s.Studies.Counts(),
		EntityGermplasm:    s.Germplasm.Counts(),
		EntityUnits:        s.Units.Counts(),
		EntityDatasets:     s.Datasets.Counts(),
		EntityObservations: s.Observations.Counts(),
	}
}
