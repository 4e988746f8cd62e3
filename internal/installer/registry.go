package installer

import (
	"fmt"
	"slices"
	"sync"

	"methodtrace/internal/dispatch"
	"methodtrace/internal/metadata"
)

// State is the install state of one method.
type State int

const (
	Uninstalled State = iota
	Installing
	Installed
	Failed
)

func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// record is the install state of one method. Its fields are guarded by mu;
// transitions happen with mu held, so one installer or uninstaller works on
// a method at a time.
type record struct {
	mu         sync.Mutex
	target     metadata.Token
	state      State
	original   *dispatch.Target
	trampoline *dispatch.Target
	err        error

	// removed is set once the record left the registry. A goroutine that
	// picked the record up before that has to fetch a fresh one.
	removed bool
}

// Registry keeps exactly one record per method token.
type Registry struct {
	mu      sync.Mutex
	records map[metadata.Token]*record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[metadata.Token]*record)}
}

// acquire returns the record of token, creating it on first use.
func (r *Registry) acquire(token metadata.Token) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, found := r.records[token]
	if !found {
		rec = &record{target: token}
		r.records[token] = rec
	}
	return rec
}

func (r *Registry) lookup(token metadata.Token) (*record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, found := r.records[token]
	return rec, found
}

// remove drops rec. The caller holds rec.mu.
func (r *Registry) remove(rec *record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records[rec.target] == rec {
		delete(r.records, rec.target)
	}
	rec.removed = true
}

// Len returns the number of records, whatever their state.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// snapshot returns the records sorted by token.
func (r *Registry) snapshot() []*record {
	r.mu.Lock()
	records := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	r.mu.Unlock()

	slices.SortFunc(records, func(a, b *record) int {
		return int(int64(a.target.Raw()) - int64(b.target.Raw()))
	})
	return records
}
